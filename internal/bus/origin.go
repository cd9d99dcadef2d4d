package bus

import (
	"context"
	"fmt"
	"strings"
)

// Origin identifies a conversation endpoint: the channel a message came in
// on and the chat inside that channel. Its string form is "channel:chatID".
type Origin struct {
	Channel string
	ChatID  string
}

func (o Origin) String() string {
	return o.Channel + ":" + o.ChatID
}

// IsZero reports whether o names no conversation.
func (o Origin) IsZero() bool {
	return o.Channel == "" && o.ChatID == ""
}

// ParseOrigin parses the "channel:chatID" form. The chat ID may itself
// contain colons.
func ParseOrigin(s string) (Origin, error) {
	channel, chatID, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || channel == "" || chatID == "" {
		return Origin{}, fmt.Errorf("invalid origin %q, want channel:chatID", s)
	}
	return Origin{Channel: channel, ChatID: chatID}, nil
}

type originKey struct{}

// WithOrigin attaches the conversation that triggered an agent run to ctx so
// tools executed during that run can reply to it.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFromContext returns the origin stored by WithOrigin.
func OriginFromContext(ctx context.Context) (Origin, bool) {
	if ctx == nil {
		return Origin{}, false
	}
	o, ok := ctx.Value(originKey{}).(Origin)
	if !ok || o.IsZero() {
		return Origin{}, false
	}
	return o, true
}
