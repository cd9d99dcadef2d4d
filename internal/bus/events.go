package bus

import "time"

type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Media     []string
	Metadata  map[string]any
}

func (m *InboundMessage) SessionKey() string {
	return m.Origin().String()
}

// Origin returns the conversation this message arrived from.
func (m *InboundMessage) Origin() Origin {
	return Origin{Channel: m.Channel, ChatID: m.ChatID}
}

type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Media    []string // local file paths, delivered as images
	Metadata map[string]any
}
