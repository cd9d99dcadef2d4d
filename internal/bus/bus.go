package bus

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// MessageBus decouples channels from the agent loop. Channels push to
// Inbound; the gateway pushes replies to Outbound and DispatchOutbound
// fans them out to the subscriber registered for the target channel.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize < 0 {
		bufSize = 0
	}
	return &MessageBus{
		Inbound:     make(chan InboundMessage, bufSize),
		Outbound:    make(chan OutboundMessage, bufSize),
		subscribers: make(map[string]func(OutboundMessage)),
	}
}

// SubscribeOutbound registers the handler for messages addressed to channel.
// A later subscription for the same channel replaces the earlier one.
func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = fn
}

func (b *MessageBus) subscriber(channel string) (func(OutboundMessage), bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fn, ok := b.subscribers[channel]
	return fn, ok
}

// DispatchOutbound delivers outbound messages until ctx is done.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			fn, ok := b.subscriber(msg.Channel)
			if !ok {
				logrus.Warnf("[bus] no subscriber for channel %q, dropping message to %s", msg.Channel, msg.ChatID)
				continue
			}
			fn(msg)
		case <-ctx.Done():
			return
		}
	}
}
