package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/stellarlinkco/payqr/internal/bus"
	"github.com/stellarlinkco/payqr/internal/config"
)

// ErrUnknownChannel is returned by Deliver for a channel that is not running.
var ErrUnknownChannel = errors.New("unknown channel")

type ChannelManager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	bus      *bus.MessageBus
}

func NewChannelManager(cfg config.ChannelsConfig, b *bus.MessageBus) (*ChannelManager, error) {
	m := &ChannelManager{channels: make(map[string]Channel), bus: b}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.Register(ch)
	}
	return m, nil
}

// NewChannelManagerWithGateway also mounts the web chat, which needs the
// gateway listen address.
func NewChannelManagerWithGateway(cfg config.ChannelsConfig, gwCfg config.GatewayConfig, b *bus.MessageBus) (*ChannelManager, error) {
	m, err := NewChannelManager(cfg, b)
	if err != nil {
		return nil, err
	}
	if cfg.WebUI.Enabled {
		ch, err := NewWebUIChannel(cfg.WebUI, gwCfg, b)
		if err != nil {
			return nil, fmt.Errorf("init webui channel: %w", err)
		}
		m.Register(ch)
	}
	return m, nil
}

// Register adds ch and routes bus replies addressed to it.
func (m *ChannelManager) Register(ch Channel) {
	m.mu.Lock()
	m.channels[ch.Name()] = ch
	m.mu.Unlock()

	if m.bus == nil {
		return
	}
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			logrus.Errorf("[channel-mgr] send to %s failed: %v", ch.Name(), err)
		}
	})
}

func (m *ChannelManager) get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Deliver sends msg right away and reports the adapter's error, unlike the
// fire-and-forget bus path.
func (m *ChannelManager) Deliver(msg bus.OutboundMessage) error {
	ch, ok := m.get(msg.Channel)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownChannel, msg.Channel)
	}
	return ch.Send(msg)
}

func (m *ChannelManager) snapshot() map[string]Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		out[name] = ch
	}
	return out
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	channels := m.snapshot()
	var wg sync.WaitGroup
	errCh := make(chan error, len(channels))

	for name, ch := range channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			logrus.Infof("[channel-mgr] starting %s", name)
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (m *ChannelManager) StopAll() error {
	for name, ch := range m.snapshot() {
		logrus.Infof("[channel-mgr] stopping %s", name)
		if err := ch.Stop(); err != nil {
			logrus.Warnf("[channel-mgr] error stopping %s: %v", name, err)
		}
	}
	return nil
}

// EnabledChannels returns the registered channel names, sorted.
func (m *ChannelManager) EnabledChannels() []string {
	channels := m.snapshot()
	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
