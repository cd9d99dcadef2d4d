package gateway

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/stellarlinkco/payqr/internal/bus"
	"github.com/stellarlinkco/payqr/internal/config"
	"github.com/stellarlinkco/payqr/internal/payqr"
	"github.com/stellarlinkco/payqr/internal/plugin"
)

// PayQRArgs maps the host config onto the payqr extension's args.
func PayQRArgs(cfg *config.Config) plugin.PluginArgs {
	return plugin.PluginArgs{payqr.ArgConfig: cfg.PayQR}
}

// NewPlugins loads the built-in extensions against a host handle.
func NewPlugins(cfg *config.Config, dataDir func() (string, error), messenger plugin.Messenger) (*plugin.Framework, error) {
	fw := plugin.NewFramework(plugin.NewHandle(plugin.HandleConfig{
		DataDir:   dataDir,
		Messenger: messenger,
		Logger:    logrus.StandardLogger(),
	}))
	if err := fw.RegisterFactory(payqr.PluginDefinition(), payqr.Factory, PayQRArgs(cfg)); err != nil {
		return nil, err
	}
	if err := fw.Init(); err != nil {
		return nil, fmt.Errorf("init plugins: %w", err)
	}
	for _, id := range fw.Registry().PluginIDs() {
		if def, ok := fw.Registry().Definition(id); ok {
			logrus.Infof("[plugins] loaded %s %s (%s)", def.ID, def.Version, def.Name)
		}
	}
	return fw, nil
}

// Deliverer sends one outbound message and reports the outcome.
type Deliverer interface {
	Deliver(msg bus.OutboundMessage) error
}

// busMessenger hands extension messages straight to the channel adapter so
// delivery failures reach the caller.
type busMessenger struct {
	out Deliverer
}

func (m busMessenger) SendMessage(ctx context.Context, origin bus.Origin, msg plugin.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if origin.IsZero() {
		return fmt.Errorf("no target conversation")
	}
	return m.out.Deliver(bus.OutboundMessage{
		Channel: origin.Channel,
		ChatID:  origin.ChatID,
		Content: msg.Text,
		Media:   msg.Images,
	})
}
