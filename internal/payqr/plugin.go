// Package payqr is the payment QR extension: it resolves a configured image
// once and exposes the send_payment_qr agent tool that delivers it.
package payqr

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/stellarlinkco/payqr/internal/config"
	"github.com/stellarlinkco/payqr/internal/plugin"
)

const (
	PluginID      = "payqr"
	PluginVersion = "1.0.0"

	// ArgConfig is the PluginArgs key holding a config.PayQRConfig.
	ArgConfig = "config"
)

func PluginDefinition() plugin.Definition {
	return plugin.Definition{
		ID:          PluginID,
		Name:        "Payment QR",
		Author:      "payqr",
		Description: "Sends the configured payment QR code when the model decides it is out of money",
		Version:     PluginVersion,
	}
}

// State is the immutable result of resolving the configuration. A reload
// builds a new State; an existing one is never modified.
type State struct {
	RawPath string
	// QRPath is absolute and existed at resolution time; empty if unresolved.
	QRPath  string
	Caption string
}

// Configured reports whether a QR image was resolved.
func (s *State) Configured() bool {
	return s != nil && s.QRPath != ""
}

// Plugin is the extension instance. It owns the resolved State and the tool
// it registers holds a direct reference back to it.
type Plugin struct {
	handle plugin.Handle
	log    logrus.FieldLogger
	state  atomic.Pointer[State]
	tool   *SendPaymentQRTool
}

var (
	_ plugin.InitPlugin   = (*Plugin)(nil)
	_ plugin.ReloadPlugin = (*Plugin)(nil)
	_ StateSource         = (*Plugin)(nil)
)

// Factory builds the extension and resolves its configured QR path once.
func Factory(args plugin.PluginArgs, handle plugin.Handle) (plugin.Plugin, error) {
	return New(args, handle)
}

func New(args plugin.PluginArgs, handle plugin.Handle) (*Plugin, error) {
	if handle == nil {
		handle = plugin.NewHandle(plugin.HandleConfig{})
	}
	cfg, err := configFromArgs(args)
	if err != nil {
		return nil, err
	}
	p := &Plugin{handle: handle, log: handle.Logger()}
	p.state.Store(p.resolve(cfg))
	p.tool = NewSendPaymentQRTool(p, handle.Messenger(), p.log)
	return p, nil
}

func (p *Plugin) Name() string { return PluginID }

// Init registers the send_payment_qr tool.
func (p *Plugin) Init(api plugin.PluginAPI) error {
	return api.RegisterTool(p.tool)
}

// Reload re-resolves from scratch and replaces the state wholesale.
func (p *Plugin) Reload(args plugin.PluginArgs) error {
	cfg, err := configFromArgs(args)
	if err != nil {
		return err
	}
	p.state.Store(p.resolve(cfg))
	return nil
}

// State returns the current resolved state. Never nil after New.
func (p *Plugin) State() *State {
	return p.state.Load()
}

// Tool returns the tool instance registered by Init.
func (p *Plugin) Tool() *SendPaymentQRTool {
	return p.tool
}

// Resolver returns the resolver the extension uses against the host.
func (p *Plugin) Resolver() Resolver {
	return Resolver{ExtensionID: PluginID, DataDir: p.handle.DataDir}
}

func (p *Plugin) resolve(cfg config.PayQRConfig) *State {
	caption := cfg.Caption
	if caption == "" {
		caption = config.DefaultCaption
	}
	st := &State{RawPath: cfg.RawPath(), Caption: caption}

	if !cfg.Enabled {
		p.log.Infof("[payqr] disabled by config")
		return st
	}
	if st.RawPath == "" {
		p.log.Warnf("[payqr] no payment QR configured")
		return st
	}
	if path, ok := p.Resolver().Resolve(st.RawPath); ok {
		st.QRPath = path
		p.log.Infof("[payqr] payment QR path: %s", path)
	} else {
		p.log.Warnf("[payqr] payment QR %q not found in any storage root", st.RawPath)
	}
	return st
}

func configFromArgs(args plugin.PluginArgs) (config.PayQRConfig, error) {
	v, ok := args[ArgConfig]
	if !ok || v == nil {
		return config.DefaultConfig().PayQR, nil
	}
	switch cfg := v.(type) {
	case config.PayQRConfig:
		return cfg, nil
	case *config.PayQRConfig:
		if cfg == nil {
			return config.DefaultConfig().PayQR, nil
		}
		return *cfg, nil
	default:
		return config.PayQRConfig{}, fmt.Errorf("payqr: %s arg has type %T, want config.PayQRConfig", ArgConfig, v)
	}
}
