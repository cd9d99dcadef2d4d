// Package gateway wires channels, the agent runtime, extensions and the
// scheduler into one long-running process.
package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/stellarlinkco/payqr/internal/bus"
	"github.com/stellarlinkco/payqr/internal/channel"
	"github.com/stellarlinkco/payqr/internal/config"
	"github.com/stellarlinkco/payqr/internal/cron"
	"github.com/stellarlinkco/payqr/internal/payqr"
	"github.com/stellarlinkco/payqr/internal/plugin"
)

const agentErrorReply = "Sorry, I encountered an error processing your message."

type Options struct {
	RuntimeFactory RuntimeFactory
	SignalChan     chan os.Signal
	// ConfigPath is watched for changes while running. Empty disables reload.
	ConfigPath string
}

type Gateway struct {
	mu  sync.RWMutex
	cfg *config.Config

	bus        *bus.MessageBus
	runtime    Runtime
	channels   *channel.ChannelManager
	plugins    *plugin.Framework
	cron       *cron.Service
	signalChan chan os.Signal
	configPath string
}

func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{ConfigPath: config.ConfigPath()})
}

func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		signalChan: opts.SignalChan,
		configPath: opts.ConfigPath,
	}

	chMgr, err := channel.NewChannelManagerWithGateway(cfg.Channels, cfg.Gateway, g.bus)
	if err != nil {
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	g.plugins, err = NewPlugins(cfg, g.dataDir, busMessenger{out: chMgr})
	if err != nil {
		return nil, err
	}

	factory := opts.RuntimeFactory
	if factory == nil {
		factory = NewRuntime
	}
	rt, err := factory(cfg, BuildSystemPrompt(cfg.Agent.Workspace), g.plugins.Tools())
	if err != nil {
		return nil, err
	}
	g.runtime = rt

	g.cron = cron.NewService(CronStorePath(cfg))
	g.cron.OnJob = g.runJob

	return g, nil
}

// CronStorePath is where scheduled jobs are kept: <data dir>/cron/jobs.json,
// or under the config dir when no data dir can be determined.
func CronStorePath(cfg *config.Config) string {
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		dataDir = filepath.Join(config.ConfigDir(), "data")
	}
	return filepath.Join(dataDir, "cron", "jobs.json")
}

func (g *Gateway) currentConfig() *config.Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

func (g *Gateway) dataDir() (string, error) {
	return g.currentConfig().ResolveDataDir()
}

// Plugins exposes the loaded extensions.
func (g *Gateway) Plugins() *plugin.Framework {
	return g.plugins
}

// applyConfig swaps in a reloaded config and lets extensions re-resolve.
// Channels and the runtime keep their startup settings.
func (g *Gateway) applyConfig(cfg *config.Config) {
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()

	if err := g.plugins.Reload(payqr.PluginID, PayQRArgs(cfg)); err != nil {
		logrus.Warnf("[gateway] reload %s: %v", payqr.PluginID, err)
	}
}

func (g *Gateway) runAgent(ctx context.Context, prompt, sessionID string) (string, error) {
	return RunPrompt(ctx, g.runtime, prompt, sessionID)
}

func (g *Gateway) runJob(ctx context.Context, job cron.CronJob) (string, error) {
	origin := job.Payload.Origin()
	sessionID := "cron:" + job.ID
	if !origin.IsZero() {
		ctx = bus.WithOrigin(ctx, origin)
		sessionID = origin.String()
	}

	result, err := g.runAgent(ctx, job.Payload.Message, sessionID)
	if err != nil {
		return "", err
	}
	if job.Payload.Deliver && !origin.IsZero() && result != "" {
		g.bus.Outbound <- bus.OutboundMessage{
			Channel: origin.Channel,
			ChatID:  origin.ChatID,
			Content: result,
		}
	}
	return result, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	logrus.Infof("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		logrus.Warnf("[gateway] cron start warning: %v", err)
	}

	if g.configPath != "" {
		if err := config.Watch(g.configPath, g.applyConfig); err != nil {
			logrus.Warnf("[gateway] config reload disabled: %v", err)
		}
	}

	go g.processLoop(ctx)

	cfg := g.currentConfig()
	logrus.Infof("[gateway] running on %s:%d", cfg.Gateway.Host, cfg.Gateway.Port)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	logrus.Infof("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.handleInbound(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	logrus.Infof("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

	runCtx := bus.WithOrigin(ctx, msg.Origin())
	result, err := g.runAgent(runCtx, msg.Content, msg.SessionKey())
	if err != nil {
		logrus.Errorf("[gateway] agent error: %v", err)
		result = agentErrorReply
	}
	if result == "" {
		return
	}
	g.bus.Outbound <- bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: result,
	}
}

func (g *Gateway) Shutdown() error {
	if g.cron != nil {
		g.cron.Stop()
	}
	if g.channels != nil {
		_ = g.channels.StopAll()
	}
	if g.runtime != nil {
		g.runtime.Close()
	}
	logrus.Infof("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
