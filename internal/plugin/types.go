package plugin

import (
	"context"

	"github.com/cexll/agentsdk-go/pkg/tool"
	"github.com/sirupsen/logrus"

	"github.com/stellarlinkco/payqr/internal/bus"
)

// Plugin is the fundamental interface that all plugins must implement.
type Plugin interface {
	// Name returns the unique identifier of this plugin.
	Name() string
}

// InitPlugin is an optional interface for plugins that register
// capabilities, called once right after the plugin is instantiated.
type InitPlugin interface {
	Plugin

	Init(api PluginAPI) error
}

// ReloadPlugin is an optional interface for plugins that rebuild their state
// when the host configuration changes. Reload receives the same kind of args
// the factory did and must replace state wholesale.
type ReloadPlugin interface {
	Plugin

	Reload(args PluginArgs) error
}

// PluginFactory creates a plugin instance from its args and the host handle.
type PluginFactory func(args PluginArgs, handle Handle) (Plugin, error)

// PluginArgs carries configuration values into a PluginFactory.
type PluginArgs map[string]interface{}

// Definition is the static metadata for a plugin.
type Definition struct {
	ID          string
	Name        string
	Author      string
	Description string
	Version     string
}

// Handle is what plugins use to reach the host at runtime.
type Handle interface {
	// DataDir returns the host data directory. An error means the host has
	// no data directory to offer; plugins must treat that as a normal case.
	DataDir() (string, error)

	// Messenger returns the host's delivery facility.
	Messenger() Messenger

	// Logger returns the logger plugins should write to.
	Logger() logrus.FieldLogger
}

// Message is a composed outbound message: caption text plus image files.
type Message struct {
	Text   string
	Images []string
}

// Messenger delivers composed messages to a conversation.
type Messenger interface {
	SendMessage(ctx context.Context, origin bus.Origin, msg Message) error
}

// MessengerFunc adapts a function to Messenger.
type MessengerFunc func(ctx context.Context, origin bus.Origin, msg Message) error

func (f MessengerFunc) SendMessage(ctx context.Context, origin bus.Origin, msg Message) error {
	return f(ctx, origin, msg)
}

// PluginAPI is the registration interface given to plugins during Init.
type PluginAPI interface {
	// RegisterTool registers an agent-callable tool. Tool names are global;
	// registering a taken name fails.
	RegisterTool(t tool.Tool) error
}
