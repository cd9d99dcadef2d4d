package plugin

import (
	"fmt"

	"github.com/cexll/agentsdk-go/pkg/tool"
	"github.com/sirupsen/logrus"
)

// Framework instantiates plugins from registered factories and collects the
// capabilities they register.
//
// Lifecycle: RegisterFactory (any number) → Init (once) → Tools/Reload.
type Framework struct {
	registry  *Registry
	handle    Handle
	factories []registeredFactory
	inited    bool
}

type registeredFactory struct {
	definition Definition
	factory    PluginFactory
	args       PluginArgs
}

func NewFramework(handle Handle) *Framework {
	if handle == nil {
		handle = NewHandle(HandleConfig{})
	}
	return &Framework{
		registry: NewRegistry(),
		handle:   handle,
	}
}

// RegisterFactory queues a plugin for instantiation during Init.
func (f *Framework) RegisterFactory(def Definition, factory PluginFactory, args PluginArgs) error {
	if def.ID == "" {
		return fmt.Errorf("plugin definition has no id")
	}
	if factory == nil {
		return fmt.Errorf("plugin %q has no factory", def.ID)
	}
	if f.inited {
		return fmt.Errorf("plugin %q registered after init", def.ID)
	}
	for _, entry := range f.factories {
		if entry.definition.ID == def.ID {
			return fmt.Errorf("plugin factory %q is already registered", def.ID)
		}
	}
	f.factories = append(f.factories, registeredFactory{
		definition: def,
		factory:    factory,
		args:       args,
	})
	return nil
}

// Init instantiates every factory in registration order and lets each
// plugin register its capabilities.
func (f *Framework) Init() error {
	if f.inited {
		return fmt.Errorf("plugin framework already initialized")
	}
	f.inited = true
	logrus.Infof("[plugin] initializing %d plugin(s)", len(f.factories))

	for _, entry := range f.factories {
		def := entry.definition

		p, err := entry.factory(entry.args, f.handle)
		if err != nil {
			return fmt.Errorf("create plugin %q: %w", def.ID, err)
		}
		if err := f.registry.registerPlugin(def, p); err != nil {
			return err
		}
		if initP, ok := p.(InitPlugin); ok {
			if err := initP.Init(&pluginAPIImpl{registry: f.registry, pluginID: def.ID}); err != nil {
				return fmt.Errorf("plugin %q Init() failed: %w", def.ID, err)
			}
		}
		logrus.Infof("[plugin] loaded %s v%s", def.ID, def.Version)
	}

	logrus.Infof("[plugin] framework initialized: %d plugins, %d tools",
		f.registry.Len(), len(f.registry.Tools()))
	return nil
}

// Reload hands new args to a loaded plugin. Plugins that do not implement
// ReloadPlugin keep their state.
func (f *Framework) Reload(id string, args PluginArgs) error {
	p, ok := f.registry.GetPlugin(id)
	if !ok {
		return fmt.Errorf("plugin %q is not loaded", id)
	}
	rp, ok := p.(ReloadPlugin)
	if !ok {
		logrus.Debugf("[plugin] %s does not support reload", id)
		return nil
	}
	if err := rp.Reload(args); err != nil {
		return fmt.Errorf("reload plugin %q: %w", id, err)
	}
	return nil
}

// Tools returns every tool registered by loaded plugins.
func (f *Framework) Tools() []tool.Tool {
	return f.registry.Tools()
}

// Plugins returns loaded plugins in registration order.
func (f *Framework) Plugins() []Plugin {
	ids := f.registry.PluginIDs()
	out := make([]Plugin, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.registry.GetPlugin(id); ok {
			out = append(out, p)
		}
	}
	return out
}

func (f *Framework) Registry() *Registry {
	return f.registry
}

type pluginAPIImpl struct {
	registry *Registry
	pluginID string
}

var _ PluginAPI = (*pluginAPIImpl)(nil)

func (a *pluginAPIImpl) RegisterTool(t tool.Tool) error {
	return a.registry.addTool(a.pluginID, t)
}
