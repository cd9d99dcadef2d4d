package plugin

import (
	"fmt"
	"sync"

	"github.com/cexll/agentsdk-go/pkg/tool"
)

// Registry holds loaded plugins and the tools they registered.
// All methods are safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	plugins     map[string]Plugin
	pluginOrder []string
	definitions map[string]Definition

	tools      map[string]tool.Tool
	toolOrder  []string
	toolOwners map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		plugins:     make(map[string]Plugin),
		definitions: make(map[string]Definition),
		tools:       make(map[string]tool.Tool),
		toolOwners:  make(map[string]string),
	}
}

func (r *Registry) registerPlugin(def Definition, p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[def.ID]; exists {
		return fmt.Errorf("plugin %q is already registered", def.ID)
	}
	r.plugins[def.ID] = p
	r.definitions[def.ID] = def
	r.pluginOrder = append(r.pluginOrder, def.ID)
	return nil
}

func (r *Registry) addTool(pluginID string, t tool.Tool) error {
	if t == nil {
		return fmt.Errorf("tool is nil")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, exists := r.toolOwners[name]; exists {
		return fmt.Errorf("tool %s already registered by plugin %s", name, owner)
	}
	r.tools[name] = t
	r.toolOwners[name] = pluginID
	r.toolOrder = append(r.toolOrder, name)
	return nil
}

// GetPlugin returns a loaded plugin by ID.
func (r *Registry) GetPlugin(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	return p, ok
}

// Definition returns the metadata a plugin was registered with.
func (r *Registry) Definition(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[id]
	return def, ok
}

// Tools returns registered tools in registration order.
func (r *Registry) Tools() []tool.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]tool.Tool, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		out = append(out, r.tools[name])
	}
	return out
}

// ToolOwner returns the ID of the plugin that registered the named tool.
func (r *Registry) ToolOwner(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.toolOwners[name]
	return owner, ok
}

// PluginIDs returns loaded plugin IDs in registration order.
func (r *Registry) PluginIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.pluginOrder))
	copy(out, r.pluginOrder)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}
