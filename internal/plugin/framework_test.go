package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/cexll/agentsdk-go/pkg/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/payqr/internal/bus"
)

type stubTool struct{ name string }

func (s stubTool) Name() string             { return s.name }
func (s stubTool) Description() string      { return "stub" }
func (s stubTool) Schema() *tool.JSONSchema { return nil }
func (s stubTool) Execute(context.Context, map[string]interface{}) (*tool.ToolResult, error) {
	return &tool.ToolResult{Success: true, Output: s.name}, nil
}

type stubPlugin struct {
	id      string
	tools   []string
	reloads []PluginArgs
	initErr error
}

func (p *stubPlugin) Name() string { return p.id }

func (p *stubPlugin) Init(api PluginAPI) error {
	if p.initErr != nil {
		return p.initErr
	}
	for _, name := range p.tools {
		if err := api.RegisterTool(stubTool{name: name}); err != nil {
			return err
		}
	}
	return nil
}

func (p *stubPlugin) Reload(args PluginArgs) error {
	p.reloads = append(p.reloads, args)
	return nil
}

type bareplugin struct{}

func (bareplugin) Name() string { return "bare" }

func factoryFor(p Plugin) PluginFactory {
	return func(PluginArgs, Handle) (Plugin, error) { return p, nil }
}

func TestFramework_InitRegistersTools(t *testing.T) {
	f := NewFramework(nil)
	a := &stubPlugin{id: "a", tools: []string{"tool_a1", "tool_a2"}}
	b := &stubPlugin{id: "b", tools: []string{"tool_b"}}

	require.NoError(t, f.RegisterFactory(Definition{ID: "a", Version: "1.0.0"}, factoryFor(a), nil))
	require.NoError(t, f.RegisterFactory(Definition{ID: "b", Version: "1.0.0"}, factoryFor(b), nil))
	require.NoError(t, f.Init())

	var names []string
	for _, tl := range f.Tools() {
		names = append(names, tl.Name())
	}
	assert.Equal(t, []string{"tool_a1", "tool_a2", "tool_b"}, names)
	assert.Equal(t, []string{"a", "b"}, f.Registry().PluginIDs())
	assert.Equal(t, []Plugin{a, b}, f.Plugins())

	owner, ok := f.Registry().ToolOwner("tool_b")
	require.True(t, ok)
	assert.Equal(t, "b", owner)

	def, ok := f.Registry().Definition("b")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", def.Version)
	_, ok = f.Registry().Definition("missing")
	assert.False(t, ok)
}

func TestFramework_FactoryReceivesArgsAndHandle(t *testing.T) {
	handle := NewHandle(HandleConfig{DataDir: func() (string, error) { return "/data", nil }})
	f := NewFramework(handle)

	var gotArgs PluginArgs
	var gotHandle Handle
	require.NoError(t, f.RegisterFactory(Definition{ID: "x"}, func(args PluginArgs, h Handle) (Plugin, error) {
		gotArgs, gotHandle = args, h
		return &stubPlugin{id: "x"}, nil
	}, PluginArgs{"config": 42}))
	require.NoError(t, f.Init())

	assert.Equal(t, 42, gotArgs["config"])
	dir, err := gotHandle.DataDir()
	require.NoError(t, err)
	assert.Equal(t, "/data", dir)
}

func TestFramework_DuplicateToolFails(t *testing.T) {
	f := NewFramework(nil)
	require.NoError(t, f.RegisterFactory(Definition{ID: "a"}, factoryFor(&stubPlugin{id: "a", tools: []string{"dup"}}), nil))
	require.NoError(t, f.RegisterFactory(Definition{ID: "b"}, factoryFor(&stubPlugin{id: "b", tools: []string{"dup"}}), nil))

	err := f.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestFramework_RegisterFactoryValidation(t *testing.T) {
	f := NewFramework(nil)
	assert.Error(t, f.RegisterFactory(Definition{}, factoryFor(bareplugin{}), nil))
	assert.Error(t, f.RegisterFactory(Definition{ID: "x"}, nil, nil))

	require.NoError(t, f.RegisterFactory(Definition{ID: "x"}, factoryFor(bareplugin{}), nil))
	assert.Error(t, f.RegisterFactory(Definition{ID: "x"}, factoryFor(bareplugin{}), nil))

	require.NoError(t, f.Init())
	assert.Error(t, f.Init(), "second Init must fail")
	assert.Error(t, f.RegisterFactory(Definition{ID: "late"}, factoryFor(bareplugin{}), nil))
}

func TestFramework_FactoryAndInitErrors(t *testing.T) {
	boom := errors.New("boom")

	f := NewFramework(nil)
	require.NoError(t, f.RegisterFactory(Definition{ID: "bad"}, func(PluginArgs, Handle) (Plugin, error) {
		return nil, boom
	}, nil))
	assert.ErrorIs(t, f.Init(), boom)

	f = NewFramework(nil)
	require.NoError(t, f.RegisterFactory(Definition{ID: "bad"}, factoryFor(&stubPlugin{id: "bad", initErr: boom}), nil))
	assert.ErrorIs(t, f.Init(), boom)
}

func TestFramework_Reload(t *testing.T) {
	f := NewFramework(nil)
	p := &stubPlugin{id: "r"}
	require.NoError(t, f.RegisterFactory(Definition{ID: "r"}, factoryFor(p), nil))
	require.NoError(t, f.RegisterFactory(Definition{ID: "bare"}, factoryFor(bareplugin{}), nil))
	require.NoError(t, f.Init())

	require.NoError(t, f.Reload("r", PluginArgs{"v": 2}))
	require.Len(t, p.reloads, 1)
	assert.Equal(t, 2, p.reloads[0]["v"])

	assert.NoError(t, f.Reload("bare", nil), "plugins without reload support are left alone")
	assert.Error(t, f.Reload("missing", nil))
}

func TestHandle_Defaults(t *testing.T) {
	h := NewHandle(HandleConfig{})
	_, err := h.DataDir()
	assert.ErrorIs(t, err, ErrNoDataDir)
	assert.NotNil(t, h.Logger())
	assert.Nil(t, h.Messenger())
}

func TestMessengerFunc(t *testing.T) {
	var got bus.Origin
	m := MessengerFunc(func(_ context.Context, origin bus.Origin, msg Message) error {
		got = origin
		return nil
	})
	origin := bus.Origin{Channel: "telegram", ChatID: "1"}
	require.NoError(t, m.SendMessage(context.Background(), origin, Message{Text: "hi"}))
	assert.Equal(t, origin, got)
}
