package channels

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idlehands/idlehands/pkg/runtime"
)

type testChannel struct {
	name       string
	startCalls int
	stopCalls  int
}

func (c *testChannel) Name() string {
	return c.name
}

func (c *testChannel) Start(_ context.Context, dispatch DispatchFunc) error {
	if dispatch == nil {
		return assert.AnError
	}
	c.startCalls++
	return nil
}

func (c *testChannel) Stop(_ context.Context) error {
	c.stopCalls++
	return nil
}

type testPlugin struct {
	desc          Descriptor
	channel       Channel
	registerCalls int
	seenRuntime   *runtime.Handle
}

func (p *testPlugin) Descriptor() Descriptor {
	return p.desc
}

func (p *testPlugin) Register(api RegisterAPI) error {
	p.registerCalls++
	p.seenRuntime = api.Runtime()
	if p.channel != nil {
		return api.RegisterChannel(p.channel)
	}
	return nil
}

func newTestRegistry(t *testing.T, dispatch DispatchFunc) *Registry {
	t.Helper()
	reg, err := NewRegistry(Config{
		Dispatch: dispatch,
		Runtime:  runtime.NewHandle("http://localhost:1234", "lmstudio", "qwen2.5-7b-instruct"),
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return reg
}

func TestRegistryRegisterStartDispatchStop(t *testing.T) {
	dispatched := 0
	reg := newTestRegistry(t, func(_ context.Context, msg InboundMessage) (string, error) {
		dispatched++
		return msg.Channel + ":" + msg.Content, nil
	})

	ch := &testChannel{name: "gateway"}
	plugin := &testPlugin{
		desc:    Descriptor{ID: "gateway", Name: "Gateway"},
		channel: ch,
	}

	require.NoError(t, reg.RegisterAll([]PluginSpec{{Plugin: plugin}}))
	assert.Equal(t, 1, plugin.registerCalls)
	assert.NotNil(t, plugin.seenRuntime)
	assert.True(t, reg.IsRegistered("gateway"))
	assert.Equal(t, []string{"gateway"}, reg.Names())

	require.NoError(t, reg.StartAll(context.Background()))
	assert.Equal(t, 1, ch.startCalls)

	reply, err := reg.Dispatch(context.Background(), InboundMessage{
		Channel: "gateway",
		Content: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "gateway:hello", reply)
	assert.Equal(t, 1, dispatched)

	require.NoError(t, reg.StopAll(context.Background()))
	assert.Equal(t, 1, ch.stopCalls)
}

func TestRegistryRejectsDuplicatePluginID(t *testing.T) {
	reg := newTestRegistry(t, nil)

	err := reg.RegisterAll([]PluginSpec{
		{Plugin: &testPlugin{desc: Descriptor{ID: "slack"}}},
		{Plugin: &testPlugin{desc: Descriptor{ID: "slack"}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistrySinglePassOnly(t *testing.T) {
	reg := newTestRegistry(t, nil)

	require.NoError(t, reg.RegisterAll([]PluginSpec{
		{Plugin: &testPlugin{desc: Descriptor{ID: "slack"}}},
	}))

	err := reg.RegisterAll([]PluginSpec{
		{Plugin: &testPlugin{desc: Descriptor{ID: "twitch"}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already performed")
}

func TestRegistryValidatesConfigSchemaBeforeRegister(t *testing.T) {
	reg := newTestRegistry(t, nil)

	schema := `{
		"type": "object",
		"required": ["botToken"],
		"properties": {"botToken": {"type": "string", "minLength": 1}}
	}`

	plugin := &testPlugin{desc: Descriptor{ID: "slack", ConfigSchema: schema}}
	err := reg.RegisterAll([]PluginSpec{{
		Plugin: plugin,
		Config: map[string]interface{}{},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config invalid")
	// Register must not run for a plugin with invalid config.
	assert.Equal(t, 0, plugin.registerCalls)
}

func TestRegistryAcceptsValidConfigSchema(t *testing.T) {
	reg := newTestRegistry(t, nil)

	schema := `{
		"type": "object",
		"required": ["botToken"],
		"properties": {"botToken": {"type": "string", "minLength": 1}}
	}`

	plugin := &testPlugin{desc: Descriptor{ID: "slack", ConfigSchema: schema}}
	require.NoError(t, reg.RegisterAll([]PluginSpec{{
		Plugin: plugin,
		Config: map[string]interface{}{"botToken": "xoxb-test"},
	}}))
	assert.Equal(t, 1, plugin.registerCalls)
}

func TestRegistryDispatchUnknownChannel(t *testing.T) {
	reg := newTestRegistry(t, func(_ context.Context, msg InboundMessage) (string, error) {
		return "", nil
	})

	_, err := reg.Dispatch(context.Background(), InboundMessage{
		Channel: "twitch",
		Content: "ping",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestRegistryStartOrderAndStopOrder(t *testing.T) {
	reg := newTestRegistry(t, nil)

	var events []string
	mk := func(name string) Plugin {
		return &orderPlugin{name: name, events: &events}
	}

	require.NoError(t, reg.RegisterAll([]PluginSpec{
		{Plugin: mk("slack")},
		{Plugin: mk("twitch")},
		{Plugin: mk("line")},
	}))
	assert.Equal(t, []string{"slack", "twitch", "line"}, reg.Names())

	require.NoError(t, reg.StartAll(context.Background()))
	require.NoError(t, reg.StopAll(context.Background()))
	assert.Equal(t, []string{
		"start:slack", "start:twitch", "start:line",
		"stop:line", "stop:twitch", "stop:slack",
	}, events)
}

type orderPlugin struct {
	name   string
	events *[]string
}

func (p *orderPlugin) Descriptor() Descriptor {
	return Descriptor{ID: p.name}
}

func (p *orderPlugin) Register(api RegisterAPI) error {
	return api.RegisterChannel(&orderChannel{name: p.name, events: p.events})
}

type orderChannel struct {
	name   string
	events *[]string
}

func (c *orderChannel) Name() string { return c.name }

func (c *orderChannel) Start(_ context.Context, _ DispatchFunc) error {
	*c.events = append(*c.events, "start:"+c.name)
	return nil
}

func (c *orderChannel) Stop(_ context.Context) error {
	*c.events = append(*c.events, "stop:"+c.name)
	return nil
}
