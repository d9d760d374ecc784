package imessage

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idlehands/idlehands/pkg/agent"
	"github.com/idlehands/idlehands/pkg/channels"
	"github.com/idlehands/idlehands/pkg/pairing"
	"github.com/idlehands/idlehands/pkg/runtime"
)

type fakeBridge struct {
	mu       sync.Mutex
	messages chan Message
	sent     []string
	closed   bool
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{messages: make(chan Message, 8)}
}

func (f *fakeBridge) Listen(context.Context) (<-chan Message, error) { return f.messages, nil }

func (f *fakeBridge) Send(_ context.Context, recipient, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recipient+": "+text)
	return nil
}

func (f *fakeBridge) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBridge) lastSent(t *testing.T) string {
	t.Helper()
	var out string
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.sent) == 0 {
			return false
		}
		out = f.sent[len(f.sent)-1]
		return true
	}, time.Second, 10*time.Millisecond)
	return out
}

type captureAPI struct {
	channel channels.Channel
}

func (a *captureAPI) Runtime() *runtime.Handle {
	return runtime.NewHandle("http://localhost:1234", "lmstudio", "m")
}
func (a *captureAPI) RegisterChannel(ch channels.Channel) error {
	a.channel = ch
	return nil
}
func (a *captureAPI) RegisterTool(agent.Tool) error { return nil }
func (a *captureAPI) Logger() zerolog.Logger        { return zerolog.Nop() }

func newTestPairs(t *testing.T, seed ...string) *pairing.Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := pairing.NewManager(pairing.Options{
		Channel:       "imessage",
		PendingPath:   filepath.Join(dir, "pending.json"),
		AllowlistPath: filepath.Join(dir, "allowlist.json"),
		Allowlist:     seed,
	})
	require.NoError(t, err)
	return m
}

func startChannel(t *testing.T, p *Plugin, dispatch channels.DispatchFunc) (channels.Channel, error) {
	t.Helper()
	api := &captureAPI{}
	require.NoError(t, p.Register(api))
	require.NotNil(t, api.channel)
	return api.channel, api.channel.Start(context.Background(), dispatch)
}

func noopDispatch(context.Context, channels.InboundMessage) (string, error) { return "", nil }

func TestStartRejectsBlankCLIPath(t *testing.T) {
	p := NewWithConfig(
		map[string]interface{}{"cliPath": "  "},
		WithPairingManager(newTestPairs(t)),
	)
	_, err := startChannel(t, p, noopDispatch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cliPath is required")
}

func TestUnknownSenderGetsApprovalHintNotAgentReply(t *testing.T) {
	bridge := newFakeBridge()
	pairs := newTestPairs(t)
	p := NewWithConfig(
		map[string]interface{}{"cliPath": "/usr/local/bin/imsg"},
		WithBridgeFactory(func(string) Bridge { return bridge }),
		WithPairingManager(pairs),
	)

	dispatched := make(chan struct{}, 1)
	ch, err := startChannel(t, p, func(context.Context, channels.InboundMessage) (string, error) {
		dispatched <- struct{}{}
		return "agent reply", nil
	})
	require.NoError(t, err)
	defer ch.Stop(context.Background())

	bridge.messages <- Message{Sender: "+15551234567", Text: "hello?"}

	sent := bridge.lastSent(t)
	assert.True(t, strings.HasPrefix(sent, "+15551234567: Approve via: idlehands pairing list imessage / idlehands pairing approve imessage "), sent)

	select {
	case <-dispatched:
		t.Fatal("unknown sender must not reach the agent")
	case <-time.After(100 * time.Millisecond):
	}
	require.Len(t, pairs.ListPending(), 1)
}

func TestApprovedSenderReachesAgent(t *testing.T) {
	bridge := newFakeBridge()
	pairs := newTestPairs(t)
	p := NewWithConfig(
		map[string]interface{}{"cliPath": "/usr/local/bin/imsg"},
		WithBridgeFactory(func(string) Bridge { return bridge }),
		WithPairingManager(pairs),
	)

	var got channels.InboundMessage
	done := make(chan struct{})
	ch, err := startChannel(t, p, func(_ context.Context, msg channels.InboundMessage) (string, error) {
		got = msg
		close(done)
		return "agent reply", nil
	})
	require.NoError(t, err)
	defer ch.Stop(context.Background())

	// First contact yields a code; approve it out of band.
	bridge.messages <- Message{Sender: "+15551234567", Text: "hello?"}
	bridge.lastSent(t)
	pending := pairs.ListPending()
	require.Len(t, pending, 1)
	_, err = pairs.Approve(pending[0].Code)
	require.NoError(t, err)

	bridge.messages <- Message{Sender: "+15551234567", Text: "now?"}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("approved sender did not reach the agent")
	}
	assert.Equal(t, "imessage:default", got.SessionKey().String())
	assert.Equal(t, "now?", got.Content)
	assert.Contains(t, bridge.lastSent(t), "agent reply")
}

func TestSeededSenderSkipsPairing(t *testing.T) {
	bridge := newFakeBridge()
	p := NewWithConfig(
		map[string]interface{}{"cliPath": "/usr/local/bin/imsg"},
		WithBridgeFactory(func(string) Bridge { return bridge }),
		WithPairingManager(newTestPairs(t, "owner@example.com")),
	)

	done := make(chan struct{})
	ch, err := startChannel(t, p, func(context.Context, channels.InboundMessage) (string, error) {
		close(done)
		return "hi", nil
	})
	require.NoError(t, err)
	defer ch.Stop(context.Background())

	bridge.messages <- Message{Sender: "owner@example.com", Text: "status?"}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("seeded sender did not reach the agent")
	}
}
