package mattermost

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idlehands/idlehands/pkg/agent"
	"github.com/idlehands/idlehands/pkg/channels"
	"github.com/idlehands/idlehands/pkg/runtime"
)

type fakeSource struct {
	mu      sync.Mutex
	posts   chan Post
	created []string
	closed  bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{posts: make(chan Post, 8)}
}

func (f *fakeSource) Listen(context.Context) (<-chan Post, error) { return f.posts, nil }

func (f *fakeSource) CreatePost(_ context.Context, channelID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, channelID+": "+message)
	return nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
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

func startChannel(t *testing.T, p *Plugin, dispatch channels.DispatchFunc) (channels.Channel, error) {
	t.Helper()
	api := &captureAPI{}
	require.NoError(t, p.Register(api))
	require.NotNil(t, api.channel)
	return api.channel, api.channel.Start(context.Background(), dispatch)
}

func noopDispatch(context.Context, channels.InboundMessage) (string, error) { return "", nil }

func TestStartRejectsBlankServerURL(t *testing.T) {
	p := NewWithConfig(map[string]interface{}{"serverUrl": " ", "token": "tok"})
	_, err := startChannel(t, p, noopDispatch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serverUrl is required")
}

func TestStartRejectsBlankToken(t *testing.T) {
	p := NewWithConfig(map[string]interface{}{"serverUrl": "https://chat.example.com", "token": ""})
	_, err := startChannel(t, p, noopDispatch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token is required")
}

func TestPostDispatchAndReply(t *testing.T) {
	source := newFakeSource()
	p := NewWithConfig(
		map[string]interface{}{"serverUrl": "https://chat.example.com", "token": "tok"},
		WithEventSourceFactory(func(_, _ string) EventSource { return source }),
	)

	var got channels.InboundMessage
	done := make(chan struct{})
	ch, err := startChannel(t, p, func(_ context.Context, msg channels.InboundMessage) (string, error) {
		got = msg
		close(done)
		return "ack", nil
	})
	require.NoError(t, err)
	defer ch.Stop(context.Background())

	source.posts <- Post{ChannelID: "town-square", UserID: "u1", Message: "hello"}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch was not invoked")
	}
	assert.Equal(t, "mattermost", got.Channel)
	assert.Equal(t, "mattermost:default#town-square", got.SessionKey().String())

	assert.Eventually(t, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return len(source.created) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStopClosesSource(t *testing.T) {
	source := newFakeSource()
	p := NewWithConfig(
		map[string]interface{}{"serverUrl": "https://chat.example.com", "token": "tok"},
		WithEventSourceFactory(func(_, _ string) EventSource { return source }),
	)
	ch, err := startChannel(t, p, noopDispatch)
	require.NoError(t, err)
	require.NoError(t, ch.Stop(context.Background()))

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.True(t, source.closed)
}

func TestWebsocketURLDerivation(t *testing.T) {
	s := &wsEventSource{serverURL: "https://chat.example.com"}
	u, err := s.websocketURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/api/v4/websocket", u)

	s = &wsEventSource{serverURL: "http://localhost:8065"}
	u, err = s.websocketURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8065/api/v4/websocket", u)
}
