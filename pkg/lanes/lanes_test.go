package lanes

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueSerializesSameLane(t *testing.T) {
	queue := New(zerolog.Nop())
	defer queue.Close()

	var concurrent, peak int32
	task := func(ctx context.Context) (interface{}, error) {
		now := atomic.AddInt32(&concurrent, 1)
		if now > atomic.LoadInt32(&peak) {
			atomic.StoreInt32(&peak, now)
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := queue.Enqueue(context.Background(), "session:slack:default", task)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestQueueDistinctLanesRunConcurrently(t *testing.T) {
	queue := New(zerolog.Nop())
	defer queue.Close()

	started := make(chan string, 2)
	release := make(chan struct{})
	task := func(lane string) Task {
		return func(ctx context.Context) (interface{}, error) {
			started <- lane
			<-release
			return lane, nil
		}
	}

	var wg sync.WaitGroup
	for _, lane := range []string{"session:slack:a", "session:twitch:b"} {
		lane := lane
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = queue.Enqueue(context.Background(), lane, task(lane))
		}()
	}

	// Both tasks must be in flight before either is released.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("lanes blocked each other")
		}
	}
	close(release)
	wg.Wait()
}

func TestQueueFIFOWithinLane(t *testing.T) {
	queue := New(zerolog.Nop())
	defer queue.Close()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = queue.Enqueue(context.Background(), "session:line:u1", func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
		}()
		// Stagger enqueues so arrival order is deterministic.
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueueResetFailsQueuedTasks(t *testing.T) {
	queue := New(zerolog.Nop())
	defer queue.Close()

	blocking := make(chan struct{})
	running := make(chan struct{})
	go func() {
		_, _ = queue.Enqueue(context.Background(), "session:imessage:x", func(ctx context.Context) (interface{}, error) {
			close(running)
			<-blocking
			return nil, nil
		})
	}()
	<-running

	queuedErr := make(chan error, 1)
	go func() {
		_, err := queue.Enqueue(context.Background(), "session:imessage:x", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		})
		queuedErr <- err
	}()

	require.Eventually(t, func() bool {
		return queue.QueueSize("session:imessage:x") == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancelled := queue.Reset("session:imessage:x")
	assert.Equal(t, 1, cancelled)

	select {
	case err := <-queuedErr:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lane reset")
	case <-time.After(2 * time.Second):
		t.Fatal("queued task was not failed by reset")
	}

	close(blocking)
}

func TestQueueReturnsTaskResult(t *testing.T) {
	queue := New(zerolog.Nop())
	defer queue.Close()

	value, err := queue.Enqueue(context.Background(), "session:gateway:default", func(ctx context.Context) (interface{}, error) {
		return "reply", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "reply", value)
}
