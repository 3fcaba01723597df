package engine_test

import (
	"encoding/json"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twclone/internal/consumer"
	"twclone/internal/engine"
	"twclone/internal/repo"
)

type fakeRepo struct {
	events  []repo.Event
	offsets map[string]repo.Offset
}

func (f *fakeRepo) MaxEventID() (int64, error) {
	var max int64
	for _, e := range f.events {
		if e.ID > max {
			max = e.ID
		}
	}
	return max, nil
}

func (f *fakeRepo) LoadOffset(consumerKey string) (repo.Offset, error) {
	return f.offsets[consumerKey], nil
}

func (f *fakeRepo) SelectEvents(afterID int64, onlyTypes []string, limit int) ([]repo.Event, error) {
	var out []repo.Event
	for _, e := range f.events {
		if e.ID > afterID {
			out = append(out, e)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) ApplyBatch(consumerKey string, newOffset repo.Offset, quarantined map[int64]string) error {
	f.offsets[consumerKey] = newOffset
	return nil
}

func TestShutdownQuiescenceExitsPromptly(t *testing.T) {
	var fr = &fakeRepo{offsets: make(map[string]repo.Offset), events: []repo.Event{
		{ID: 1, TS: 1, Type: "noop", Payload: json.RawMessage(`{}`)},
	}}
	var c = consumer.New(fr, consumer.Config{ConsumerKey: "engine", BatchSize: 10}, map[string]consumer.Handler{
		"noop": func(e repo.Event) error { return nil },
	})

	var r, w = io.Pipe()
	var closed int32

	var s = &engine.Scheduler{
		Consumer:     c,
		TickInterval: 10 * time.Millisecond,
		Shutdown:     r,
		OnClose:      func() error { atomic.StoreInt32(&closed, 1); return nil },
	}

	var done = make(chan int, 1)
	go func() { done <- s.Run() }()

	w.Close() // readable via EOF -> triggers shutdown

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not shut down within grace period")
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&closed))
}

func TestTickRunsCronAlongsideConsumer(t *testing.T) {
	var fr = &fakeRepo{offsets: make(map[string]repo.Offset)}
	var c = consumer.New(fr, consumer.Config{ConsumerKey: "engine", BatchSize: 10}, map[string]consumer.Handler{})

	var cronCalls int32
	var r, w = io.Pipe()

	var s = &engine.Scheduler{
		Consumer:     c,
		TickInterval: 5 * time.Millisecond,
		Shutdown:     r,
		Cron:         func(now time.Time) error { atomic.AddInt32(&cronCalls, 1); return nil },
	}

	var done = make(chan int, 1)
	go func() { done <- s.Run() }()

	time.Sleep(30 * time.Millisecond)
	w.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not shut down")
	}

	require.Greater(t, atomic.LoadInt32(&cronCalls), int32(0))
}
