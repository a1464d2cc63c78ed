package datalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.jpl.nasa.gov/bdube/iramp/eventbus"
	"github.jpl.nasa.gov/bdube/iramp/ramp"
)

type source struct {
	ch       chan *ramp.Recording
	mu       sync.Mutex
	released []*ramp.Recording
}

func newSource(n int) *source {
	return &source{ch: make(chan *ramp.Recording, n)}
}

func (s *source) Completed() <-chan *ramp.Recording { return s.ch }

func (s *source) Release(r *ramp.Recording) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, r)
}

func (s *source) nReleased() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.released)
}

// flaky fails the first n writes
type flaky struct {
	mu     sync.Mutex
	n      int
	writes int
	ids    []string
}

func (f *flaky) Write(r *ramp.Recording) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.writes <= f.n {
		return ErrSinkWrite
	}
	f.ids = append(f.ids, r.ID)
	return nil
}

func (f *flaky) Close() error { return nil }

type bus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *bus) Publish(e eventbus.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return true
}

func TestFlushRetriesTransientFailures(t *testing.T) {
	src := newSource(1)
	sink := &flaky{n: 2}
	f := &Flusher{Source: src, Sink: sink, RetryFor: 5 * time.Second}
	rec := sampleRecording()
	rec.ID = ""

	require.NoError(t, f.Flush(context.Background(), rec))
	assert.Equal(t, 3, sink.writes)
	require.Len(t, sink.ids, 1)
	assert.Len(t, sink.ids[0], 36, "expected a uuid to be assigned")
	assert.Equal(t, 1, src.nReleased())
}

func TestFlushRetriesOnlyFailedSinksOfMulti(t *testing.T) {
	src := newSource(1)
	good := &flaky{}
	bad := &flaky{n: 1}
	f := &Flusher{Source: src, Sink: Multi{good, bad}, RetryFor: 5 * time.Second}

	require.NoError(t, f.Flush(context.Background(), sampleRecording()))
	assert.Equal(t, 1, good.writes, "a sink that succeeded was written again")
	assert.Equal(t, 2, bad.writes)
}

func TestFlushReportsPermanentFailure(t *testing.T) {
	src := newSource(1)
	b := &bus{}
	f := &Flusher{Source: src, Sink: &failing{err: errors.New("read-only file system")}, Bus: b, Name: "iramp"}
	rec := sampleRecording()

	err := f.Flush(context.Background(), rec)
	assert.Error(t, err)
	assert.Equal(t, 1, src.nReleased(), "buffer must be released even on failure")
	require.Len(t, b.events, 1)
	ev := b.events[0]
	assert.Equal(t, eventbus.SinkFailure, ev.Kind)
	assert.Equal(t, 4, ev.Cell)
	assert.Equal(t, 5, ev.Samples)
	assert.Equal(t, "read-only file system", ev.Err)
}

func TestRunDrainsOnShutdown(t *testing.T) {
	src := newSource(3)
	sink := &flaky{}
	f := &Flusher{Source: src, Sink: sink}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		src.ch <- sampleRecording()
	}
	f.Run(ctx)
	assert.Equal(t, 3, sink.writes)
	assert.Equal(t, 3, src.nReleased())
}

func TestRunWithEngine(t *testing.T) {
	cfg := ramp.DefaultConfig()
	cfg.Duration = 0.02
	e, err := ramp.NewEngine(cfg, ramp.Options{Period: time.Millisecond, Persist: true, Buffers: 2})
	require.NoError(t, err)
	sink := &flaky{}
	written := make(chan struct{}, 1)
	f := &Flusher{Source: e, Sink: sink, OnWrite: func(*ramp.Recording) { written <- struct{}{} }}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	for round := 0; round < 2; round++ {
		require.NoError(t, e.Post(ramp.ToggleCommand{StartRamp: true, StartRecording: true}))
		for i := 0; i < 30; i++ {
			e.Tick(0)
		}
		select {
		case <-written:
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d was not persisted", round)
		}
	}
	assert.Equal(t, uint64(0), e.Refused())
	assert.Len(t, sink.ids, 2)
}
