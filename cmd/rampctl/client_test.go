package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.jpl.nasa.gov/bdube/iramp/cell"
	"github.jpl.nasa.gov/bdube/iramp/generichttp/stim"
	"github.jpl.nasa.gov/bdube/iramp/ramp"
	"github.jpl.nasa.gov/bdube/iramp/rt"
)

type fakeServer struct {
	mu      sync.Mutex
	toggles []map[string]bool
	polls   atomic.Int32
	locked  bool
}

func (f *fakeServer) client(t *testing.T) Client {
	r := chi.NewRouter()
	r.Post("/iramp/toggle", func(w http.ResponseWriter, r *http.Request) {
		if f.locked {
			http.Error(w, "resource locked", http.StatusLocked)
			return
		}
		var m map[string]bool
		json.NewDecoder(r.Body).Decode(&m)
		f.mu.Lock()
		f.toggles = append(f.toggles, m)
		f.mu.Unlock()
	})
	r.Get("/iramp/telemetry", func(w http.ResponseWriter, r *http.Request) {
		n := f.polls.Add(1)
		t := Telemetry{Phase: "rising", Done: n >= 3}
		if t.Done {
			t.Completions = 1
		}
		json.NewEncoder(w).Encode(t)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return Client{URL: srv.URL + "/iramp/", HTTP: srv.Client()}
}

func TestStartAndStopPostToggle(t *testing.T) {
	f := &fakeServer{}
	c := f.client(t)
	require.NoError(t, c.Start(true))
	require.NoError(t, c.Stop())
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.toggles, 2)
	assert.Equal(t, map[string]bool{"ramp": true, "record": true}, f.toggles[0])
	assert.Equal(t, map[string]bool{"ramp": false, "record": false}, f.toggles[1])
}

func TestLockedServerIsRefused(t *testing.T) {
	f := &fakeServer{locked: true}
	err := f.client(t).Start(false)
	assert.True(t, errors.Is(err, ErrRefused), "expected ErrRefused got %v", err)
}

func TestWaitPollsUntilDone(t *testing.T) {
	f := &fakeServer{}
	c := f.client(t)
	seen := 0
	err := c.Wait(context.Background(), 0, time.Millisecond, func(Telemetry) { seen++ })
	require.NoError(t, err)
	assert.Equal(t, 3, seen)
}

func TestWaitHonorsContext(t *testing.T) {
	f := &fakeServer{}
	f.polls.Store(-1000)
	c := f.client(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Wait(ctx, 0, time.Millisecond, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseAssignments(t *testing.T) {
	m, err := parseAssignments([]string{"endAmp=250", "prefix=slice3", "ramp=true"})
	require.NoError(t, err)
	assert.Equal(t, 250.0, m["endAmp"])
	assert.Equal(t, "slice3", m["prefix"])
	assert.Equal(t, true, m["ramp"])

	_, err = parseAssignments([]string{"oops"})
	assert.Error(t, err)
}

func TestWaitIgnoresDoneFromThePreviousRamp(t *testing.T) {
	cfg := ramp.DefaultConfig()
	cfg.Duration = 0.02
	eng, err := ramp.NewEngine(cfg, ramp.Options{Period: time.Millisecond})
	require.NoError(t, err)
	m, err := cell.New(cell.DefaultConfig())
	require.NoError(t, err)
	sys, err := rt.New(eng, m, m, rt.Config{Period: time.Millisecond})
	require.NoError(t, err)
	r := chi.NewRouter()
	stim.NewHTTPRamp(eng, sys, ramp.NewLatch(eng), nil, nil).RT().Bind(r)
	srv := httptest.NewServer(r)
	defer srv.Close()
	c := Client{URL: srv.URL, HTTP: srv.Client()}

	mark, err := c.Mark()
	require.NoError(t, err)
	require.NoError(t, c.Start(false))

	// the tick loop has not run, so the engine still reports done
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = c.Wait(ctx, mark, time.Millisecond, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	for i := 0; i < 30; i++ {
		sys.Step()
	}
	err = c.Wait(context.Background(), mark, time.Millisecond, nil)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), eng.Completions())
}
