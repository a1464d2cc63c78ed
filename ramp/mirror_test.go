package ramp

import (
	"context"
	"testing"
	"time"

	"github.jpl.nasa.gov/bdube/iramp/eventbus"
)

// publishUntil republishes ev and runs the queued commands until cond
// holds, since the mirror subscribes asynchronously
func publishUntil(t *testing.T, bus *eventbus.Bus, e *Engine, ev eventbus.Event, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("mirror never forwarded %s", ev.Kind)
		}
		bus.Publish(ev)
		time.Sleep(time.Millisecond)
		for e.Pending() > 0 {
			e.Tick(0)
		}
	}
}

func TestMirrorFollowsRemoteRecording(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := eventbus.New(16)
	go bus.Run(ctx)

	e := newTestEngine(t, twoSecondRamp(), Options{Persist: true})
	go Mirror(ctx, bus, e)

	e.Post(ToggleCommand{StartRamp: true})
	e.Tick(0)
	if e.Recording() {
		t.Fatal("recording without a request")
	}

	publishUntil(t, bus, e, eventbus.Event{Kind: eventbus.RecordingStarted, Source: eventbus.RemoteSource}, e.Recording)
	publishUntil(t, bus, e, eventbus.Event{Kind: eventbus.RecordingStopped, Source: eventbus.RemoteSource},
		func() bool { return !e.Recording() })
	if !e.Active() {
		t.Error("mirroring a stop ended the ramp")
	}
	select {
	case rec := <-e.Completed():
		if rec.Len() == 0 {
			t.Error("mirrored recording has no samples")
		}
	default:
		t.Error("mirrored stop did not hand off the recording")
	}
}

func TestMirrorIgnoresOwnEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := eventbus.New(16)
	go bus.Run(ctx)

	e := newTestEngine(t, twoSecondRamp(), Options{})
	go Mirror(ctx, bus, e)

	for i := 0; i < 20; i++ {
		bus.Publish(eventbus.Event{Kind: eventbus.RecordingStarted, Source: e.Source()})
		time.Sleep(time.Millisecond)
	}
	if n := e.Pending(); n != 0 {
		t.Errorf("expected own events to be ignored, %d commands pending", n)
	}
}

func TestMirrorReturnsWhenBusCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := eventbus.New(4)
	go bus.Run(ctx)

	e := newTestEngine(t, twoSecondRamp(), Options{})
	finished := make(chan struct{})
	go func() {
		Mirror(context.Background(), bus, e)
		close(finished)
	}()
	cancel()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Error("Mirror did not return after the bus closed")
	}
}
