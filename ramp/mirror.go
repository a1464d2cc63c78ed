package ramp

import (
	"context"
	"log"

	"github.jpl.nasa.gov/bdube/iramp/eventbus"
)

// Mirror follows recording start/stop events published by anyone other
// than e and copies them onto e's recording flag.  It returns when ctx is
// done or the bus closes the subscription.
func Mirror(ctx context.Context, bus eventbus.Subscriber, e *Engine) {
	events, cancel := bus.Subscribe(16)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Source == e.Source() {
				continue
			}
			var err error
			switch ev.Kind {
			case eventbus.RecordingStarted:
				err = e.SetRecording(true)
			case eventbus.RecordingStopped:
				err = e.SetRecording(false)
			default:
				continue
			}
			if err != nil {
				log.Printf("ramp: could not mirror %s from %s: %v", ev.Kind, ev.Source, err)
			}
		}
	}
}
