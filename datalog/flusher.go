package datalog

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.jpl.nasa.gov/bdube/iramp/eventbus"
	"github.jpl.nasa.gov/bdube/iramp/ramp"
)

// Source hands out completed recordings and takes them back once persisted.
// *ramp.Engine satisfies it.
type Source interface {
	Completed() <-chan *ramp.Recording
	Release(*ramp.Recording)
}

// Flusher moves completed recordings from a Source into a Sink
type Flusher struct {
	Source Source
	Sink   Sink

	// Bus receives a SinkFailure event for every recording that could not
	// be written.  It may be nil.
	Bus eventbus.Publisher

	// Name is stamped on published events
	Name string

	// RetryFor bounds the time spent retrying a single recording.
	// A transient failure is retried with exponential backoff until then.
	// Zero means a single attempt.
	RetryFor time.Duration

	// OnWrite, if not nil, is called after every successful write
	OnWrite func(*ramp.Recording)
}

// Run persists recordings until ctx is done, then persists whatever is
// still queued before returning
func (f *Flusher) Run(ctx context.Context) {
	completed := f.Source.Completed()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case rec := <-completed:
					f.Flush(context.Background(), rec)
				default:
					return
				}
			}
		case rec := <-completed:
			f.Flush(ctx, rec)
		}
	}
}

// Flush assigns rec an ID, writes it, and releases it to the Source.
// The error of the last attempt is returned; rec is released either way.
func (f *Flusher) Flush(ctx context.Context, rec *ramp.Recording) error {
	defer f.Source.Release(rec)
	rec.ID = uuid.New().String()
	sink := f.Sink
	op := func() error {
		err := sink.Write(rec)
		var partial *PartialError
		if errors.As(err, &partial) {
			sink = partial.Failed
		}
		return err
	}
	var err error
	if f.RetryFor <= 0 {
		err = op()
	} else {
		b := &backoff.ExponentialBackOff{
			InitialInterval:     50 * time.Millisecond,
			RandomizationFactor: 0.2,
			Multiplier:          2.,
			MaxInterval:         2 * time.Second,
			MaxElapsedTime:      f.RetryFor,
			Clock:               backoff.SystemClock}
		err = backoff.Retry(op, backoff.WithContext(b, ctx))
	}
	if err != nil {
		log.Printf("datalog: recording %s (cell %d, %d samples) was not saved: %v", rec.ID, rec.Cell, rec.Len(), err)
		if f.Bus != nil {
			f.Bus.Publish(eventbus.Event{
				Kind:    eventbus.SinkFailure,
				Time:    time.Now(),
				Source:  f.Name,
				Cell:    rec.Cell,
				Session: rec.ID,
				Samples: rec.Len(),
				Err:     err.Error()})
		}
		return err
	}
	log.Printf("datalog: saved recording %s (cell %d, %d samples)", rec.ID, rec.Cell, rec.Len())
	if f.OnWrite != nil {
		f.OnWrite(rec)
	}
	return nil
}
