package ramp

import (
	"errors"
	"time"
)

var (
	// ErrNoFreeBuffer is carried by the RecordingRefused event published when
	// a recording is requested while every buffer in the pool is still
	// waiting to be persisted.  The ramp runs regardless; only the recording
	// is refused.
	ErrNoFreeBuffer = errors.New("no free recording buffer")
)

// Sample is one tick of a recording
type Sample struct {
	// Time is seconds since the recording started
	Time float64 `json:"t"`

	// Voltage is the measured membrane voltage, V
	Voltage float64 `json:"v"`

	// Current is the commanded current, pA
	Current float64 `json:"i"`
}

// Recording is a sample buffer together with the tags it is persisted under.
//
// The engine owns a Recording from the start of a session until the stop
// edge.  It is then handed to the control context on Engine.Completed and
// belongs to whoever received it until it is given back with
// Engine.Release.
type Recording struct {
	// ID is assigned by the persistence layer, it is empty on the tick path
	ID string

	Prefix string
	Info   string
	Cell   int

	// Started is the wall time of the first sample
	Started time.Time

	// Period is the tick period at the start of the recording
	Period time.Duration

	Samples []Sample
}

// NewRecording returns an empty Recording with room for capacity samples
func NewRecording(capacity int) *Recording {
	return &Recording{Samples: make([]Sample, 0, capacity)}
}

// Append adds a sample.  It only allocates if the preallocated capacity
// has been exhausted.
func (r *Recording) Append(s Sample) {
	r.Samples = append(r.Samples, s)
}

// Len returns the number of samples held
func (r *Recording) Len() int {
	return len(r.Samples)
}

// Reset empties the recording and clears its tags.  The sample storage is
// kept for reuse.
func (r *Recording) Reset() {
	r.ID = ""
	r.Prefix = ""
	r.Info = ""
	r.Cell = 0
	r.Started = time.Time{}
	r.Period = 0
	r.Samples = r.Samples[:0]
}

// Duration returns the time spanned by the samples
func (r *Recording) Duration() time.Duration {
	if len(r.Samples) == 0 {
		return 0
	}
	return time.Duration(r.Samples[len(r.Samples)-1].Time * float64(time.Second))
}
