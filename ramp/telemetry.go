package ramp

import (
	"math"
	"runtime"
	"sync/atomic"
)

// Phase is the position of the engine in the ramp
type Phase int

const (
	// Idle means no ramp is running
	Idle Phase = iota

	// Rising means the ramp is heading toward its end amplitude
	Rising

	// Falling means the ramp is heading back toward its start amplitude
	Falling
)

func (p Phase) String() string {
	switch p {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	default:
		return "idle"
	}
}

// Telemetry is a consistent snapshot of the engine state
type Telemetry struct {
	// Elapsed is seconds since the current recording started, 0 when not recording
	Elapsed float64 `json:"elapsed"`

	// Voltage is the last measured voltage, V
	Voltage float64 `json:"voltage"`

	// Current is the last commanded current, pA
	Current float64 `json:"current"`

	Phase     Phase  `json:"-"`
	PhaseName string `json:"phase"`

	Active    bool `json:"active"`
	Peaked    bool `json:"peaked"`
	Done      bool `json:"done"`
	Recording bool `json:"recording"`
	Paused    bool `json:"paused"`

	// Samples is the number of samples in the current recording
	Samples int `json:"samples"`

	// Ticks is the number of ticks executed; it increases by exactly one per Tick
	Ticks uint64 `json:"ticks"`
}

const (
	flagActive uint32 = 1 << iota
	flagPeaked
	flagDone
	flagRecording
)

// telemetry publishes engine state to other goroutines.  Each field is
// individually atomic.  A whole snapshot is guarded by a sequence counter
// that is odd while the tick loop is writing, so readers retry rather than
// observe a torn snapshot.
type telemetry struct {
	seq     atomic.Uint64
	elapsed atomic.Uint64
	voltage atomic.Uint64
	current atomic.Uint64
	flags   atomic.Uint32
	samples atomic.Int64
	ticks   atomic.Uint64
}

// store is only called from the tick loop
func (t *telemetry) store(elapsed, voltage, current float64, flags uint32, samples int, ticks uint64) {
	t.seq.Add(1)
	t.elapsed.Store(math.Float64bits(elapsed))
	t.voltage.Store(math.Float64bits(voltage))
	t.current.Store(math.Float64bits(current))
	t.flags.Store(flags)
	t.samples.Store(int64(samples))
	t.ticks.Store(ticks)
	t.seq.Add(1)
}

func (t *telemetry) load() Telemetry {
	for {
		s1 := t.seq.Load()
		if s1&1 == 1 {
			runtime.Gosched()
			continue
		}
		out := Telemetry{
			Elapsed: math.Float64frombits(t.elapsed.Load()),
			Voltage: math.Float64frombits(t.voltage.Load()),
			Current: math.Float64frombits(t.current.Load()),
			Samples: int(t.samples.Load()),
			Ticks:   t.ticks.Load()}
		flags := t.flags.Load()
		if t.seq.Load() != s1 {
			continue
		}
		out.Active = flags&flagActive != 0
		out.Peaked = flags&flagPeaked != 0
		out.Done = flags&flagDone != 0
		out.Recording = flags&flagRecording != 0
		out.Phase = phaseOf(flags)
		out.PhaseName = out.Phase.String()
		return out
	}
}

func (t *telemetry) flag(f uint32) bool {
	return t.flags.Load()&f != 0
}

func (t *telemetry) float(f *atomic.Uint64) float64 {
	return math.Float64frombits(f.Load())
}

func phaseOf(flags uint32) Phase {
	switch {
	case flags&flagActive == 0:
		return Idle
	case flags&flagPeaked != 0:
		return Falling
	default:
		return Rising
	}
}
