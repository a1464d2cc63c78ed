package ramp

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.jpl.nasa.gov/bdube/iramp/eventbus"
)

var (
	// ErrPaused is returned by Post and SetRecording while the host loop is
	// paused.  The ramp button is disabled for the duration of a pause.
	ErrPaused = errors.New("ramp is paused, commands are not accepted")
)

// DefaultSource is the name an Engine publishes bus events under
const DefaultSource = "iramp"

// Options configure an Engine.  Zero numeric values select the defaults.
type Options struct {
	// Period is the initial tick period, 1 ms if zero
	Period time.Duration

	// QueueDepth is the capacity of the command channel, 16 if zero
	QueueDepth int

	// Buffers is the number of recording buffers in the pool, 2 if zero.
	// One is filled by the tick loop while the others wait to be persisted.
	Buffers int

	// Capacity is the number of samples preallocated in each buffer,
	// 65536 if zero.  A recording longer than this still works, but its
	// buffer grows on the tick path.
	Capacity int

	// Notify publishes recording started/stopped events on Bus
	Notify bool

	// Persist hands completed recordings out on Completed.  When false the
	// samples are discarded at the stop edge.
	Persist bool

	// Bus receives notifications, it may be nil
	Bus eventbus.Publisher

	// Source is stamped on published events, DefaultSource if empty
	Source string

	// Now is the wall clock, time.Now if nil
	Now func() time.Time
}

// Engine is the ramp state machine.  See the package documentation for
// which methods belong to which execution context.
type Engine struct {
	// shared between contexts
	cfgMu       sync.Mutex
	cfg         Config
	commands    *Channel
	period      atomic.Int64
	paused      atomic.Bool
	refused     atomic.Uint64
	completions atomic.Uint64
	free        chan *Recording
	completed   chan *Recording
	tel         telemetry

	bus     eventbus.Publisher
	source  string
	notify  bool
	persist bool
	now     func() time.Time

	// owned by the tick loop
	rtCfg     Config
	dt        float64
	start     float64
	end       float64
	rate      float64
	dir       float64
	halfT     float64
	phaseT    float64
	iout      float64
	v         float64
	elapsed   float64
	active    bool
	peaked    bool
	done      bool
	recording bool
	fresh     bool
	settling  bool
	rec       *Recording
	ticks     uint64
}

// NewEngine validates cfg and returns an idle engine using it
func NewEngine(cfg Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Period <= 0 {
		opts.Period = time.Millisecond
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 16
	}
	if opts.Buffers <= 0 {
		opts.Buffers = 2
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 1 << 16
	}
	if opts.Source == "" {
		opts.Source = DefaultSource
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{
		cfg:       cfg,
		commands:  NewChannel(opts.QueueDepth),
		free:      make(chan *Recording, opts.Buffers),
		completed: make(chan *Recording, opts.Buffers),
		bus:       opts.Bus,
		source:    opts.Source,
		notify:    opts.Notify,
		persist:   opts.Persist,
		now:       opts.Now,
		rtCfg:     cfg,
		dt:        opts.Period.Seconds(),
		done:      true}
	for i := 0; i < opts.Buffers; i++ {
		e.free <- NewRecording(opts.Capacity)
	}
	e.publish()
	return e, nil
}

// Config returns the last committed configuration
func (e *Engine) Config() Config {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	return e.cfg
}

// Configure validates cfg and commits it.  An invalid configuration is
// rejected with ErrInvalidConfiguration and the previous one is retained.
//
// The committed configuration applies to the next ramp; a ramp in flight
// finishes with the endpoints and rate it started with.  If cfg.Ramp is
// set, a start command (recording if cfg.Record is set) is posted after the
// commit.
//
// The commit is all or nothing: if the start command cannot be queued as
// well, nothing is queued and the previous configuration is retained.
func (e *Engine) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cmds := []Command{{Kind: CommandConfig, Config: cfg}}
	if cfg.Ramp {
		if e.paused.Load() {
			return ErrPaused
		}
		cmds = append(cmds, Command{Kind: CommandToggle, Toggle: ToggleCommand{StartRamp: true, StartRecording: cfg.Record}})
	}
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	if err := e.commands.PostAll(cmds...); err != nil {
		return err
	}
	e.cfg = cfg
	return nil
}

// Post hands a toggle command to the tick loop.  It never blocks.
func (e *Engine) Post(cmd ToggleCommand) error {
	if e.paused.Load() {
		return ErrPaused
	}
	return e.commands.Post(Command{Kind: CommandToggle, Toggle: cmd})
}

// SetRecording asks the tick loop to start or stop recording without
// touching the ramp.  Starting only takes effect while a ramp is running.
// No bus event is published for the change, since it is meant to mirror
// one.
func (e *Engine) SetRecording(on bool) error {
	if e.paused.Load() {
		return ErrPaused
	}
	return e.commands.Post(Command{Kind: CommandRecording, Recording: on})
}

// OnPeriodChange records a new tick period.  The tick loop adopts it at the
// start of its next tick.
func (e *Engine) OnPeriodChange(period time.Duration) {
	if period > 0 {
		e.period.Store(int64(period))
	}
}

// OnPause forces the output to zero and freezes the ramp.  The internal
// output current is preserved, so the ramp carries on from where it was
// once resumed.  Commands are refused while paused.
func (e *Engine) OnPause() {
	e.paused.Store(true)
}

// OnResume undoes OnPause
func (e *Engine) OnResume() {
	e.paused.Store(false)
}

// Paused returns true between OnPause and OnResume
func (e *Engine) Paused() bool {
	return e.paused.Load()
}

// Source returns the name the engine publishes events under
func (e *Engine) Source() string {
	return e.source
}

// Telemetry returns a consistent snapshot of the engine state
func (e *Engine) Telemetry() Telemetry {
	t := e.tel.load()
	t.Paused = e.paused.Load()
	return t
}

// Done returns true once the ramp has fully settled
func (e *Engine) Done() bool { return e.tel.flag(flagDone) }

// Active returns true while a ramp is running
func (e *Engine) Active() bool { return e.tel.flag(flagActive) }

// Recording returns true while samples are being buffered
func (e *Engine) Recording() bool { return e.tel.flag(flagRecording) }

// Current returns the last commanded current in pA
func (e *Engine) Current() float64 { return e.tel.float(&e.tel.current) }

// Voltage returns the last measured voltage
func (e *Engine) Voltage() float64 { return e.tel.float(&e.tel.voltage) }

// Elapsed returns the seconds since the current recording started
func (e *Engine) Elapsed() float64 { return e.tel.float(&e.tel.elapsed) }

// Phase returns whether the ramp is idle, rising, or falling
func (e *Engine) Phase() Phase { return phaseOf(e.tel.flags.Load()) }

// Completions returns how many ramps have settled since the engine was made
func (e *Engine) Completions() uint64 { return e.completions.Load() }

// Refused returns how many recordings could not start for lack of a free buffer
func (e *Engine) Refused() uint64 { return e.refused.Load() }

// Pending returns the number of commands not yet consumed by the tick loop
func (e *Engine) Pending() int { return e.commands.Len() }

// Completed delivers recordings that have reached their stop edge.  The
// receiver owns each one until it calls Release.
func (e *Engine) Completed() <-chan *Recording {
	return e.completed
}

// Release returns a recording to the pool once it has been persisted
func (e *Engine) Release(r *Recording) {
	if r == nil {
		return
	}
	r.Reset()
	select {
	case e.free <- r:
	default:
	}
}

// Tick runs one period of the ramp.  v is the measured voltage, the return
// value is the current command in amperes.
//
// Tick must only be called from the tick loop.  It applies a pending period
// change, then at most one pending command, then advances the ramp.
func (e *Engine) Tick(v float64) float64 {
	if p := e.period.Swap(0); p > 0 {
		e.dt = time.Duration(p).Seconds()
	}
	e.ticks++
	e.v = v
	if e.paused.Load() {
		e.publish()
		return 0
	}

	// done trails the end of the ramp by one tick
	if e.settling {
		e.settling = false
		e.done = true
		e.completions.Add(1)
	}

	if cmd, ok := e.commands.Poll(); ok {
		e.apply(cmd)
	}

	running := e.active
	if running {
		if e.fresh {
			// the tick a ramp starts on emits the start amplitude
			e.fresh = false
		} else {
			e.step()
		}
	}

	if e.recording {
		if running {
			e.rec.Append(Sample{Time: e.elapsed, Voltage: v, Current: e.iout})
			e.elapsed += e.dt
		}
		if !e.active {
			e.stopRecording(true)
		}
	}

	e.publish()
	return e.iout * PicoampsToAmps
}

// ApplyCommand applies a toggle command.  It must only be called from the
// tick loop; Tick calls it for posted commands.
//
// Starting while a ramp is already running, rising or falling, is ignored.
// Stopping is cooperative: a rising ramp turns around and falls from its
// present value at the same rate, and the recording, if any, continues
// through the fall.
func (e *Engine) ApplyCommand(cmd ToggleCommand) {
	if !cmd.StartRamp {
		if e.active && !e.peaked {
			e.turnaround()
		}
		return
	}
	if e.active {
		return
	}
	e.start = e.rtCfg.StartAmp
	e.end = e.rtCfg.EndAmp
	e.rate = e.rtCfg.Rate()
	switch {
	case e.end > e.start:
		e.dir = 1
	case e.end < e.start:
		e.dir = -1
	default:
		e.dir = 0
	}
	e.iout = e.start
	e.halfT = e.rtCfg.Duration / 2
	e.phaseT = 0
	e.active = true
	e.peaked = false
	e.done = false
	e.settling = false
	e.fresh = true
	if cmd.StartRecording && !e.recording {
		e.beginRecording(true)
	}
}

func (e *Engine) apply(cmd Command) {
	switch cmd.Kind {
	case CommandToggle:
		e.ApplyCommand(cmd.Toggle)
	case CommandConfig:
		e.rtCfg = cmd.Config
	case CommandRecording:
		if cmd.Recording {
			if e.active && !e.recording {
				e.beginRecording(false)
			}
		} else if e.recording {
			e.stopRecording(false)
		}
	}
}

// step advances the ramp by one period.  Each half is bounded both by
// reaching its endpoint and by its elapsed time, so a step too small to
// change iout still terminates.
func (e *Engine) step() {
	delta := e.rate * e.dt
	e.phaseT += e.dt
	timeUp := e.phaseT >= e.halfT-e.dt*1e-6
	if !e.peaked {
		e.iout += delta
		if e.dir*(e.iout-e.end) >= -EPS || timeUp {
			e.iout = e.end
			e.turnaround()
		}
		return
	}
	e.iout -= delta
	if e.dir*(e.iout-e.start) <= EPS || timeUp {
		e.iout = 0
		e.active = false
		e.peaked = false
		e.settling = true
	}
}

// turnaround starts the fall.  The fall lasts as long as the rise did.
func (e *Engine) turnaround() {
	e.peaked = true
	e.halfT = e.phaseT
	e.phaseT = 0
}

func (e *Engine) beginRecording(notify bool) {
	var rec *Recording
	select {
	case rec = <-e.free:
	default:
		e.refused.Add(1)
		e.emit(eventbus.RecordingRefused, e.rtCfg.Cell, 0, ErrNoFreeBuffer)
		return
	}
	rec.Prefix = e.rtCfg.Prefix
	rec.Info = e.rtCfg.Info
	rec.Cell = e.rtCfg.Cell
	rec.Started = e.now()
	rec.Period = time.Duration(e.dt * float64(time.Second))
	e.rec = rec
	e.recording = true
	e.elapsed = 0
	if notify {
		e.emit(eventbus.RecordingStarted, rec.Cell, 0, nil)
	}
}

// stopRecording is the stop edge.  Buffer hand-off and flag reset happen
// here, on the tick that ends the recording; persistence happens later, in
// the control context.
func (e *Engine) stopRecording(notify bool) {
	rec := e.rec
	n, cell := rec.Len(), rec.Cell
	e.rec = nil
	e.recording = false
	e.elapsed = 0
	if e.persist {
		// completed has room for every buffer in the pool
		select {
		case e.completed <- rec:
		default:
			e.refused.Add(1)
		}
	} else {
		rec.Reset()
		select {
		case e.free <- rec:
		default:
		}
	}
	if notify {
		e.emit(eventbus.RecordingStopped, cell, n, nil)
	}
}

func (e *Engine) emit(kind eventbus.Kind, cell, samples int, err error) {
	if !e.notify || e.bus == nil {
		return
	}
	ev := eventbus.Event{
		Kind:    kind,
		Time:    e.now(),
		Source:  e.source,
		Cell:    cell,
		Samples: samples}
	if err != nil {
		ev.Err = err.Error()
	}
	e.bus.Publish(ev)
}

func (e *Engine) publish() {
	var flags uint32
	if e.active {
		flags |= flagActive
	}
	if e.peaked {
		flags |= flagPeaked
	}
	if e.done {
		flags |= flagDone
	}
	if e.recording {
		flags |= flagRecording
	}
	samples := 0
	if e.rec != nil {
		samples = e.rec.Len()
	}
	e.tel.store(e.elapsed, e.v, e.iout, flags, samples, e.ticks)
}
