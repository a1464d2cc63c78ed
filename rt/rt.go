// Package rt hosts a real-time device: it ticks the device at a fixed
// period, feeding it the measured input and writing its output to a DAC.
//
// The tick goroutine is locked to its OS thread.  Go does not offer
// hard real-time scheduling, so late ticks are counted as overruns rather
// than prevented.
package rt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.jpl.nasa.gov/bdube/iramp/daq"
	"golang.org/x/time/rate"
)

var (
	// ErrBadPeriod is returned when a non-positive tick period is requested
	ErrBadPeriod = errors.New("tick period must be positive")
)

// Device is driven by a System.  Tick is called from the tick goroutine
// only; the hooks are called from whichever goroutine changes the System.
type Device interface {
	// Tick consumes the measured input and returns the output for this period
	Tick(in float64) float64

	// OnPeriodChange is called after the tick period has changed
	OnPeriodChange(time.Duration)

	// OnPause is called when the host pauses; the device should freeze
	OnPause()

	// OnResume is called when the host resumes
	OnResume()
}

// Config holds the channel assignments and period of a System
type Config struct {
	// Period is the tick period
	Period time.Duration `yaml:"Period" koanf:"Period"`

	// InputChannel is the ADC channel the device reads
	InputChannel int `yaml:"InputChannel" koanf:"InputChannel"`

	// OutputChannel is the DAC channel the device writes
	OutputChannel int `yaml:"OutputChannel" koanf:"OutputChannel"`
}

// System is the host loop
type System struct {
	dev Device
	adc daq.ADC
	dac daq.DAC
	in  int
	out int

	mu     sync.Mutex
	period atomic.Int64
	reset  chan time.Duration
	paused atomic.Bool

	ticks    atomic.Uint64
	ioErrors atomic.Uint64
	overruns atomic.Uint64
	errLog   *rate.Limiter

	// owned by the tick goroutine
	lastIn float64
}

// New returns a System which is not yet running
func New(dev Device, adc daq.ADC, dac daq.DAC, cfg Config) (*System, error) {
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrBadPeriod, cfg.Period)
	}
	s := &System{
		dev:    dev,
		adc:    adc,
		dac:    dac,
		in:     cfg.InputChannel,
		out:    cfg.OutputChannel,
		reset:  make(chan time.Duration, 1),
		errLog: rate.NewLimiter(rate.Every(time.Second), 1)}
	s.period.Store(int64(cfg.Period))
	dev.OnPeriodChange(cfg.Period)
	return s, nil
}

// Period returns the tick period
func (s *System) Period() time.Duration {
	return time.Duration(s.period.Load())
}

// SetPeriod changes the tick period.  The device is told before the next tick.
func (s *System) SetPeriod(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s", ErrBadPeriod, d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.period.Store(int64(d))
	s.dev.OnPeriodChange(d)
	select {
	case <-s.reset:
	default:
	}
	s.reset <- d
	return nil
}

// Pause holds the output at zero until Resume
func (s *System) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused.Swap(true) {
		s.dev.OnPause()
	}
}

// Resume undoes Pause
func (s *System) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused.Swap(false) {
		s.dev.OnResume()
	}
}

// Paused returns true while the system is paused
func (s *System) Paused() bool {
	return s.paused.Load()
}

// Ticks returns the number of ticks executed
func (s *System) Ticks() uint64 { return s.ticks.Load() }

// IOErrors returns the number of failed ADC or DAC calls
func (s *System) IOErrors() uint64 { return s.ioErrors.Load() }

// Overruns returns the number of ticks that started late by more than half a period
func (s *System) Overruns() uint64 { return s.overruns.Load() }

// Step runs a single tick.  Run calls it on every period; it is exported
// for hosts that bring their own clock.
func (s *System) Step() {
	s.ticks.Add(1)
	in, err := s.adc.Input(s.in)
	if err != nil {
		s.ioError("input", err)
		in = s.lastIn
	}
	s.lastIn = in
	out := s.dev.Tick(in)
	if s.paused.Load() {
		out = 0
	}
	if err := s.dac.Output(s.out, out); err != nil {
		s.ioError("output", err)
	}
}

// Run ticks the device until ctx is done.  The output is zeroed on return.
func (s *System) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	period := s.Period()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			if err := s.dac.Output(s.out, 0); err != nil {
				log.Printf("rt: zeroing output on shutdown: %v", err)
			}
			return ctx.Err()
		case period = <-s.reset:
			ticker.Reset(period)
		case now := <-ticker.C:
			if now.Sub(last) > period+period/2 {
				s.overruns.Add(1)
			}
			last = now
			s.Step()
		}
	}
}

func (s *System) ioError(op string, err error) {
	n := s.ioErrors.Add(1)
	if s.errLog.Allow() {
		log.Printf("rt: %s error (%d total): %v", op, n, err)
	}
}
