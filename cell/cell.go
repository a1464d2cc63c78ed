// Package cell simulates a passive membrane patch so the ramp server can be
// exercised without an amplifier attached.
//
// The membrane is a parallel RC circuit at rest potential Erest.  Injected
// current charges it toward Erest + I*Rm with time constant Rm*Cm.  The
// exact exponential solution is used between calls, so the result does not
// depend on how often the membrane is sampled.
package cell

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.jpl.nasa.gov/bdube/iramp/daq"
)

var (
	// ErrBadParameter is returned by New for a non-positive resistance or capacitance
	ErrBadParameter = errors.New("membrane parameters must be positive and finite")
)

// Config holds the electrical parameters of the membrane
type Config struct {
	// Rm is the membrane resistance, ohm
	Rm float64 `yaml:"Rm" koanf:"Rm"`

	// Cm is the membrane capacitance, farad
	Cm float64 `yaml:"Cm" koanf:"Cm"`

	// Erest is the resting potential, volt
	Erest float64 `yaml:"Erest" koanf:"Erest"`
}

// DefaultConfig is a small neuron: 200 MOhm, 50 pF, -70 mV
func DefaultConfig() Config {
	return Config{Rm: 200e6, Cm: 50e-12, Erest: -0.07}
}

// Membrane is a simulated cell.  It satisfies daq.ADC and daq.DAC on
// channel 0, in volts and amperes.
type Membrane struct {
	cfg Config

	// Now is the clock the membrane integrates against
	Now func() time.Time

	mu   sync.Mutex
	v    float64
	i    float64
	last time.Time
}

// New returns a membrane at rest
func New(cfg Config) (*Membrane, error) {
	for _, x := range []float64{cfg.Rm, cfg.Cm} {
		if !(x > 0) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: Rm=%g Cm=%g", ErrBadParameter, cfg.Rm, cfg.Cm)
		}
	}
	return &Membrane{cfg: cfg, Now: time.Now, v: cfg.Erest}, nil
}

// Tau returns the membrane time constant
func (m *Membrane) Tau() time.Duration {
	return time.Duration(m.cfg.Rm * m.cfg.Cm * float64(time.Second))
}

// Output injects a current, in amperes
func (m *Membrane) Output(ch int, amps float64) error {
	if ch != 0 {
		return fmt.Errorf("%w: %d", daq.ErrBadChannel, ch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance()
	m.i = amps
	return nil
}

// Input returns the membrane potential, in volts
func (m *Membrane) Input(ch int) (float64, error) {
	if ch != 0 {
		return 0, fmt.Errorf("%w: %d", daq.ErrBadChannel, ch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance()
	return m.v, nil
}

// advance integrates the membrane up to the present, mu must be held
func (m *Membrane) advance() {
	now := m.Now()
	if m.last.IsZero() {
		m.last = now
		return
	}
	dt := now.Sub(m.last).Seconds()
	m.last = now
	if dt <= 0 {
		return
	}
	vinf := m.cfg.Erest + m.i*m.cfg.Rm
	m.v = vinf + (m.v-vinf)*math.Exp(-dt/(m.cfg.Rm*m.cfg.Cm))
}
