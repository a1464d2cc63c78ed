package ramp

import (
	"errors"
	"fmt"
	"math"
)

// EPS is the tolerance used whenever the ramp is compared against one of its
// endpoints.  Without it, accumulated rounding can leave the output a hair
// short of the boundary and the ramp never terminates.
const EPS = 1e-9

// PicoampsToAmps converts the internal current unit to the output unit
const PicoampsToAmps = 1e-12

var (
	// ErrInvalidConfiguration is returned when a Config fails validation.
	// The previously committed configuration stays in effect.
	ErrInvalidConfiguration = errors.New("invalid ramp configuration")
)

// Config holds the parameters of a ramp.  Amplitudes are in pA.
type Config struct {
	// StartAmp is where the ramp begins and where the fall ends
	StartAmp float64 `json:"startAmp" yaml:"StartAmp" koanf:"StartAmp"`

	// EndAmp is the peak of the ramp
	EndAmp float64 `json:"endAmp" yaml:"EndAmp" koanf:"EndAmp"`

	// Duration is the length of the whole ramp, rise and fall, in seconds
	Duration float64 `json:"duration" yaml:"Duration" koanf:"Duration"`

	// Cell is the cell number recordings are tagged with
	Cell int `json:"cell" yaml:"Cell" koanf:"Cell"`

	// Prefix and Info are free text used to tag persisted recordings
	Prefix string `json:"prefix" yaml:"Prefix" koanf:"Prefix"`
	Info   string `json:"info" yaml:"Info" koanf:"Info"`

	// Ramp and Record let a configuration commit start the ramp, for
	// clients that have no toggle button
	Ramp   bool `json:"ramp" yaml:"Ramp" koanf:"Ramp"`
	Record bool `json:"record" yaml:"Record" koanf:"Record"`
}

// DefaultConfig returns a 0 to 100 pA ramp over 30 seconds on cell 1
func DefaultConfig() Config {
	return Config{
		StartAmp: 0,
		EndAmp:   100,
		Duration: 30,
		Cell:     1,
		Prefix:   "iramp"}
}

// Validate checks that the configuration yields a finite ramp rate
func (c Config) Validate() error {
	if math.IsNaN(c.StartAmp) || math.IsInf(c.StartAmp, 0) {
		return fmt.Errorf("%w: start amplitude %v is not finite", ErrInvalidConfiguration, c.StartAmp)
	}
	if math.IsNaN(c.EndAmp) || math.IsInf(c.EndAmp, 0) {
		return fmt.Errorf("%w: end amplitude %v is not finite", ErrInvalidConfiguration, c.EndAmp)
	}
	if !(c.Duration > 0) || math.IsInf(c.Duration, 0) {
		return fmt.Errorf("%w: duration must be positive and finite, got %v s", ErrInvalidConfiguration, c.Duration)
	}
	if c.Cell < 0 {
		return fmt.Errorf("%w: cell number %d is negative", ErrInvalidConfiguration, c.Cell)
	}
	return nil
}

// Rate returns the slope of the ramp in pA/s.  The rise and the fall each
// take half of Duration, so the slope is the amplitude span over Duration/2.
// It is negative for a ramp whose end is below its start.
func (c Config) Rate() float64 {
	return (c.EndAmp - c.StartAmp) / (c.Duration / 2)
}
