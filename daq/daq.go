// Package daq describes the analog I/O the ramp is driven through
package daq

import (
	"errors"

	"github.jpl.nasa.gov/bdube/iramp/util"
)

var (
	// ErrBadChannel is returned for a channel the device does not have
	ErrBadChannel = errors.New("channel out of range")
)

// DAC is a model for simple digital to analog converter
type DAC interface {
	// Output sends a voltage on a given channel
	Output(int, float64) error
}

// ADC is a model for a simple analog to digital converter
type ADC interface {
	// Input reads a voltage from a given channel
	Input(int) (float64, error)
}

// IO is a device with both input and output
type IO interface {
	ADC
	DAC
}

// Scaled converts between the units the ramp works in and the voltages an
// amplifier wants.  Input multiplies what the ADC reads by InScale; Output
// multiplies its argument by OutScale and clamps the result to [Min, Max]
// before handing it to the DAC.
//
// For a patch clamp amplifier with a command sensitivity of 400 pA/V,
// OutScale is 1/400e-12 V/A.
type Scaled struct {
	ADC ADC
	DAC DAC

	InScale  float64
	OutScale float64

	Min float64
	Max float64
}

// Input reads a channel and scales it
func (s Scaled) Input(ch int) (float64, error) {
	v, err := s.ADC.Input(ch)
	if err != nil {
		return 0, err
	}
	return v * s.InScale, nil
}

// Output scales and clamps x and writes it to a channel
func (s Scaled) Output(ch int, x float64) error {
	return s.DAC.Output(ch, util.Clamp(x*s.OutScale, s.Min, s.Max))
}
