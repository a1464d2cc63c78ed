package ramp

import (
	"errors"
	"math"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	bad := map[string]func(*Config){
		"zero duration":     func(c *Config) { c.Duration = 0 },
		"negative duration": func(c *Config) { c.Duration = -1 },
		"nan duration":      func(c *Config) { c.Duration = math.NaN() },
		"inf duration":      func(c *Config) { c.Duration = math.Inf(1) },
		"nan start":         func(c *Config) { c.StartAmp = math.NaN() },
		"inf end":           func(c *Config) { c.EndAmp = math.Inf(-1) },
		"negative cell":     func(c *Config) { c.Cell = -2 },
	}
	for name, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
			t.Errorf("%s: expected ErrInvalidConfiguration got %v", name, err)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default configuration is invalid: %v", err)
	}
}

func TestConfigRate(t *testing.T) {
	cfg := Config{StartAmp: 0, EndAmp: 100, Duration: 2}
	if r := cfg.Rate(); r != 100 {
		t.Errorf("expected 100 pA/s got %g", r)
	}
	cfg = Config{StartAmp: 50, EndAmp: -50, Duration: 4}
	if r := cfg.Rate(); r != -50 {
		t.Errorf("expected -50 pA/s got %g", r)
	}
}

func TestRecordingResetKeepsStorage(t *testing.T) {
	r := NewRecording(8)
	r.Prefix, r.Cell = "x", 3
	r.Append(Sample{Time: 0.5, Voltage: -0.07, Current: 5})
	if d := r.Duration(); d.Seconds() != 0.5 {
		t.Errorf("expected 0.5 s got %s", d)
	}
	r.Reset()
	if r.Len() != 0 || r.Prefix != "" || r.Cell != 0 {
		t.Errorf("reset left state behind: %+v", r)
	}
	if cap(r.Samples) != 8 {
		t.Errorf("expected capacity 8 retained got %d", cap(r.Samples))
	}
}

func ExampleConfig_Rate() {
	cfg := Config{StartAmp: 0, EndAmp: 100, Duration: 30}
	_ = cfg.Rate() // 6.67 pA/s, rising for 15 s then falling for 15 s
}
