package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrRefused is returned when the server answers with a non-2xx status
	ErrRefused = errors.New("request refused")
)

// Client talks to the ramp routes of an irampsrv
type Client struct {
	// URL is the root of the ramp routes, e.g. http://localhost:8000/iramp
	URL string

	HTTP *http.Client
}

// Telemetry is the subset of the telemetry route rampctl prints
type Telemetry struct {
	Elapsed     float64 `json:"elapsed"`
	Voltage     float64 `json:"voltage"`
	Current     float64 `json:"current"`
	Phase       string  `json:"phase"`
	Done        bool    `json:"done"`
	Recording   bool    `json:"recording"`
	Paused      bool    `json:"paused"`
	Samples     int     `json:"samples"`
	Ticks       uint64  `json:"ticks"`
	Period      string  `json:"period"`
	Completions uint64  `json:"completions"`
	Refused     uint64  `json:"refused"`
	Pending     int     `json:"pending"`
}

func (c Client) do(method, route string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return err
		}
		body = buf
	}
	req, err := http.NewRequest(method, strings.TrimSuffix(c.URL, "/")+route, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s %s: %d %s", ErrRefused, method, route, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Start presses the ramp button
func (c Client) Start(record bool) error {
	return c.do(http.MethodPost, "/toggle", map[string]bool{"ramp": true, "record": record}, nil)
}

// Stop releases the ramp button, the ramp falls from where it is
func (c Client) Stop() error {
	return c.do(http.MethodPost, "/toggle", map[string]bool{"ramp": false, "record": false}, nil)
}

// Done reports whether the last ramp has settled
func (c Client) Done() (bool, error) {
	var hp struct {
		Bool bool `json:"bool"`
	}
	err := c.do(http.MethodGet, "/done", nil, &hp)
	return hp.Bool, err
}

// Telemetry fetches a snapshot of the engine
func (c Client) Telemetry() (Telemetry, error) {
	var t Telemetry
	err := c.do(http.MethodGet, "/telemetry", nil, &t)
	return t, err
}

// Configure merges cfg onto the committed ramp configuration
func (c Client) Configure(cfg map[string]interface{}) error {
	return c.do(http.MethodPost, "/config", cfg, nil)
}

// Mark returns the number of ramps completed so far.  Taken before Start,
// it is what Wait compares against.
func (c Client) Mark() (uint64, error) {
	t, err := c.Telemetry()
	return t.Completions, err
}

// Wait polls telemetry every interval until a ramp completes after mark.
// Done alone is not enough: right after a start it still describes the
// previous ramp until the tick loop takes the command.  progress, if not
// nil, sees every snapshot.
func (c Client) Wait(ctx context.Context, mark uint64, interval time.Duration, progress func(Telemetry)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t, err := c.Telemetry()
		if err != nil {
			return err
		}
		if progress != nil {
			progress(t)
		}
		if t.Done && t.Completions > mark {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
