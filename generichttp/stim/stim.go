// Package stim exposes a current ramp stimulus over HTTP.
//
// The toggle route is the ramp button: posting {"ramp": true, "record": true}
// latches it and starts a recorded ramp, posting {"ramp": false} stops the
// ramp and releases it.  The latch is also released by the completion
// poller once the ramp has settled.
package stim

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.jpl.nasa.gov/bdube/iramp/eventbus"
	"github.jpl.nasa.gov/bdube/iramp/generichttp"
	"github.jpl.nasa.gov/bdube/iramp/ramp"
	"github.jpl.nasa.gov/bdube/iramp/rt"
	"github.jpl.nasa.gov/bdube/iramp/server/middleware/locker"
	"golang.org/x/time/rate"
)

// Host is the loop driving the engine
type Host interface {
	Period() time.Duration
	SetPeriod(time.Duration) error
	Pause()
	Resume()
	Paused() bool
}

// HTTPRamp wraps a ramp engine and its host in an HTTP interface
type HTTPRamp struct {
	Engine *ramp.Engine
	Host   Host
	Latch  *ramp.Latch
	Lock   *locker.Locker

	RouteTable generichttp.RouteTable
}

// NewHTTPRamp builds the route table.  bus may be nil, in which case no
// /events route is served.  toggles limits the rate of POST /toggle, it
// may be nil for no limit.
func NewHTTPRamp(e *ramp.Engine, h Host, l *ramp.Latch, bus *eventbus.Bus, toggles *rate.Limiter) HTTPRamp {
	w := HTTPRamp{
		Engine:     e,
		Host:       h,
		Latch:      l,
		Lock:       locker.New(),
		RouteTable: generichttp.RouteTable{}}
	table := w.RouteTable

	toggle := w.Lock.Wrap(PostToggle(e, l))
	if toggles != nil {
		toggle = generichttp.RateLimit(toggles)(toggle).ServeHTTP
	}
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/toggle"}] = toggle
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/toggle"}] = generichttp.GetBool(func() (bool, error) { return l.Checked(), nil })

	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/config"}] = GetConfig(e)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/config"}] = w.Lock.Wrap(PostConfig(e, l))

	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/telemetry"}] = GetTelemetry(e, h)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/done"}] = generichttp.GetBool(func() (bool, error) { return e.Done(), nil })
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/current"}] = generichttp.GetFloat(func() (float64, error) { return e.Current(), nil })
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/voltage"}] = generichttp.GetFloat(func() (float64, error) { return e.Voltage(), nil })
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/pending"}] = generichttp.GetInt(func() (int, error) { return e.Pending(), nil })
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/record"}] = w.Lock.Wrap(generichttp.SetBool(e.SetRecording, Status))

	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/period"}] = generichttp.GetString(func() (string, error) { return h.Period().String(), nil })
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/period"}] = w.Lock.Wrap(generichttp.SetString(func(s string) error {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%w: %v", rt.ErrBadPeriod, err)
		}
		return h.SetPeriod(d)
	}, Status))

	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/pause"}] = generichttp.Trigger(func() error {
		h.Pause()
		w.Lock.Lock()
		return nil
	})
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/resume"}] = generichttp.Trigger(func() error {
		h.Resume()
		w.Lock.Unlock()
		return nil
	})
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/paused"}] = generichttp.GetBool(func() (bool, error) { return h.Paused(), nil })

	if bus != nil {
		table[generichttp.MethodPath{Method: http.MethodGet, Path: "/events"}] = eventbus.Handler(bus)
	}
	locker.Inject(w, w.Lock)
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPRamp) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Status maps the errors of this package's dependencies to HTTP status codes
func Status(err error) int {
	switch {
	case errors.Is(err, ramp.ErrInvalidConfiguration), errors.Is(err, rt.ErrBadPeriod):
		return http.StatusBadRequest
	case errors.Is(err, ramp.ErrChannelSaturated):
		return http.StatusConflict
	case errors.Is(err, ramp.ErrPaused):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// PostToggle returns a handler that posts a ToggleCommand from the request body
func PostToggle(e *ramp.Engine, l *ramp.Latch) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd ramp.ToggleCommand
		err := json.NewDecoder(r.Body).Decode(&cmd)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		undo := l.Hold(cmd.StartRamp)
		err = e.Post(cmd)
		if err != nil {
			undo()
			http.Error(w, err.Error(), Status(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetConfig returns a handler that responds with the committed configuration
func GetConfig(e *ramp.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		generichttp.JSON(w, e.Config())
	}
}

// PostConfig returns a handler that commits the configuration in the
// request body.  Fields absent from the body keep their committed values.
func PostConfig(e *ramp.Engine, l *ramp.Latch) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := e.Config()
		cfg.Ramp, cfg.Record = false, false
		err := json.NewDecoder(r.Body).Decode(&cfg)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		undo := func() {}
		if cfg.Ramp {
			undo = l.Hold(true)
		}
		err = e.Configure(cfg)
		if err != nil {
			undo()
			http.Error(w, err.Error(), Status(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

type telemetry struct {
	ramp.Telemetry
	Period      string `json:"period"`
	Completions uint64 `json:"completions"`
	Refused     uint64 `json:"refused"`
	Pending     int    `json:"pending"`
}

// GetTelemetry returns a handler that responds with a telemetry snapshot
func GetTelemetry(e *ramp.Engine, h Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		generichttp.JSON(w, telemetry{
			Telemetry:   e.Telemetry(),
			Period:      h.Period().String(),
			Completions: e.Completions(),
			Refused:     e.Refused(),
			Pending:     e.Pending()})
	}
}
