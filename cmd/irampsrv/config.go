package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"golang.org/x/time/rate"

	"github.jpl.nasa.gov/bdube/iramp/cell"
	"github.jpl.nasa.gov/bdube/iramp/daq"
	"github.jpl.nasa.gov/bdube/iramp/datalog"
	"github.jpl.nasa.gov/bdube/iramp/eventbus"
	"github.jpl.nasa.gov/bdube/iramp/generichttp"
	daqhttp "github.jpl.nasa.gov/bdube/iramp/generichttp/daq"
	"github.jpl.nasa.gov/bdube/iramp/generichttp/stim"
	"github.jpl.nasa.gov/bdube/iramp/ramp"
	"github.jpl.nasa.gov/bdube/iramp/rt"
	"github.jpl.nasa.gov/bdube/iramp/server"
)

// Recording controls what happens to recorded samples
type Recording struct {
	// Dir is the folder recordings are written to
	Dir string `yaml:"Dir" koanf:"Dir"`

	// Format is one of csv, fits, sqlite, or none, or a comma separated
	// list such as csv,fits to write each recording more than once
	Format string `yaml:"Format" koanf:"Format"`

	// Notify publishes recording started/stopped events
	Notify bool `yaml:"Notify" koanf:"Notify"`

	// Persist writes completed recordings with the sink named by Format
	Persist bool `yaml:"Persist" koanf:"Persist"`

	// Capacity is the number of samples preallocated per buffer
	Capacity int `yaml:"Capacity" koanf:"Capacity"`

	// Buffers is the number of recording buffers
	Buffers int `yaml:"Buffers" koanf:"Buffers"`

	// RetryFor bounds the time spent retrying a failed write
	RetryFor time.Duration `yaml:"RetryFor" koanf:"RetryFor"`
}

// IO describes the analog interface to the amplifier
type IO struct {
	// Remote is the root URL of a DAQ server, used when not in mock mode
	Remote string `yaml:"Remote" koanf:"Remote"`

	InputChannel  int `yaml:"InputChannel" koanf:"InputChannel"`
	OutputChannel int `yaml:"OutputChannel" koanf:"OutputChannel"`

	// VoltageScale converts ADC volts to membrane volts
	VoltageScale float64 `yaml:"VoltageScale" koanf:"VoltageScale"`

	// CommandScale converts amperes to DAC volts
	CommandScale float64 `yaml:"CommandScale" koanf:"CommandScale"`

	// MinVolts and MaxVolts clamp the DAC output
	MinVolts float64 `yaml:"MinVolts" koanf:"MinVolts"`
	MaxVolts float64 `yaml:"MaxVolts" koanf:"MaxVolts"`
}

// Config is the complete server configuration
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Endpoint is the URL stem the ramp is served under
	Endpoint string `yaml:"Endpoint" koanf:"Endpoint"`

	// Mock replaces the amplifier with a simulated cell
	Mock bool `yaml:"Mock" koanf:"Mock"`

	// Period is the tick period of the real-time loop
	Period time.Duration `yaml:"Period" koanf:"Period"`

	// QueueDepth is the capacity of the command channel
	QueueDepth int `yaml:"QueueDepth" koanf:"QueueDepth"`

	// PollInterval is how often the ramp button checks for completion
	PollInterval time.Duration `yaml:"PollInterval" koanf:"PollInterval"`

	// ToggleRate is the number of toggle requests allowed per second
	ToggleRate float64 `yaml:"ToggleRate" koanf:"ToggleRate"`

	Ramp      ramp.Config `yaml:"Ramp" koanf:"Ramp"`
	Recording Recording   `yaml:"Recording" koanf:"Recording"`
	IO        IO          `yaml:"IO" koanf:"IO"`
	Cell      cell.Config `yaml:"Cell" koanf:"Cell"`
}

// DefaultConfig is a mock server writing CSV files to ./recordings
func DefaultConfig() Config {
	return Config{
		Addr:         ":8000",
		Endpoint:     "/iramp",
		Mock:         true,
		Period:       time.Millisecond,
		QueueDepth:   16,
		PollInterval: time.Second,
		ToggleRate:   5,
		Ramp:         ramp.DefaultConfig(),
		Recording: Recording{
			Dir:      "recordings",
			Format:   "csv",
			Notify:   true,
			Persist:  true,
			Capacity: 1 << 16,
			Buffers:  2,
			RetryFor: 10 * time.Second},
		IO: IO{
			VoltageScale: 0.1,
			CommandScale: 1 / 400e-12,
			MinVolts:     -10,
			MaxVolts:     10},
		Cell: cell.DefaultConfig()}
}

// Server is every component of irampsrv, wired together
type Server struct {
	cfg Config

	Bus     *eventbus.Bus
	Engine  *ramp.Engine
	System  *rt.System
	Latch   *ramp.Latch
	Flusher *datalog.Flusher
	Router  chi.Router
}

var recordingExtensions = map[string]string{
	"csv":    ".csv",
	"fits":   ".fits",
	"sqlite": ".sqlite3",
}

// inputOnly hides the DAC so the analog output stays under control of the
// real-time loop
type inputOnly struct {
	adc daq.ADC
}

func (i inputOnly) Input(ch int) (float64, error) { return i.adc.Input(ch) }

// Build assembles a Server from its configuration.  Nothing is started.
func Build(c Config) (*Server, error) {
	var (
		adc daq.ADC
		dac daq.DAC
		sys rt.Config
	)
	sys.Period = c.Period
	if c.Mock {
		m, err := cell.New(c.Cell)
		if err != nil {
			return nil, err
		}
		adc, dac = m, m
		log.Printf("mock mode, simulated cell with time constant %s", m.Tau())
	} else {
		if c.IO.Remote == "" {
			return nil, errors.New("IO.Remote must be set when Mock is false")
		}
		remote := daq.NewRemote(c.IO.Remote)
		scaled := daq.Scaled{
			ADC:      remote,
			DAC:      remote,
			InScale:  c.IO.VoltageScale,
			OutScale: c.IO.CommandScale,
			Min:      c.IO.MinVolts,
			Max:      c.IO.MaxVolts}
		adc, dac = scaled, scaled
		sys.InputChannel = c.IO.InputChannel
		sys.OutputChannel = c.IO.OutputChannel
	}

	sink := datalog.Sink(datalog.Discard{})
	if c.Recording.Persist {
		var err error
		sink, err = datalog.Open(c.Recording.Format, c.Recording.Dir)
		if err != nil {
			return nil, err
		}
	}

	bus := eventbus.New(64)
	eng, err := ramp.NewEngine(c.Ramp, ramp.Options{
		Period:     c.Period,
		QueueDepth: c.QueueDepth,
		Buffers:    c.Recording.Buffers,
		Capacity:   c.Recording.Capacity,
		Notify:     c.Recording.Notify,
		Persist:    c.Recording.Persist,
		Bus:        bus})
	if err != nil {
		return nil, err
	}
	system, err := rt.New(eng, adc, dac, sys)
	if err != nil {
		return nil, err
	}
	latch := ramp.NewLatch(eng)

	var toggles *rate.Limiter
	if c.ToggleRate > 0 {
		toggles = rate.NewLimiter(rate.Limit(c.ToggleRate), 1)
	}
	httpRamp := stim.NewHTTPRamp(eng, system, latch, bus, toggles)
	httpIO := daqhttp.NewHTTPDAQ(inputOnly{adc})

	mounts := map[string]generichttp.HTTPer{
		c.Endpoint:         httpRamp,
		c.Endpoint + "/io": httpIO,
	}
	if c.Recording.Persist {
		var exts []string
		for _, format := range datalog.Formats(c.Recording.Format) {
			if ext, ok := recordingExtensions[format]; ok {
				exts = append(exts, ext)
			}
		}
		if len(exts) > 0 {
			mounts[c.Endpoint+"/recordings"] = server.Files{Dir: c.Recording.Dir, Extensions: exts}
		}
	}

	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}
	for stem, httper := range mounts {
		stem = generichttp.SubMuxSanitize(stem)
		supergraph[stem] = httper.RT().Endpoints()
		r := chi.NewRouter()
		httper.RT().Bind(r)
		root.Mount(stem, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	return &Server{
		cfg:    c,
		Bus:    bus,
		Engine: eng,
		System: system,
		Latch:  latch,
		Flusher: &datalog.Flusher{
			Source:   eng,
			Sink:     sink,
			Bus:      bus,
			Name:     eng.Source(),
			RetryFor: c.Recording.RetryFor},
		Router: root}, nil
}

// Start launches the background loops.  The returned function waits for
// them to finish after ctx is done, then closes the sink.
func (s *Server) Start(ctx context.Context) (wait func()) {
	var wg sync.WaitGroup
	loops := []func(){
		func() { s.Bus.Run(ctx) },
		func() { s.Flusher.Run(ctx) },
		func() { s.Latch.Poll(ctx, s.cfg.PollInterval) },
		func() { ramp.Mirror(ctx, s.Bus, s.Engine) },
		func() {
			err := s.System.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Println("real-time loop exited", err)
			}
		},
	}
	wg.Add(len(loops))
	for _, loop := range loops {
		go func(f func()) {
			defer wg.Done()
			f()
		}(loop)
	}
	return func() {
		wg.Wait()
		if err := s.Flusher.Sink.Close(); err != nil {
			log.Println("closing recording sink", err)
		}
	}
}

// Run starts the server and blocks until ctx is done or the listener fails.
// Either way the background loops are stopped and waited for before it
// returns.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	wait := s.Start(ctx)
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.Router}
	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()
	log.Println("now listening for requests at", s.cfg.Addr)

	var err error
	select {
	case <-ctx.Done():
	case err = <-errs:
		err = fmt.Errorf("http server: %w", err)
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdown)
	stop()
	wait()
	return err
}
