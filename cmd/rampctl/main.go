package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"
	yml "gopkg.in/yaml.v2"

	"github.jpl.nasa.gov/bdube/iramp/util"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"
	k       = koanf.New(".")
)

// Config addresses the server
type Config struct {
	URL     string        `yaml:"URL" koanf:"url"`
	Timeout time.Duration `yaml:"Timeout" koanf:"timeout"`
	Poll    time.Duration `yaml:"Poll" koanf:"poll"`
}

func setupconfig() Config {
	k.Load(structs.Provider(Config{
		URL:     "http://localhost:8000/iramp",
		Timeout: 5 * time.Second,
		Poll:    250 * time.Millisecond}, "koanf"), nil)
	err := k.Load(env.Provider("RAMPCTL_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "RAMPCTL_"))
	}), nil)
	if err != nil {
		log.Fatal(err)
	}
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `rampctl drives an irampsrv from the command line

Usage:
	rampctl <command> [args]

Commands:
	start [record]   press the ramp button, optionally recording
	stop             release the ramp button
	wait             block until the ramp settles
	run [record]     start, then wait
	status           print telemetry
	set key=value... merge keys into the ramp configuration
	conf             print the client configuration
	version

The server is found at RAMPCTL_URL, default http://localhost:8000/iramp`
	fmt.Println(str)
}

// parseAssignments turns key=value pairs into a JSON-able map, numbers and
// booleans become numbers and booleans
func parseAssignments(args []string) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	for _, a := range args {
		kv := strings.SplitN(a, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("%q is not key=value", a)
		}
		if f, err := strconv.ParseFloat(kv[1], 64); err == nil {
			out[kv[0]] = f
		} else if b, err := strconv.ParseBool(kv[1]); err == nil {
			out[kv[0]] = b
		} else {
			out[kv[0]] = kv[1]
		}
	}
	return out, nil
}

func wait(c Client, mark uint64, poll time.Duration) error {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ramping",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
		Writer:            os.Stderr})
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	spinner.Start()
	err = c.Wait(ctx, mark, poll, func(t Telemetry) {
		elapsed := util.SecsToDuration(t.Elapsed).Truncate(time.Millisecond)
		spinner.Message(fmt.Sprintf("%s %.1f pA %.1f mV %d samples %s", t.Phase, t.Current, t.Voltage*1e3, t.Samples, elapsed))
	})
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		return err
	}
	spinner.StopMessage("done")
	return spinner.Stop()
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cfg := setupconfig()
	c := Client{URL: cfg.URL, HTTP: &http.Client{Timeout: cfg.Timeout}}
	record := len(args) > 2 && strings.ToLower(args[2]) == "record"

	var err error
	switch strings.ToLower(args[1]) {
	case "start":
		err = c.Start(record)
	case "stop":
		err = c.Stop()
	case "wait":
		var t Telemetry
		t, err = c.Telemetry()
		if err == nil && !(t.Done && t.Pending == 0) {
			err = wait(c, t.Completions, cfg.Poll)
		}
	case "run":
		var mark uint64
		mark, err = c.Mark()
		if err == nil {
			err = c.Start(record)
		}
		if err == nil {
			err = wait(c, mark, cfg.Poll)
		}
	case "status":
		var t Telemetry
		t, err = c.Telemetry()
		if err == nil {
			err = yml.NewEncoder(os.Stdout).Encode(t)
		}
	case "set":
		var m map[string]interface{}
		m, err = parseAssignments(args[2:])
		if err == nil {
			err = c.Configure(m)
		}
	case "conf":
		err = yml.NewEncoder(os.Stdout).Encode(cfg)
	case "version":
		fmt.Printf("rampctl version %v\n", Version)
	default:
		root()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}
