package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "irampsrv.yml"

	// EnvPrefix marks environment variables that override the config file.
	// Nesting is spelled with a double underscore, IRAMP_RAMP__ENDAMP=250
	EnvPrefix = "IRAMP_"
	k         = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	known := map[string]string{}
	for _, key := range k.Keys() {
		known[strings.ToLower(key)] = key
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		key = strings.ReplaceAll(key, "__", ".")
		if canon, ok := known[key]; ok {
			return canon
		}
		return key
	}), nil)
	if err != nil {
		log.Fatalf("error loading environment: %v", err)
	}
}

func root() {
	str := `irampsrv drives a current ramp into a patch clamped cell and records the
membrane voltage it produces.  The ramp is controlled over HTTP.

Usage:
	irampsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `irampsrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Any key may be overridden from the environment, e.g.
	IRAMP_ADDR=:9000
	IRAMP_RAMP__ENDAMP=250
	IRAMP_RECORDING__FORMAT=fits

With Mock: true the amplifier is replaced by a simulated RC membrane, and
no hardware is needed.  Otherwise IO.Remote is the root URL of a DAQ server
exposing POST /input and POST /output.

Recording.Format is one of csv, fits, sqlite, or none.

Routes are served under Endpoint, e.g. /iramp:
	POST /toggle    {"ramp": true, "record": true} starts a recorded ramp
	GET  /toggle    the state of the ramp button
	GET  /done      true once the last ramp has settled
	GET  /config    POST /config
	GET  /telemetry
	GET  /period    POST /period {"str": "500us"}
	POST /pause     POST /resume
	GET  /events    websocket stream of recording events
and /endpoints lists every route.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("irampsrv version %v\n", Version)
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	srv, err := Build(c)
	if err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = srv.Run(ctx)
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run()
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
