package daq

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Remote is a DAQ served over HTTP by another process, for example a
// vendor DAC server.  It speaks the routes of generichttp/daq.
type Remote struct {
	// Addr is the root URL of the device, e.g. http://192.168.100.40:8000/dac
	Addr string

	// Client is used for requests, if nil a client with a one second timeout is made
	Client *http.Client
}

type channelVoltage struct {
	Channel int `json:"channel"`

	Voltage float64 `json:"voltage"`
}

type channelOnly struct {
	Channel int `json:"channel"`
}

type f64 struct {
	F64 float64 `json:"f64"`
}

// NewRemote returns a Remote for the server at addr
func NewRemote(addr string) *Remote {
	return &Remote{Addr: addr, Client: &http.Client{Timeout: time.Second}}
}

// Output writes a voltage to a channel
func (r *Remote) Output(ch int, v float64) error {
	resp, err := r.post("/output", channelVoltage{Channel: ch, Voltage: v})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Input reads a voltage from a channel
func (r *Remote) Input(ch int) (float64, error) {
	resp, err := r.post("/input", channelOnly{Channel: ch})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var out f64
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out.F64, err
}

func (r *Remote) post(route string, payload interface{}) (*http.Response, error) {
	buf := &bytes.Buffer{}
	err := json.NewEncoder(buf).Encode(payload)
	if err != nil {
		return nil, err
	}
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: time.Second}
	}
	resp, err := client.Post(r.Addr+route, "application/json", buf)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s%s: %s: %s", r.Addr, route, resp.Status, bytes.TrimSpace(msg))
	}
	return resp, nil
}
