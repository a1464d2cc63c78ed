// Package daq provides a generic HTTP interface to ADC and DAC devices
//
// This is not the last word in speed, due to HTTP having reasonable latency in
// most client languages, but it is the last word in ease of use.  The ramp
// server uses it to expose its analog I/O for bench checks, and daq.Remote
// speaks it from the other end.
package daq

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.jpl.nasa.gov/bdube/iramp/daq"
	"github.jpl.nasa.gov/bdube/iramp/generichttp"
)

// HTTPBasicDAC adds routes for basic DAC operation to a table
func HTTPBasicDAC(iface daq.DAC, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/output"}] = Output(iface)
}

// HTTPBasicADC adds routes for basic ADC operation to a table
func HTTPBasicADC(iface daq.ADC, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/input"}] = Input(iface)
}

type channelVoltage struct {
	Channel int `json:"channel"`

	Voltage float64 `json:"voltage"`
}

// Output returns an HTTP handlerfunc that will write a voltage to a channel
func Output(d daq.DAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input channelVoltage
		err := json.NewDecoder(r.Body).Decode(&input)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = d.Output(input.Channel, input.Voltage)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Input returns an HTTP handlerfunc that will read a voltage from a channel
func Input(d daq.ADC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input channelVoltage
		err := json.NewDecoder(r.Body).Decode(&input)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		v, err := d.Input(input.Channel)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: v}
		hp.EncodeAndRespond(w, r)
	}
}

// HTTPDAQ is a type that allows setting up a device satisfying any
// combination of the interfaces in package daq to an HTTP interface
type HTTPDAQ struct {
	RouteTable generichttp.RouteTable
}

// NewHTTPDAQ sets up an HTTP interface to a device.  d should implement
// daq.DAC, daq.ADC, or both
func NewHTTPDAQ(d interface{}) HTTPDAQ {
	rt := generichttp.RouteTable{}
	if dac, ok := d.(daq.DAC); ok {
		HTTPBasicDAC(dac, rt)
	}
	if adc, ok := d.(daq.ADC); ok {
		HTTPBasicADC(adc, rt)
	}
	return HTTPDAQ{RouteTable: rt}
}

// RT satisfies generichttp.HTTPer
func (h HTTPDAQ) RT() generichttp.RouteTable {
	return h.RouteTable
}
