// Package tools provides the built-in tools the assistant can call.
package tools

import (
	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
)

// Options wires external data sources into the built-in tools. Nil lookups
// leave the corresponding tool unregistered.
type Options struct {
	Light   *Light
	Weather WeatherLookup
	Quotes  QuoteLookup
}

// Defaults returns every built-in tool enabled by opts.
func Defaults(opts Options) []ports.ToolSpec {
	specs := Arithmetic()
	light := opts.Light
	if light == nil {
		light = NewLight()
	}
	specs = append(specs, ControlLight(light))
	if opts.Weather != nil {
		specs = append(specs, CurrentWeather(opts.Weather))
	}
	if opts.Quotes != nil {
		specs = append(specs, StockPrice(opts.Quotes))
	}
	return specs
}
