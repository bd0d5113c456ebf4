package tools

import (
	"context"
	"fmt"
	"sync"

	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
)

// LightState is the last setting applied to the room light.
type LightState struct {
	Brightness       float64 `json:"brightness"`
	ColorTemperature string  `json:"colorTemperature"`
}

// Light is an in-memory room light.
type Light struct {
	mu    sync.Mutex
	state LightState
}

func NewLight() *Light {
	return &Light{state: LightState{ColorTemperature: "daylight"}}
}

func (l *Light) Set(brightness float64, colorTemperature string) LightState {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = LightState{Brightness: brightness, ColorTemperature: colorTemperature}
	return l.state
}

func (l *Light) State() LightState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ControlLight exposes l as the controlLight tool.
func ControlLight(l *Light) ports.ToolSpec {
	return ports.ToolSpec{
		Name:        "controlLight",
		Description: "Set the brightness and color temperature of a room light.",
		Parameters: ports.Schema{
			"brightness": {
				Type:        ports.TypeNumber,
				Required:    true,
				Description: "Light level from 0 to 100. Zero is off and 100 is full brightness.",
			},
			"colorTemperature": {
				Type:        ports.TypeString,
				Required:    true,
				Description: "Color temperature of the light fixture which can be `daylight`, `cool` or `warm`.",
				Enum:        []string{"daylight", "cool", "warm"},
			},
		},
		Handler: func(ctx context.Context, args ports.Arguments) (any, error) {
			brightness, _ := args.Float("brightness")
			temperature, _ := args.String("colorTemperature")
			if brightness < 0 || brightness > 100 {
				return nil, fmt.Errorf("brightness %v out of range [0, 100]", brightness)
			}
			return l.Set(brightness, temperature), nil
		},
	}
}
