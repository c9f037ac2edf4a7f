package output

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	iface "PresenceSensor/interface"
)

// GPIO drives a single output line high for presence.
type GPIO struct {
	pin gpio.PinOut
}

// OpenGPIO initializes the host drivers and claims the named line.
func OpenGPIO(name string) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, iface.NewConfigError("gpio", err)
	}
	return LookupGPIO(name)
}

// LookupGPIO claims a line from the registry without touching host drivers.
func LookupGPIO(name string) (*GPIO, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, iface.NewConfigError("gpio", fmt.Errorf("no such pin %q", name))
	}
	g := NewGPIO(pin)
	if err := g.Set(false); err != nil {
		return nil, iface.NewConfigError("gpio", err)
	}
	return g, nil
}

func NewGPIO(pin gpio.PinOut) *GPIO {
	return &GPIO{pin: pin}
}

func (g *GPIO) Set(active bool) error {
	level := gpio.Low
	if active {
		level = gpio.High
	}
	if err := g.pin.Out(level); err != nil {
		return fmt.Errorf("gpio %s: %w", g.pin.Name(), err)
	}
	return nil
}
