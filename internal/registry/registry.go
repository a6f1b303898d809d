// Package registry enumerates MIDI inputs and validates stored selections.
package registry

import (
	"fmt"

	"github.com/leandrodaf/faderws/sdk/contracts"
)

// Registry answers device questions by asking the driver every time; ports
// can be hot-plugged, so nothing is cached.
type Registry struct {
	driver contracts.Driver
	logger contracts.Logger
}

// New returns a registry backed by driver.
func New(driver contracts.Driver, logger contracts.Logger) *Registry {
	return &Registry{driver: driver, logger: logger}
}

// ListDevices enumerates the input ports currently present, in driver order.
func (r *Registry) ListDevices() ([]contracts.MidiDevice, error) {
	devices, err := r.driver.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("list midi devices: %w", err)
	}
	for i := range devices {
		devices[i].Connected = true
	}
	r.logger.Debug("midi devices enumerated", r.logger.Field().Int("count", len(devices)))
	return devices, nil
}

// ResolveSelection returns the connected device whose id equals id exactly.
// It never substitutes another device: a missing id yields ErrDeviceNotFound
// and the caller decides how to fall back.
func (r *Registry) ResolveSelection(id string) (contracts.MidiDevice, error) {
	if id == "" {
		return contracts.MidiDevice{}, fmt.Errorf("%w: no device id", contracts.ErrDeviceNotFound)
	}

	devices, err := r.ListDevices()
	if err != nil {
		return contracts.MidiDevice{}, err
	}
	for _, d := range devices {
		if d.ID == id {
			return d, nil
		}
	}
	return contracts.MidiDevice{}, fmt.Errorf("%w: %s", contracts.ErrDeviceNotFound, id)
}

// IsConnected reports whether id is present right now. Enumeration errors
// count as present so a flaky driver does not look like an unplug.
func (r *Registry) IsConnected(id string) bool {
	devices, err := r.driver.ListDevices()
	if err != nil {
		r.logger.Warn("device presence check failed", r.logger.Field().Error("error", err))
		return true
	}
	for _, d := range devices {
		if d.ID == id {
			return true
		}
	}
	return false
}
