//go:build !windows
// +build !windows

package midiwindows

import (
	"fmt"

	"github.com/leandrodaf/faderws/sdk/contracts"
)

type dummyDriver struct {
	logger contracts.Logger
}

// NewDriver returns a driver that fails every call on non-Windows systems.
func NewDriver(options *contracts.ClientOptions) (contracts.Driver, error) {
	return &dummyDriver{logger: options.Logger}, nil
}

func (d *dummyDriver) ListDevices() ([]contracts.MidiDevice, error) {
	d.logger.Warn("ListDevices called on dummy winmm driver")
	return nil, fmt.Errorf("%w: winmm is not available on this platform", contracts.ErrUnsupportedOS)
}

func (d *dummyDriver) Listen(string, contracts.RawHandler, func(error)) (func() error, error) {
	d.logger.Warn("Listen called on dummy winmm driver")
	return nil, fmt.Errorf("%w: winmm is not available on this platform", contracts.ErrUnsupportedOS)
}

func (d *dummyDriver) Close() error {
	return nil
}
