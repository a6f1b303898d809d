//go:build !linux
// +build !linux

package midirtmidi

import (
	"fmt"

	"github.com/leandrodaf/faderws/sdk/contracts"
)

type dummyDriver struct {
	logger contracts.Logger
}

// NewDriver returns a driver that fails every call outside linux.
func NewDriver(options *contracts.ClientOptions) (contracts.Driver, error) {
	return &dummyDriver{logger: options.Logger}, nil
}

func (d *dummyDriver) ListDevices() ([]contracts.MidiDevice, error) {
	d.logger.Warn("ListDevices called on dummy rtmidi driver")
	return nil, fmt.Errorf("%w: rtmidi driver is only built for linux", contracts.ErrUnsupportedOS)
}

func (d *dummyDriver) Listen(string, contracts.RawHandler, func(error)) (func() error, error) {
	d.logger.Warn("Listen called on dummy rtmidi driver")
	return nil, fmt.Errorf("%w: rtmidi driver is only built for linux", contracts.ErrUnsupportedOS)
}

func (d *dummyDriver) Close() error {
	return nil
}
