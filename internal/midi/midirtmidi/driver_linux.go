//go:build linux
// +build linux

package midirtmidi

import (
	"fmt"
	"strings"
	"sync"

	"github.com/leandrodaf/faderws/sdk/contracts"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// excludedPorts are ALSA system ports that never carry controller data.
var excludedPorts = []string{"Midi Through", "Through Port"}

// Driver reads MIDI input through rtmidi (ALSA).
type Driver struct {
	logger contracts.Logger
	mu     sync.Mutex
	drv    *rtmididrv.Driver
}

// NewDriver opens the rtmidi driver.
func NewDriver(options *contracts.ClientOptions) (contracts.Driver, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}
	return &Driver{logger: options.Logger, drv: drv}, nil
}

// ListDevices enumerates rtmidi input ports, skipping system through ports.
func (d *Driver) ListDevices() ([]contracts.MidiDevice, error) {
	ins, err := d.inputs()
	if err != nil {
		return nil, err
	}

	devices := make([]contracts.MidiDevice, 0, len(ins))
	for _, in := range ins {
		if excluded(in.String()) {
			d.logger.Debug("input excluded", d.logger.Field().String("device", in.String()))
			continue
		}
		devices = append(devices, contracts.MidiDevice{ID: in.String(), Connected: true})
	}
	return devices, nil
}

// Listen opens the named port and streams its messages to onData.
func (d *Driver) Listen(name string, onData contracts.RawHandler, onError func(error)) (func() error, error) {
	ins, err := d.inputs()
	if err != nil {
		return nil, err
	}

	var found drivers.In
	for _, in := range ins {
		if in.String() == name {
			found = in
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", contracts.ErrDeviceNotFound, name)
	}
	if err := found.Open(); err != nil {
		return nil, fmt.Errorf("open %q: %w", name, err)
	}

	var errOnce sync.Once
	stop, err := gomidi.ListenTo(found, func(msg gomidi.Message, _ int32) {
		onData([]byte(msg))
	}, gomidi.HandleError(func(listenErr error) {
		errOnce.Do(func() {
			if onError != nil {
				onError(listenErr)
			}
		})
	}))
	if err != nil {
		_ = found.Close()
		return nil, fmt.Errorf("listen %q: %w", name, err)
	}

	var once sync.Once
	var closeErr error
	return func() error {
		once.Do(func() {
			stop()
			closeErr = found.Close()
		})
		return closeErr
	}, nil
}

// Close shuts the rtmidi driver down.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drv.Close()
}

func (d *Driver) inputs() ([]drivers.In, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ins, err := d.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("error listing MIDI inputs: %w", err)
	}
	return ins, nil
}

func excluded(name string) bool {
	lower := strings.ToLower(name)
	for _, pat := range excludedPorts {
		if strings.Contains(lower, strings.ToLower(pat)) {
			return true
		}
	}
	return false
}
