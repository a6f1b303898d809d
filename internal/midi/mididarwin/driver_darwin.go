//go:build darwin
// +build darwin

package mididarwin

import (
	"fmt"
	"sync"

	"github.com/leandrodaf/faderws/sdk/contracts"
	"github.com/youpy/go-coremidi"
)

// Driver reads MIDI input through CoreMIDI.
//
// CoreMIDI does not report source removal through the input port, so the
// onError callback of Listen is never invoked here; removal is detected by
// re-enumerating sources.
type Driver struct {
	logger contracts.Logger
	client coremidi.Client
}

// NewDriver creates the CoreMIDI client named in options.
func NewDriver(options *contracts.ClientOptions) (contracts.Driver, error) {
	client, err := coremidi.NewClient(options.CoreMIDIConfig.ClientName)
	if err != nil {
		return nil, fmt.Errorf("coremidi client: %w", err)
	}
	options.Logger.Debug("CoreMIDI client created",
		options.Logger.Field().String("client", options.CoreMIDIConfig.ClientName))

	return &Driver{logger: options.Logger, client: client}, nil
}

// ListDevices enumerates CoreMIDI sources.
func (d *Driver) ListDevices() ([]contracts.MidiDevice, error) {
	sources, err := coremidi.AllSources()
	if err != nil {
		return nil, fmt.Errorf("error listing MIDI sources: %w", err)
	}

	devices := make([]contracts.MidiDevice, 0, len(sources))
	for _, source := range sources {
		devices = append(devices, contracts.MidiDevice{
			ID:           source.Name(),
			Manufacturer: source.Entity().Manufacturer(),
			Connected:    true,
		})
	}
	return devices, nil
}

// Listen connects a new input port to the named source.
func (d *Driver) Listen(name string, onData contracts.RawHandler, onError func(error)) (func() error, error) {
	sources, err := coremidi.AllSources()
	if err != nil {
		return nil, fmt.Errorf("error retrieving MIDI sources: %w", err)
	}

	var (
		source coremidi.Source
		found  bool
	)
	for _, s := range sources {
		if s.Name() == name {
			source, found = s, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", contracts.ErrDeviceNotFound, name)
	}

	var (
		mu      sync.RWMutex
		stopped bool
	)
	inputPort, err := coremidi.NewInputPort(d.client, "faderws input", func(_ coremidi.Source, packet coremidi.Packet) {
		mu.RLock()
		defer mu.RUnlock()
		if stopped {
			return
		}
		onData(packet.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("error creating input port: %w", err)
	}

	conn, err := inputPort.Connect(source)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", name, err)
	}
	d.logger.Debug("CoreMIDI source connected", d.logger.Field().String("device", name))

	var once sync.Once
	return func() error {
		once.Do(func() {
			mu.Lock()
			stopped = true
			mu.Unlock()
			conn.Disconnect()
		})
		return nil
	}, nil
}

// Close is a no-op; CoreMIDI clients live for the process.
func (d *Driver) Close() error {
	return nil
}
