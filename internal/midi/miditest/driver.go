// Package miditest provides an in-memory contracts.Driver whose ports can be
// plugged, unplugged and fed with raw bytes.
package miditest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/leandrodaf/faderws/sdk/contracts"
)

// ErrOpenFailed is returned by Listen for ports marked with FailOpen.
var ErrOpenFailed = errors.New("miditest: open failed")

type listener struct {
	onData  contracts.RawHandler
	onError func(error)
	mu      sync.Mutex // serializes deliveries with stop
	stopped bool
}

// Driver is a fake MIDI driver. The zero value is not usable; use NewDriver.
type Driver struct {
	mu        sync.Mutex
	ports     []string
	failOpen  map[string]bool
	listeners map[string][]*listener
	listErr   error
	closed    bool
}

// NewDriver returns a driver with the given ports plugged in.
func NewDriver(ports ...string) *Driver {
	return &Driver{
		ports:     append([]string(nil), ports...),
		failOpen:  make(map[string]bool),
		listeners: make(map[string][]*listener),
	}
}

// ListDevices returns the plugged ports in plug order.
func (d *Driver) ListDevices() ([]contracts.MidiDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.listErr != nil {
		return nil, d.listErr
	}
	devices := make([]contracts.MidiDevice, 0, len(d.ports))
	for _, p := range d.ports {
		devices = append(devices, contracts.MidiDevice{ID: p, Manufacturer: "miditest", Connected: true})
	}
	return devices, nil
}

// Listen attaches a listener to a plugged port.
func (d *Driver) Listen(name string, onData contracts.RawHandler, onError func(error)) (func() error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("miditest: driver closed")
	}
	if !d.hasPort(name) {
		return nil, fmt.Errorf("miditest: no port %q", name)
	}
	if d.failOpen[name] {
		return nil, ErrOpenFailed
	}

	l := &listener{onData: onData, onError: onError}
	d.listeners[name] = append(d.listeners[name], l)

	return func() error {
		l.mu.Lock()
		l.stopped = true
		l.mu.Unlock()
		d.detach(name, l)
		return nil
	}, nil
}

// Close detaches every listener.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.listeners = make(map[string][]*listener)
	return nil
}

// Plug adds a port.
func (d *Driver) Plug(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasPort(name) {
		d.ports = append(d.ports, name)
	}
}

// Unplug removes a port. When notify is true the listeners' error callbacks
// fire, mimicking drivers that report removal; otherwise the port just
// vanishes from enumeration.
func (d *Driver) Unplug(name string, notify bool) {
	d.mu.Lock()
	for i, p := range d.ports {
		if p == name {
			d.ports = append(d.ports[:i], d.ports[i+1:]...)
			break
		}
	}
	ls := d.listeners[name]
	delete(d.listeners, name)
	d.mu.Unlock()

	if !notify {
		return
	}
	for _, l := range ls {
		if l.onError != nil {
			l.onError(fmt.Errorf("miditest: port %q removed", name))
		}
	}
}

// FailOpen makes Listen fail for the named port.
func (d *Driver) FailOpen(name string, fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOpen[name] = fail
}

// FailList makes ListDevices return err; nil restores normal behaviour.
func (d *Driver) FailList(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listErr = err
}

// Emit delivers raw bytes to every listener of the port, synchronously.
// It reports whether at least one listener received them.
func (d *Driver) Emit(name string, data ...byte) bool {
	d.mu.Lock()
	ls := append([]*listener(nil), d.listeners[name]...)
	d.mu.Unlock()

	delivered := false
	for _, l := range ls {
		l.mu.Lock()
		if !l.stopped {
			l.onData(data)
			delivered = true
		}
		l.mu.Unlock()
	}
	return delivered
}

// Listeners returns how many listeners are attached to a port.
func (d *Driver) Listeners(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners[name])
}

func (d *Driver) hasPort(name string) bool {
	for _, p := range d.ports {
		if p == name {
			return true
		}
	}
	return false
}

func (d *Driver) detach(name string, l *listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ls := d.listeners[name]
	for i, x := range ls {
		if x == l {
			d.listeners[name] = append(ls[:i], ls[i+1:]...)
			return
		}
	}
}
