// Package listener turns a device's raw input stream into ControlValueEvents.
package listener

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leandrodaf/faderws/internal/midi"
	"github.com/leandrodaf/faderws/sdk/contracts"
)

const (
	defaultBufferSize    = 256
	defaultWatchInterval = time.Second
)

// Options configures a Listener.
type Options struct {
	Filter contracts.ControllerFilter
	// BufferSize bounds the raw packets waiting for decoding.
	BufferSize int
	// WatchInterval is how often Presence is polled.
	WatchInterval time.Duration
	// Presence reports whether a device is still plugged in. Nil disables
	// polling; driver errors still end the handle.
	Presence func(id string) bool
}

// Listener opens devices on a driver.
type Listener struct {
	driver contracts.Driver
	logger contracts.Logger
	opts   Options
}

// New returns a listener. Zero option values take defaults.
func New(driver contracts.Driver, logger contracts.Logger, opts Options) *Listener {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = defaultWatchInterval
	}
	return &Listener{driver: driver, logger: logger, opts: opts}
}

// Handle is one open device stream.
type Handle struct {
	device contracts.MidiDevice
	logger contracts.Logger

	raw      chan []byte
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
	stopPort func() error

	mu      sync.Mutex
	err     error
	stopErr error

	dropped   atomic.Uint64
	malformed atomic.Uint64
}

// Start opens device and begins delivering events to onEvent from a single
// dedicated goroutine. onEvent must not call Stop.
func (l *Listener) Start(device contracts.MidiDevice, onEvent func(contracts.ControlValueEvent)) (*Handle, error) {
	h := &Handle{
		device: device,
		logger: l.logger,
		raw:    make(chan []byte, l.opts.BufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	stop, err := l.driver.Listen(device.ID, h.receive, h.portFailed)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", contracts.ErrDeviceOpen, device.ID, err)
	}
	h.stopPort = stop

	l.logger.Info("listening for control changes",
		l.logger.Field().String("device", device.ID),
		l.logger.Field().Int("controller", int(l.opts.Filter.Controller)))

	go h.dispatch(midi.NewDecoder(l.opts.Filter), onEvent)
	if l.opts.Presence != nil {
		go h.watch(l.opts.Presence, l.opts.WatchInterval)
	}
	return h, nil
}

// Device returns the device this handle listens to.
func (h *Handle) Device() contracts.MidiDevice {
	return h.device
}

// Stop closes the stream and returns once no onEvent call is running or can
// start. Later calls return the same result.
func (h *Handle) Stop() error {
	h.shutdown(nil)
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopErr
}

// Done is closed when the handle has fully stopped, either through Stop or
// because the device went away.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns why the handle stopped on its own: an error wrapping
// ErrDeviceDisconnected. It is nil while running and after a plain Stop.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Dropped returns how many raw packets were discarded because decoding fell behind.
func (h *Handle) Dropped() uint64 {
	return h.dropped.Load()
}

// Malformed returns how many packets contained corrupt bytes.
func (h *Handle) Malformed() uint64 {
	return h.malformed.Load()
}

// receive runs on the driver's callback context and never blocks.
func (h *Handle) receive(data []byte) {
	if len(data) == 0 {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	select {
	case <-h.quit:
	case h.raw <- cp:
	default:
		if n := h.dropped.Add(1); n == 1 || n%100 == 0 {
			h.logger.Warn("midi input buffer full; dropping packet",
				h.logger.Field().String("device", h.device.ID),
				h.logger.Field().Uint64("dropped", n))
		}
	}
}

func (h *Handle) portFailed(err error) {
	h.logger.Warn("midi input failed",
		h.logger.Field().String("device", h.device.ID),
		h.logger.Field().Error("error", err))
	h.shutdown(fmt.Errorf("%w: %s: %v", contracts.ErrDeviceDisconnected, h.device.ID, err))
}

func (h *Handle) shutdown(reason error) {
	h.quitOnce.Do(func() {
		if reason != nil {
			h.mu.Lock()
			h.err = reason
			h.mu.Unlock()
		}
		close(h.quit)
	})
}

func (h *Handle) dispatch(dec *midi.Decoder, onEvent func(contracts.ControlValueEvent)) {
	defer close(h.done)

	for {
		select {
		case <-h.quit:
			err := h.stopPort()
			h.mu.Lock()
			h.stopErr = err
			h.mu.Unlock()
			h.logger.Info("midi listener stopped", h.logger.Field().String("device", h.device.ID))
			return
		case data := <-h.raw:
			if err := dec.Decode(data, onEvent); err != nil {
				h.malformed.Add(1)
				h.logger.Warn("dropping malformed midi data",
					h.logger.Field().String("device", h.device.ID),
					h.logger.Field().Error("error", err))
			}
		}
	}
}

func (h *Handle) watch(present func(string) bool, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-h.quit:
			return
		case <-ticker.C:
			if !present(h.device.ID) {
				h.logger.Warn("midi device disappeared", h.logger.Field().String("device", h.device.ID))
				h.shutdown(fmt.Errorf("%w: %s", contracts.ErrDeviceDisconnected, h.device.ID))
				return
			}
		}
	}
}
