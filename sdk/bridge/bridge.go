// Package bridge is the public entry point: it lists and selects MIDI
// devices, learns the fader's controller and runs the websocket session.
package bridge

import (
	"context"
	"time"

	"github.com/leandrodaf/faderws/internal/learn"
	"github.com/leandrodaf/faderws/internal/midi"
	"github.com/leandrodaf/faderws/internal/registry"
	"github.com/leandrodaf/faderws/internal/session"
	"github.com/leandrodaf/faderws/internal/store"
	"github.com/leandrodaf/faderws/sdk/contracts"
)

// Bridge holds the driver, registry and config store shared by every
// operation. Create it with NewBridge and release it with Close.
type Bridge struct {
	opts     contracts.ClientOptions
	logger   contracts.Logger
	driver   contracts.Driver
	registry *registry.Registry
	store    store.Store
}

// NewBridge creates a bridge with the specified options, applying defaults
// for everything left unset.
func NewBridge(opts ...contracts.Option) (*Bridge, error) {
	options, err := applyDefaultOptions(opts...)
	if err != nil {
		return nil, err
	}

	driver, err := newDriver(&options)
	if err != nil {
		return nil, err
	}

	log := options.Logger
	return &Bridge{
		opts:     options,
		logger:   log,
		driver:   driver,
		registry: registry.New(driver, log.Named("registry")),
		store:    openStore(options.ConfigPath, log),
	}, nil
}

// openStore returns the file store at path, or at the default location.
// Without a usable location selections are kept in memory only.
func openStore(path string, log contracts.Logger) store.Store {
	if path == "" {
		p, err := store.DefaultPath()
		if err != nil {
			log.Warn("no config directory; selections will not persist", log.Field().Error("error", err))
			return store.NewMemoryStore(contracts.SelectedDeviceConfig{})
		}
		path = p
	}
	return store.NewFileStore(path)
}

// Logger returns the logger every component writes to.
func (b *Bridge) Logger() contracts.Logger {
	return b.logger
}

// ListDevices enumerates the MIDI inputs present right now.
func (b *Bridge) ListDevices() ([]contracts.MidiDevice, error) {
	return b.registry.ListDevices()
}

// ResolveSelection returns the connected device named id, or
// ErrDeviceNotFound.
func (b *Bridge) ResolveSelection(id string) (contracts.MidiDevice, error) {
	return b.registry.ResolveSelection(id)
}

// LoadSelection returns the persisted selection.
func (b *Bridge) LoadSelection() (contracts.SelectedDeviceConfig, error) {
	return b.store.Load()
}

// SaveSelection persists id as the selected device.
func (b *Bridge) SaveSelection(id string) error {
	if err := b.store.SaveDevice(id); err != nil {
		return err
	}
	b.logger.Info("device selection saved", b.logger.Field().String("device", id))
	return nil
}

// SaveController persists the monitored controller number.
func (b *Bridge) SaveController(controller uint8) error {
	if err := b.store.SaveController(int(controller)); err != nil {
		return err
	}
	b.logger.Info("controller saved", b.logger.Field().Int("controller", int(controller)))
	return nil
}

// Filter returns the controller filter a session would use: the configured
// one, else the stored controller, else the default crossfader CC.
func (b *Bridge) Filter() contracts.ControllerFilter {
	if b.opts.Filter != nil {
		return *b.opts.Filter
	}
	filter := contracts.ControllerFilter{Controller: midi.DefaultController}
	cfg, err := b.store.Load()
	if err == nil && cfg.Controller != nil && *cfg.Controller >= 0 && *cfg.Controller <= 127 {
		filter.Controller = uint8(*cfg.Controller)
	}
	return filter
}

// Learn watches device for window and returns the controllers that moved
// like a fader, most active first. progress may be nil.
func (b *Bridge) Learn(ctx context.Context, device string, window time.Duration, progress func(seen int)) ([]contracts.ControllerActivity, error) {
	if _, err := b.registry.ResolveSelection(device); err != nil {
		return nil, err
	}
	var channels []uint8
	if b.opts.Filter != nil {
		channels = b.opts.Filter.Channels
	}
	return learn.Run(ctx, b.driver, device, b.logger.Named("learn"), learn.Options{
		Window:        window,
		Channels:      channels,
		Progress:      progress,
		Presence:      b.registry.IsConnected,
		WatchInterval: b.opts.RescanInterval,
	})
}

// StartSession runs a monitoring session until ctx is cancelled or it fails
// with a fatal error (ErrBind, ErrNoSelection, ErrServerStopped, or
// ErrDeviceOpen on the first device).
func (b *Bridge) StartSession(ctx context.Context) error {
	cfg := session.Config{
		Driver:         b.driver,
		Registry:       b.registry,
		Store:          b.store,
		Logger:         b.logger.Named("session"),
		Address:        b.opts.Address,
		DeviceID:       b.opts.DeviceID,
		Filter:         b.Filter(),
		Selector:       b.opts.Selector,
		RescanInterval: b.opts.RescanInterval,
		AutoReselect:   *b.opts.AutoReselect,
		ReplayLatest:   *b.opts.ReplayLatest,
		SkipUnchanged:  b.opts.SkipUnchanged,
		QueueSize:      b.opts.QueueSize,
		PingInterval:   b.opts.PingInterval,
		OnEvent:        b.opts.OnEvent,
	}
	if hook := b.opts.OnStateChange; hook != nil {
		cfg.OnStateChange = func(from, to session.State) { hook(from.String(), to.String()) }
	}
	return session.New(cfg).Run(ctx)
}

// Close releases the MIDI driver and flushes the logger.
func (b *Bridge) Close() error {
	err := b.driver.Close()
	// syncing stderr fails on some terminals; that is not worth reporting
	_ = b.logger.Sync()
	return err
}
