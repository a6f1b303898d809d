// Package session wires the registry, listener, hub and websocket server into
// one monitoring run.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leandrodaf/faderws/internal/hub"
	"github.com/leandrodaf/faderws/internal/listener"
	"github.com/leandrodaf/faderws/internal/registry"
	"github.com/leandrodaf/faderws/internal/server"
	"github.com/leandrodaf/faderws/internal/store"
	"github.com/leandrodaf/faderws/internal/wire"
	"github.com/leandrodaf/faderws/sdk/contracts"
	"go.uber.org/multierr"
)

const (
	defaultRescanInterval = time.Second
	shutdownTimeout       = 3 * time.Second
)

// State is the lifecycle position of a session.
type State int32

const (
	Starting State = iota
	SelectingDevice
	Listening
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case SelectingDevice:
		return "selecting-device"
	case Listening:
		return "listening"
	case ShuttingDown:
		return "shutting-down"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// endpoint is the part of the websocket server a session drives.
type endpoint interface {
	Listen(addr string) error
	Addr() string
	Serve(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Config holds everything a session needs. There is no package level state;
// two sessions with different configs can run side by side.
type Config struct {
	Driver   contracts.Driver
	Registry *registry.Registry
	Store    store.Store
	Logger   contracts.Logger

	// Address is the websocket host:port.
	Address string
	// DeviceID, when set, is used instead of the stored selection.
	DeviceID string
	Filter   contracts.ControllerFilter
	// Selector is asked for a device when the wanted one is missing. Without
	// it the session polls until the device comes back, and a run with no
	// stored or explicit device fails with ErrNoSelection.
	Selector       contracts.Selector
	RescanInterval time.Duration
	// AutoReselect returns to device selection after an unplug instead of
	// ending the run with ErrDeviceDisconnected.
	AutoReselect  bool
	ReplayLatest  bool
	SkipUnchanged bool
	QueueSize     int
	PingInterval  time.Duration

	// OnStateChange is called synchronously on every transition.
	OnStateChange func(from, to State)
	// OnEvent observes every published event, after the hub.
	OnEvent func(contracts.ControlValueEvent)
}

// Session is a single monitoring run. Use New, then Run once.
type Session struct {
	cfg      Config
	logger   contracts.Logger
	hub      *hub.Hub
	server   endpoint
	listener *listener.Listener

	state   atomic.Int32
	started atomic.Bool

	mu       sync.Mutex
	store    store.Store
	handle   *listener.Handle
	deviceID string

	// last value per channel, only touched by the listener's dispatch goroutine
	last [16]int
}

// New builds a session from cfg. Nothing is opened until Run.
func New(cfg Config) *Session {
	if cfg.RescanInterval <= 0 {
		cfg.RescanInterval = defaultRescanInterval
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New(cfg.Driver, cfg.Logger.Named("registry"))
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore(contracts.SelectedDeviceConfig{})
	}

	h := hub.New(cfg.Logger.Named("hub"), wire.NewEncoder(), hub.Options{
		QueueSize:    cfg.QueueSize,
		ReplayLatest: cfg.ReplayLatest,
	})
	s := &Session{
		cfg:    cfg,
		logger: cfg.Logger,
		hub:    h,
		server: server.New(h, cfg.Logger.Named("server"), server.Options{PingInterval: cfg.PingInterval}),
		listener: listener.New(cfg.Driver, cfg.Logger.Named("listener"), listener.Options{
			Filter:        cfg.Filter,
			WatchInterval: cfg.RescanInterval,
			Presence:      cfg.Registry.IsConnected,
		}),
		store: cfg.Store,
	}
	for i := range s.last {
		s.last[i] = -1
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Addr returns the bound websocket address once the session is past Starting.
func (s *Session) Addr() string {
	return s.server.Addr()
}

// Stats returns the broadcast counters.
func (s *Session) Stats() hub.Stats {
	return s.hub.Stats()
}

// DeviceID returns the device currently selected, if any.
func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

// Run blocks until ctx is cancelled or the session fails. A bind error, a
// failure to open the first device, a missing selection or the websocket
// server quitting ends the run; the shutdown sequence still runs in every
// case and its errors are combined with the cause.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session already started")
	}

	s.setState(Starting)
	stored := s.loadConfig()

	if err := s.server.Listen(s.cfg.Address); err != nil {
		s.logger.Error("cannot start websocket server", s.logger.Field().Error("error", err))
		return multierr.Append(err, s.shutdown())
	}
	loopCtx, stopLoop := context.WithCancelCause(ctx)
	defer stopLoop(nil)
	served := make(chan error, 1)
	go func() {
		err := s.server.Serve(context.Background())
		if err != nil {
			stopLoop(fmt.Errorf("%w: %w", contracts.ErrServerStopped, err))
		} else {
			stopLoop(contracts.ErrServerStopped)
		}
		served <- err
	}()

	id := s.cfg.DeviceID
	if id == "" {
		id = stored.DeviceID
	}
	runErr := s.loop(loopCtx, id)
	if runErr == nil && ctx.Err() == nil {
		// loop only returns nil early when the server went away
		runErr = context.Cause(loopCtx)
		s.logger.Error("websocket server stopped", s.logger.Field().Error("error", runErr))
	}

	err := multierr.Append(runErr, s.shutdown())
	if serveErr := <-served; serveErr != nil && !errors.Is(runErr, contracts.ErrServerStopped) {
		err = multierr.Append(err, serveErr)
	}
	return err
}

func (s *Session) loop(ctx context.Context, id string) error {
	first := true
	for {
		s.setState(SelectingDevice)
		dev, err := s.selectDevice(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		id = dev.ID
		s.persistDevice(dev.ID)

		s.setState(Listening)
		h, err := s.listener.Start(dev, s.publish)
		if err != nil {
			if first {
				s.logger.Error("cannot open midi device", s.logger.Field().Error("error", err))
				return err
			}
			s.logger.Warn("cannot reopen midi device; retrying", s.logger.Field().Error("error", err))
			if !s.sleep(ctx) {
				return nil
			}
			continue
		}
		first = false
		s.setHandle(h)

		select {
		case <-ctx.Done():
			return nil
		case <-h.Done():
		}

		s.setHandle(nil)
		cause := h.Err()
		if !s.cfg.AutoReselect {
			return cause
		}
		s.logger.Warn("midi device lost; returning to device selection",
			s.logger.Field().String("device", dev.ID),
			s.logger.Field().Error("error", cause))
	}
}

// selectDevice resolves id, falling back to the selector or to polling.
func (s *Session) selectDevice(ctx context.Context, id string) (contracts.MidiDevice, error) {
	if id == "" && s.cfg.Selector == nil {
		return contracts.MidiDevice{}, fmt.Errorf("%w: no stored or explicit device", contracts.ErrNoSelection)
	}

	waiting := false
	for {
		if id != "" {
			dev, err := s.cfg.Registry.ResolveSelection(id)
			if err == nil {
				return dev, nil
			}
			if !errors.Is(err, contracts.ErrDeviceNotFound) {
				s.logger.Warn("device enumeration failed", s.logger.Field().Error("error", err))
			}
		}

		if s.cfg.Selector != nil {
			devices, err := s.cfg.Registry.ListDevices()
			if err == nil && len(devices) > 0 {
				dev, err := s.cfg.Selector(ctx, devices)
				if err != nil {
					return contracts.MidiDevice{}, err
				}
				s.logger.Info("device selected", s.logger.Field().String("device", dev.ID))
				return dev, nil
			}
		}

		if !waiting {
			waiting = true
			s.logger.Info("waiting for midi device",
				s.logger.Field().String("device", id),
				s.logger.Field().Duration("rescan", s.cfg.RescanInterval))
		}
		if !s.sleep(ctx) {
			return contracts.MidiDevice{}, ctx.Err()
		}
	}
}

func (s *Session) publish(ev contracts.ControlValueEvent) {
	if s.cfg.SkipUnchanged {
		ch := ev.Channel & 0x0F
		if s.last[ch] == int(ev.Value) {
			return
		}
		s.last[ch] = int(ev.Value)
	}
	s.logger.Debug("control change",
		s.logger.Field().Uint8("channel", ev.Channel),
		s.logger.Field().Uint8("controller", ev.Controller),
		s.logger.Field().Uint8("value", ev.Value))

	s.hub.Publish(ev)
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(ev)
	}
}

// shutdown stops the listener (waiting for in-flight callbacks), closes every
// client, stops the server and saves the selection.
func (s *Session) shutdown() error {
	s.setState(ShuttingDown)

	var err error
	if h := s.takeHandle(); h != nil {
		err = multierr.Append(err, h.Stop())
	}
	s.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = multierr.Append(err, s.server.Shutdown(ctx))

	if id := s.DeviceID(); id != "" {
		s.persistDevice(id)
	}

	stats := s.hub.Stats()
	s.logger.Info("session stopped",
		s.logger.Field().Uint64("published", stats.Published),
		s.logger.Field().Uint64("dropped", stats.Dropped))
	s.setState(Stopped)
	return err
}

// loadConfig reads the stored selection. Storage failures are not fatal: the
// session continues on an in-memory store.
func (s *Session) loadConfig() contracts.SelectedDeviceConfig {
	cfg, err := s.currentStore().Load()
	if err != nil {
		s.logger.Warn("cannot read stored selection; continuing without persistence",
			s.logger.Field().Error("error", err))
		s.mu.Lock()
		s.store = store.NewMemoryStore(contracts.SelectedDeviceConfig{})
		s.mu.Unlock()
		return contracts.SelectedDeviceConfig{}
	}
	return cfg
}

func (s *Session) persistDevice(id string) {
	s.mu.Lock()
	s.deviceID = id
	st := s.store
	s.mu.Unlock()

	if err := st.SaveDevice(id); err != nil {
		s.logger.Warn("cannot save device selection; continuing without persistence",
			s.logger.Field().String("device", id),
			s.logger.Field().Error("error", err))
		s.mu.Lock()
		s.store = store.NewMemoryStore(contracts.SelectedDeviceConfig{DeviceID: id})
		s.mu.Unlock()
	}
}

func (s *Session) currentStore() store.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

func (s *Session) setHandle(h *listener.Handle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

func (s *Session) takeHandle() *listener.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handle
	s.handle = nil
	return h
}

func (s *Session) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.logger.Debug("session state",
		s.logger.Field().String("from", from.String()),
		s.logger.Field().String("to", to.String()))
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(from, to)
	}
}

// sleep waits one rescan interval. It returns false when ctx ends first.
func (s *Session) sleep(ctx context.Context) bool {
	t := time.NewTimer(s.cfg.RescanInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
