package contracts

import (
	"context"
	"time"
)

// ControllerFilter selects which Control Change messages become events.
type ControllerFilter struct {
	Controller uint8   // Monitored controller number (0-127).
	Channels   []uint8 // Accepted channels (0-15); empty accepts every channel.
}

// AcceptsChannel reports whether ch passes the channel part of the filter.
func (f ControllerFilter) AcceptsChannel(ch uint8) bool {
	if len(f.Channels) == 0 {
		return true
	}
	for _, c := range f.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// CoreMIDIConfig holds configuration for CoreMIDI.
type CoreMIDIConfig struct {
	ClientName string // Name of the MIDI client.
}

// Selector picks a device when the persisted one is unavailable. It returns
// ErrNoSelection when nothing was chosen.
type Selector func(ctx context.Context, devices []MidiDevice) (MidiDevice, error)

// ClientOptions defines the configuration of a bridge.
type ClientOptions struct {
	Logger         Logger            // Logger for every component.
	LogLevel       LogLevel          // Level of logging to use.
	LogFormat      LogFormat         // Encoder for the default logger.
	Driver         Driver            // MIDI transport; defaults to the platform driver.
	Filter         *ControllerFilter // Monitored controller; defaults to the crossfader CC.
	Address        string            // host:port of the websocket listener.
	ConfigPath     string            // Location of the persisted selection.
	DeviceID       string            // Explicit device, takes precedence over the stored one.
	QueueSize      int               // Per-client outbound queue length.
	PingInterval   time.Duration     // Websocket keepalive period.
	RescanInterval time.Duration     // Device presence polling period.
	AutoReselect   *bool             // Return to device selection on unplug.
	ReplayLatest   *bool             // Send the last value to newly connected clients.
	SkipUnchanged  bool              // Drop events repeating the previous value.
	Selector       Selector          // Upstream prompt used when the stored device is missing.
	CoreMIDIConfig *CoreMIDIConfig   // Configuration specific to CoreMIDI.

	OnEvent       func(ControlValueEvent) // Observes every broadcast event.
	OnStateChange func(from, to string)   // Observes session state transitions.
}

// Option is a function that modifies ClientOptions.
type Option func(*ClientOptions)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(opts *ClientOptions) {
		opts.Logger = l
	}
}

// WithLogLevel sets the logging level.
func WithLogLevel(level LogLevel) Option {
	return func(opts *ClientOptions) {
		opts.LogLevel = level
	}
}

// WithLogFormat sets the encoder of the default logger.
func WithLogFormat(format LogFormat) Option {
	return func(opts *ClientOptions) {
		opts.LogFormat = format
	}
}

// WithDriver replaces the platform MIDI driver.
func WithDriver(d Driver) Option {
	return func(opts *ClientOptions) {
		opts.Driver = d
	}
}

// WithControllerFilter sets the monitored controller and channels.
func WithControllerFilter(filter ControllerFilter) Option {
	return func(opts *ClientOptions) {
		opts.Filter = &filter
	}
}

// WithAddress sets the websocket bind address (host:port).
func WithAddress(addr string) Option {
	return func(opts *ClientOptions) {
		opts.Address = addr
	}
}

// WithConfigPath sets the file holding the persisted selection.
func WithConfigPath(path string) Option {
	return func(opts *ClientOptions) {
		opts.ConfigPath = path
	}
}

// WithDeviceID forces the device to monitor, bypassing the stored selection.
func WithDeviceID(id string) Option {
	return func(opts *ClientOptions) {
		opts.DeviceID = id
	}
}

// WithQueueSize sets the per-client outbound queue length.
func WithQueueSize(n int) Option {
	return func(opts *ClientOptions) {
		opts.QueueSize = n
	}
}

// WithPingInterval sets the websocket keepalive period.
func WithPingInterval(d time.Duration) Option {
	return func(opts *ClientOptions) {
		opts.PingInterval = d
	}
}

// WithRescanInterval sets how often device presence is polled.
func WithRescanInterval(d time.Duration) Option {
	return func(opts *ClientOptions) {
		opts.RescanInterval = d
	}
}

// WithAutoReselect controls whether an unplugged device sends the session
// back to device selection instead of ending it.
func WithAutoReselect(enabled bool) Option {
	return func(opts *ClientOptions) {
		opts.AutoReselect = &enabled
	}
}

// WithReplayLatest controls whether new clients receive the last value.
func WithReplayLatest(enabled bool) Option {
	return func(opts *ClientOptions) {
		opts.ReplayLatest = &enabled
	}
}

// WithSkipUnchanged drops events whose value repeats the previous one.
func WithSkipUnchanged(enabled bool) Option {
	return func(opts *ClientOptions) {
		opts.SkipUnchanged = enabled
	}
}

// WithSelector sets the prompt used when the stored device is unavailable.
func WithSelector(s Selector) Option {
	return func(opts *ClientOptions) {
		opts.Selector = s
	}
}

// WithCoreMIDIConfig sets the CoreMIDI configuration.
func WithCoreMIDIConfig(config CoreMIDIConfig) Option {
	return func(opts *ClientOptions) {
		opts.CoreMIDIConfig = &config
	}
}

// WithEventHook observes every event after it has been broadcast. The hook
// runs on the listener goroutine and must return quickly.
func WithEventHook(fn func(ControlValueEvent)) Option {
	return func(opts *ClientOptions) {
		opts.OnEvent = fn
	}
}

// WithStateHook observes session state transitions.
func WithStateHook(fn func(from, to string)) Option {
	return func(opts *ClientOptions) {
		opts.OnStateChange = fn
	}
}
