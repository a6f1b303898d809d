package contracts

import "time"

// ControlChange is the status nibble of a Control Change message.
const ControlChange byte = 0xB0

// ControlValueEvent is a single Control Change reading from the monitored
// controller. It is only constructed for messages that passed the filter.
type ControlValueEvent struct {
	Channel    uint8     // 0-15
	Controller uint8     // 0-127
	Value      uint8     // 0-127, the raw data byte
	Timestamp  time.Time // Carries a monotonic reading.
}

// RawHandler receives the raw bytes of one driver packet. The slice is only
// valid for the duration of the call.
type RawHandler func(data []byte)

// Driver is the MIDI transport the rest of the module is built on.
type Driver interface {
	// ListDevices enumerates the input ports currently present.
	ListDevices() ([]MidiDevice, error)

	// Listen opens the named input port and delivers every packet to onData.
	// onError is called, at most once, when the port fails after opening.
	// The returned stop function closes the port; no onData call starts after
	// it returns.
	Listen(name string, onData RawHandler, onError func(error)) (stop func() error, err error)

	// Close releases the driver.
	Close() error
}
