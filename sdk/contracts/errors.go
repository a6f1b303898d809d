package contracts

import "errors"

// Error taxonomy shared by every component. Components wrap these with %w and
// callers match them with errors.Is.
var (
	// ErrDeviceNotFound is returned when a selection references a device that is not connected.
	ErrDeviceNotFound = errors.New("midi device not found")
	// ErrDeviceDisconnected reports hardware removal while listening.
	ErrDeviceDisconnected = errors.New("midi device disconnected")
	// ErrDeviceOpen reports a failure to open a device's input stream.
	ErrDeviceOpen = errors.New("error opening midi device")
	// ErrNoDevices is returned when no MIDI input exists.
	ErrNoDevices = errors.New("no midi devices found")
	// ErrMalformedMessage marks corrupt or truncated MIDI bytes.
	ErrMalformedMessage = errors.New("malformed midi message")
	// ErrStorage reports a config read or write failure.
	ErrStorage = errors.New("config storage error")
	// ErrClientTransport reports a websocket send or receive failure.
	ErrClientTransport = errors.New("websocket client transport error")
	// ErrBind reports that the websocket listener could not be opened.
	ErrBind = errors.New("cannot bind websocket listener")
	// ErrHubClosed is returned when registering with a closed hub.
	ErrHubClosed = errors.New("broadcast hub closed")
	// ErrUnsupportedOS is returned when no MIDI driver exists for the platform.
	ErrUnsupportedOS = errors.New("unsupported operating system")
	// ErrNoSelection is returned by a selector that could not pick a device.
	ErrNoSelection = errors.New("no device selected")
	// ErrServerStopped reports that the websocket server quit while a
	// session was still running.
	ErrServerStopped = errors.New("websocket server stopped")
)
