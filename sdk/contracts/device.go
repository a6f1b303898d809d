package contracts

// MidiDevice describes a MIDI input port as seen in the latest enumeration.
// Only ID is ever persisted; the rest is recreated on every listing.
type MidiDevice struct {
	ID           string // Port name, stable across restarts.
	Manufacturer string // Manufacturer reported by the driver, may be empty.
	Connected    bool   // True when the port was present in the enumeration.
}

// SelectedDeviceConfig is the persisted selection state.
// An empty DeviceID means nothing has been selected yet. A stored DeviceID
// does not have to be connected.
type SelectedDeviceConfig struct {
	DeviceID   string `json:"device_id,omitempty"`
	Controller *int   `json:"controller,omitempty"`
}

// HasDevice reports whether a device id has been stored.
func (c SelectedDeviceConfig) HasDevice() bool {
	return c.DeviceID != ""
}

// ControllerActivity summarizes one controller's movement during learn mode.
type ControllerActivity struct {
	Controller uint8
	Min, Max   uint8
	Changes    int
}

// Range is the spread of observed values.
func (c ControllerActivity) Range() int {
	return int(c.Max) - int(c.Min)
}
