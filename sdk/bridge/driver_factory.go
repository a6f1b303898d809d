package bridge

import (
	"fmt"
	"runtime"

	"github.com/leandrodaf/faderws/internal/midi/mididarwin"
	"github.com/leandrodaf/faderws/internal/midi/midirtmidi"
	"github.com/leandrodaf/faderws/internal/midi/midiwindows"
	"github.com/leandrodaf/faderws/sdk/contracts"
)

// driverInitializers maps OS names to the MIDI driver for that platform.
var driverInitializers = map[string]func(*contracts.ClientOptions) (contracts.Driver, error){
	"darwin":  mididarwin.NewDriver,  // CoreMIDI
	"windows": midiwindows.NewDriver, // winmm
	"linux":   midirtmidi.NewDriver,  // ALSA through rtmidi
}

// newDriver returns the configured driver, or the platform one.
func newDriver(opts *contracts.ClientOptions) (contracts.Driver, error) {
	if opts.Driver != nil {
		return opts.Driver, nil
	}
	return driverFor(runtime.GOOS, opts)
}

func driverFor(goos string, opts *contracts.ClientOptions) (contracts.Driver, error) {
	if initializer, exists := driverInitializers[goos]; exists {
		return initializer(opts)
	}
	return nil, fmt.Errorf("%w: %s", contracts.ErrUnsupportedOS, goos)
}
