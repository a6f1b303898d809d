package main

import (
	"context"
	"time"

	"github.com/leandrodaf/faderws/internal/midi/miditest"
)

const demoDevice = "Demo Fader"

// newDemoDriver returns a driver with one simulated fader that sweeps CC 7
// back and forth until ctx ends.
func newDemoDriver(ctx context.Context) *miditest.Driver {
	d := miditest.NewDriver(demoDevice)
	go sweep(ctx, d, 30*time.Millisecond)
	return d
}

func sweep(ctx context.Context, d *miditest.Driver, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	value, step := 0, 4
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		d.Emit(demoDevice, 0xB0, 7, byte(value))
		value += step
		if value >= 127 || value <= 0 {
			step = -step
			value = max(0, min(127, value))
		}
	}
}
