package listener

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leandrodaf/faderws/internal/logger"
	"github.com/leandrodaf/faderws/internal/midi/miditest"
	"github.com/leandrodaf/faderws/sdk/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const device = "USB-Fader-1"

func newListener(drv *miditest.Driver, opts Options) *Listener {
	if opts.Filter.Controller == 0 {
		opts.Filter.Controller = 7
	}
	return New(drv, logger.NewNop(), opts)
}

type recorder struct {
	mu     sync.Mutex
	events []contracts.ControlValueEvent
}

func (r *recorder) add(ev contracts.ControlValueEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []contracts.ControlValueEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]contracts.ControlValueEvent(nil), r.events...)
}

func TestStartDeliversMatchingEvents(t *testing.T) {
	drv := miditest.NewDriver(device)
	rec := &recorder{}

	h, err := newListener(drv, Options{}).Start(contracts.MidiDevice{ID: device}, rec.add)
	require.NoError(t, err)
	defer h.Stop()

	drv.Emit(device, 0xB0, 7, 64)
	drv.Emit(device, 0xB0, 8, 1)   // other controller
	drv.Emit(device, 0x90, 7, 100) // note on
	drv.Emit(device, 0xB1, 7, 127)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	events := rec.snapshot()
	assert.Equal(t, uint8(64), events[0].Value)
	assert.Equal(t, uint8(0), events[0].Channel)
	assert.Equal(t, uint8(127), events[1].Value)
	assert.Equal(t, uint8(1), events[1].Channel)
}

func TestMalformedDataDoesNotStopListener(t *testing.T) {
	drv := miditest.NewDriver(device)
	rec := &recorder{}

	h, err := newListener(drv, Options{}).Start(contracts.MidiDevice{ID: device}, rec.add)
	require.NoError(t, err)
	defer h.Stop()

	drv.Emit(device, 0xB0, 7)
	drv.Emit(device, 7, 7, 7)
	drv.Emit(device, 0xB0, 7, 1)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(2), h.Malformed())
	assert.NoError(t, h.Err())
}

func TestStartFailureIsDeviceOpenError(t *testing.T) {
	drv := miditest.NewDriver(device)
	drv.FailOpen(device, true)

	_, err := newListener(drv, Options{}).Start(contracts.MidiDevice{ID: device}, func(contracts.ControlValueEvent) {})

	assert.ErrorIs(t, err, contracts.ErrDeviceOpen)
}

func TestStopIsIdempotentAndFinal(t *testing.T) {
	drv := miditest.NewDriver(device)
	var calls atomic.Int32

	h, err := newListener(drv, Options{}).Start(contracts.MidiDevice{ID: device}, func(contracts.ControlValueEvent) {
		calls.Add(1)
	})
	require.NoError(t, err)

	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())

	assert.Equal(t, 0, drv.Listeners(device))
	assert.False(t, drv.Emit(device, 0xB0, 7, 1))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
	assert.NoError(t, h.Err())

	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestStopWaitsForInFlightCallback(t *testing.T) {
	drv := miditest.NewDriver(device)
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	h, err := newListener(drv, Options{}).Start(contracts.MidiDevice{ID: device}, func(contracts.ControlValueEvent) {
		close(entered)
		<-release
		finished.Store(true)
	})
	require.NoError(t, err)

	drv.Emit(device, 0xB0, 7, 1)
	<-entered

	stopped := make(chan struct{})
	go func() {
		h.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a callback was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	assert.True(t, finished.Load())
}

func TestDriverErrorReportsDisconnect(t *testing.T) {
	drv := miditest.NewDriver(device)

	h, err := newListener(drv, Options{}).Start(contracts.MidiDevice{ID: device}, func(contracts.ControlValueEvent) {})
	require.NoError(t, err)

	drv.Unplug(device, true)

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("handle did not stop after driver error")
	}
	assert.ErrorIs(t, h.Err(), contracts.ErrDeviceDisconnected)
	assert.NoError(t, h.Stop())
}

func TestWatchdogReportsDisconnect(t *testing.T) {
	drv := miditest.NewDriver(device)
	present := func(id string) bool {
		devices, _ := drv.ListDevices()
		for _, d := range devices {
			if d.ID == id {
				return true
			}
		}
		return false
	}

	h, err := newListener(drv, Options{Presence: present, WatchInterval: 5 * time.Millisecond}).
		Start(contracts.MidiDevice{ID: device}, func(contracts.ControlValueEvent) {})
	require.NoError(t, err)

	drv.Unplug(device, false)

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("watchdog did not notice the unplug")
	}
	assert.ErrorIs(t, h.Err(), contracts.ErrDeviceDisconnected)
}

func TestFullBufferDropsWithoutBlockingDriver(t *testing.T) {
	drv := miditest.NewDriver(device)
	release := make(chan struct{})

	h, err := newListener(drv, Options{BufferSize: 1}).Start(contracts.MidiDevice{ID: device}, func(contracts.ControlValueEvent) {
		<-release
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			drv.Emit(device, 0xB0, 7, byte(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("driver callback blocked")
	}
	assert.Greater(t, h.Dropped(), uint64(0))

	close(release)
	require.NoError(t, h.Stop())
}
