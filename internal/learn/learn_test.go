package learn

import (
	"context"
	"testing"
	"time"

	"github.com/leandrodaf/faderws/internal/logger"
	"github.com/leandrodaf/faderws/internal/midi/miditest"
	"github.com/leandrodaf/faderws/sdk/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const dev = "USB-Fader-1"

func cc(ctl, val uint8) contracts.ControlValueEvent {
	return contracts.ControlValueEvent{Controller: ctl, Value: val}
}

func TestTrackerCandidates(t *testing.T) {
	tr := NewTracker()
	for v := 0; v <= 120; v += 10 {
		tr.Observe(cc(7, uint8(v)))
	}
	for i := 0; i < 20; i++ {
		tr.Observe(cc(1, uint8(64+i%2)))
	}
	for _, v := range []uint8{0, 127, 0} {
		tr.Observe(cc(8, v))
	}
	for v := 30; v <= 90; v += 10 {
		tr.Observe(cc(9, uint8(v)))
	}

	got := tr.Candidates(DefaultMinRange, DefaultMinChanges)

	require.Len(t, got, 2)
	assert.Equal(t, Candidate{Controller: 7, Min: 0, Max: 120, Changes: 13}, got[0])
	assert.Equal(t, uint8(9), got[1].Controller)
	assert.Equal(t, 60, got[1].Range())
	assert.Equal(t, 4, tr.Seen())
}

func TestTrackerThresholdsAreStrict(t *testing.T) {
	tr := NewTracker()
	for _, v := range []uint8{0, 20, 0, 20, 0, 20} {
		tr.Observe(cc(7, v))
	}
	assert.Empty(t, tr.Candidates(20, 5), "range must exceed 20")

	tr = NewTracker()
	for _, v := range []uint8{0, 100, 0, 100, 0} {
		tr.Observe(cc(7, v))
	}
	assert.Empty(t, tr.Candidates(20, 5), "changes must exceed 5")
}

func startRun(t *testing.T, ctx context.Context, d *miditest.Driver, opts Options) <-chan result {
	t.Helper()
	out := make(chan result, 1)
	go func() {
		c, err := Run(ctx, d, dev, logger.NewNop(), opts)
		out <- result{c, err}
	}()
	require.Eventually(t, func() bool { return d.Listeners(dev) == 1 }, time.Second, 2*time.Millisecond)
	return out
}

type result struct {
	candidates []Candidate
	err        error
}

func TestRunFindsMovedFader(t *testing.T) {
	d := miditest.NewDriver(dev)
	var progress []int
	out := startRun(t, context.Background(), d, Options{
		Window:   200 * time.Millisecond,
		Progress: func(seen int) { progress = append(progress, seen) },
	})

	for v := 0; v <= 127; v += 8 {
		d.Emit(dev, 0xB0, 7, byte(v))
		d.Emit(dev, 0xB0, 1, 64)
	}

	r := <-out
	require.NoError(t, r.err)
	require.Len(t, r.candidates, 1)
	assert.Equal(t, uint8(7), r.candidates[0].Controller)
	assert.Equal(t, uint8(0), r.candidates[0].Min)
	assert.Equal(t, uint8(120), r.candidates[0].Max)
	assert.Equal(t, []int{1, 2}, progress)
	assert.Zero(t, d.Listeners(dev))
}

func TestRunStopsEarlyOnCancel(t *testing.T) {
	d := miditest.NewDriver(dev)
	ctx, cancel := context.WithCancel(context.Background())
	out := startRun(t, ctx, d, Options{Window: time.Hour})

	for v := 0; v < 10; v++ {
		d.Emit(dev, 0xB1, 20, byte(v*10))
	}
	cancel()

	select {
	case r := <-out:
		require.NoError(t, r.err)
		require.Len(t, r.candidates, 1)
		assert.Equal(t, uint8(20), r.candidates[0].Controller)
	case <-time.After(2 * time.Second):
		t.Fatal("learn did not stop on cancel")
	}
}

func TestRunReportsUnplug(t *testing.T) {
	d := miditest.NewDriver(dev)
	out := startRun(t, context.Background(), d, Options{Window: time.Hour})

	d.Unplug(dev, true)

	r := <-out
	assert.ErrorIs(t, r.err, contracts.ErrDeviceDisconnected)
}

func TestRunNoticesSilentUnplug(t *testing.T) {
	d := miditest.NewDriver(dev)
	present := func(id string) bool {
		devices, _ := d.ListDevices()
		for _, dv := range devices {
			if dv.ID == id {
				return true
			}
		}
		return false
	}
	out := startRun(t, context.Background(), d, Options{
		Window:        time.Hour,
		Presence:      present,
		WatchInterval: 5 * time.Millisecond,
	})

	d.Unplug(dev, false)

	select {
	case r := <-out:
		assert.ErrorIs(t, r.err, contracts.ErrDeviceDisconnected)
		assert.Nil(t, r.candidates)
	case <-time.After(2 * time.Second):
		t.Fatal("learn did not notice the unplug")
	}
}

func TestRunLogsMalformedData(t *testing.T) {
	d := miditest.NewDriver(dev)
	core, logs := observer.New(zapcore.WarnLevel)
	out := make(chan result, 1)
	go func() {
		c, err := Run(context.Background(), d, dev, logger.New(zap.New(core)), Options{Window: 200 * time.Millisecond})
		out <- result{c, err}
	}()
	require.Eventually(t, func() bool { return d.Listeners(dev) == 1 }, time.Second, 2*time.Millisecond)

	d.Emit(dev, 0x40, 0x10)
	for v := 0; v <= 127; v += 8 {
		d.Emit(dev, 0xB0, 7, byte(v))
	}

	r := <-out
	require.NoError(t, r.err)
	require.Len(t, r.candidates, 1, "bad bytes must not stop learning")
	assert.Equal(t, uint8(7), r.candidates[0].Controller)

	warned := logs.FilterMessage("dropping malformed midi data").All()
	require.Len(t, warned, 1)
	assert.Equal(t, dev, warned[0].ContextMap()["device"])
}

func TestRunOpenFailure(t *testing.T) {
	d := miditest.NewDriver()
	_, err := Run(context.Background(), d, dev, logger.NewNop(), Options{})
	assert.ErrorIs(t, err, contracts.ErrDeviceOpen)
}
