package bridge

import (
	"context"
	"path/filepath"
	"sync"
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

const fader = "USB-Fader-1"

func newTestBridge(t *testing.T, d *miditest.Driver, opts ...contracts.Option) *Bridge {
	t.Helper()
	base := []contracts.Option{
		contracts.WithDriver(d),
		contracts.WithLogger(logger.NewNop()),
		contracts.WithConfigPath(filepath.Join(t.TempDir(), "config.json")),
		contracts.WithAddress("127.0.0.1:0"),
		contracts.WithRescanInterval(20 * time.Millisecond),
	}
	b, err := NewBridge(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestApplyDefaultOptions(t *testing.T) {
	opts, err := applyDefaultOptions(contracts.WithLogger(logger.NewNop()))
	require.NoError(t, err)

	assert.Equal(t, DefaultAddress, opts.Address)
	assert.Equal(t, DefaultQueueSize, opts.QueueSize)
	assert.Equal(t, DefaultPingInterval, opts.PingInterval)
	assert.Equal(t, DefaultRescanInterval, opts.RescanInterval)
	assert.Equal(t, contracts.JSONFormat, opts.LogFormat)
	assert.True(t, *opts.AutoReselect)
	assert.True(t, *opts.ReplayLatest)
	assert.False(t, opts.SkipUnchanged)
	assert.Equal(t, "faderws", opts.CoreMIDIConfig.ClientName)
	assert.Nil(t, opts.Filter)
}

func TestApplyDefaultOptionsKeepsExplicitValues(t *testing.T) {
	opts, err := applyDefaultOptions(
		contracts.WithLogger(logger.NewNop()),
		contracts.WithAddress("0.0.0.0:9000"),
		contracts.WithAutoReselect(false),
		contracts.WithReplayLatest(false),
		contracts.WithQueueSize(4),
	)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", opts.Address)
	assert.False(t, *opts.AutoReselect)
	assert.False(t, *opts.ReplayLatest)
	assert.Equal(t, 4, opts.QueueSize)
}

func TestApplyDefaultOptionsRejectsBadFilter(t *testing.T) {
	_, err := applyDefaultOptions(
		contracts.WithLogger(logger.NewNop()),
		contracts.WithControllerFilter(contracts.ControllerFilter{Controller: 200}),
	)
	assert.Error(t, err)

	_, err = applyDefaultOptions(
		contracts.WithLogger(logger.NewNop()),
		contracts.WithControllerFilter(contracts.ControllerFilter{Controller: 7, Channels: []uint8{16}}),
	)
	assert.Error(t, err)
}

func TestApplyDefaultOptionsSetsLoggerLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.New(zap.New(core))

	_, err := applyDefaultOptions(contracts.WithLogger(log), contracts.WithLogLevel(contracts.WarnLevel))
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "shown", logs.All()[0].Message)
}

func TestDriverForUnsupportedOS(t *testing.T) {
	_, err := driverFor("plan9", &contracts.ClientOptions{})
	assert.ErrorIs(t, err, contracts.ErrUnsupportedOS)
}

func TestListAndResolve(t *testing.T) {
	b := newTestBridge(t, miditest.NewDriver("Other", fader))

	devices, err := b.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, fader, devices[1].ID)

	dev, err := b.ResolveSelection(fader)
	require.NoError(t, err)
	assert.True(t, dev.Connected)

	_, err = b.ResolveSelection("USB-Fader-2")
	assert.ErrorIs(t, err, contracts.ErrDeviceNotFound)
}

func TestSelectionSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	d := miditest.NewDriver(fader)

	b := newTestBridge(t, d, contracts.WithConfigPath(path))
	require.NoError(t, b.SaveSelection(fader))
	require.NoError(t, b.SaveController(8))
	require.NoError(t, b.Close())

	again := newTestBridge(t, d, contracts.WithConfigPath(path))
	cfg, err := again.LoadSelection()
	require.NoError(t, err)
	assert.Equal(t, fader, cfg.DeviceID)
	require.NotNil(t, cfg.Controller)
	assert.Equal(t, 8, *cfg.Controller)
}

func TestFilterResolution(t *testing.T) {
	d := miditest.NewDriver(fader)

	b := newTestBridge(t, d)
	assert.Equal(t, uint8(7), b.Filter().Controller)

	require.NoError(t, b.SaveController(12))
	assert.Equal(t, uint8(12), b.Filter().Controller)

	explicit := newTestBridge(t, d, contracts.WithControllerFilter(contracts.ControllerFilter{Controller: 1, Channels: []uint8{2}}))
	require.NoError(t, explicit.SaveController(12))
	assert.Equal(t, contracts.ControllerFilter{Controller: 1, Channels: []uint8{2}}, explicit.Filter())
}

func TestLearn(t *testing.T) {
	d := miditest.NewDriver(fader)
	b := newTestBridge(t, d)

	out := make(chan []contracts.ControllerActivity, 1)
	go func() {
		got, err := b.Learn(context.Background(), fader, 150*time.Millisecond, nil)
		assert.NoError(t, err)
		out <- got
	}()
	require.Eventually(t, func() bool { return d.Listeners(fader) == 1 }, time.Second, 2*time.Millisecond)
	for v := 0; v <= 127; v += 16 {
		d.Emit(fader, 0xB0, 9, byte(v))
	}

	got := <-out
	require.Len(t, got, 1)
	assert.Equal(t, uint8(9), got[0].Controller)
}

func TestLearnEndsWhenDeviceVanishes(t *testing.T) {
	d := miditest.NewDriver(fader)
	b := newTestBridge(t, d)

	out := make(chan error, 1)
	go func() {
		_, err := b.Learn(context.Background(), fader, time.Hour, nil)
		out <- err
	}()
	require.Eventually(t, func() bool { return d.Listeners(fader) == 1 }, time.Second, 2*time.Millisecond)

	d.Unplug(fader, false)

	select {
	case err := <-out:
		assert.ErrorIs(t, err, contracts.ErrDeviceDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("learn kept running after the device vanished")
	}
}

func TestLearnUnknownDevice(t *testing.T) {
	b := newTestBridge(t, miditest.NewDriver())
	_, err := b.Learn(context.Background(), fader, time.Millisecond, nil)
	assert.ErrorIs(t, err, contracts.ErrDeviceNotFound)
}

func TestStartSessionUsesStoredSelection(t *testing.T) {
	d := miditest.NewDriver(fader)

	var mu sync.Mutex
	var states []string
	var values []uint8
	b := newTestBridge(t, d,
		contracts.WithStateHook(func(_, to string) {
			mu.Lock()
			states = append(states, to)
			mu.Unlock()
		}),
		contracts.WithEventHook(func(ev contracts.ControlValueEvent) {
			mu.Lock()
			values = append(values, ev.Value)
			mu.Unlock()
		}),
	)
	require.NoError(t, b.SaveSelection(fader))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.StartSession(ctx) }()

	require.Eventually(t, func() bool { return d.Emit(fader, 0xB0, 7, 100) }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(values) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint8{100}, values)
	assert.Equal(t, []string{"selecting-device", "listening", "shutting-down", "stopped"}, states)
}
