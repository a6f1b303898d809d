package midi

import (
	"errors"
	"testing"
	"time"

	"github.com/leandrodaf/faderws/sdk/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, d *Decoder, raw ...[]byte) ([]contracts.ControlValueEvent, error) {
	t.Helper()
	var out []contracts.ControlValueEvent
	var lastErr error
	for _, r := range raw {
		if err := d.Decode(r, func(ev contracts.ControlValueEvent) { out = append(out, ev) }); err != nil {
			lastErr = err
		}
	}
	return out, lastErr
}

func TestDecodeMatchingControlChange(t *testing.T) {
	d := NewDecoder(contracts.ControllerFilter{Controller: 7})

	events, err := collect(t, d, []byte{0xB0, 7, 64})

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint8(0), events[0].Channel)
	assert.Equal(t, uint8(7), events[0].Controller)
	assert.Equal(t, uint8(64), events[0].Value)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestDecodePreservesEveryValue(t *testing.T) {
	d := NewDecoder(contracts.ControllerFilter{Controller: 7})

	for v := 0; v <= 127; v++ {
		events, err := collect(t, d, []byte{0xB3, 7, byte(v)})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, uint8(v), events[0].Value)
		assert.Equal(t, uint8(3), events[0].Channel)
	}
}

func TestDecodeIgnoresOtherMessages(t *testing.T) {
	d := NewDecoder(contracts.ControllerFilter{Controller: 7})

	cases := map[string][]byte{
		"other controller": {0xB0, 8, 10},
		"note on":          {0x90, 7, 100},
		"note off":         {0x80, 7, 0},
		"program change":   {0xC0, 7},
		"pitch bend":       {0xE0, 0, 64},
		"sysex":            {0xF0, 0x7E, 0x7F, 0x06, 0x01, 0xF7},
		"clock":            {0xF8},
		"song position":    {0xF2, 1, 2},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			events, err := collect(t, d, raw)
			require.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestDecodeChannelFilter(t *testing.T) {
	d := NewDecoder(contracts.ControllerFilter{Controller: 7, Channels: []uint8{2}})

	events, err := collect(t, d, []byte{0xB0, 7, 1}, []byte{0xB2, 7, 2})

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint8(2), events[0].Value)
}

func TestDecodeRunningStatusAcrossPackets(t *testing.T) {
	d := NewDecoder(contracts.ControllerFilter{Controller: 7})

	events, err := collect(t, d,
		[]byte{0xB0, 7, 10, 7, 11},
		[]byte{7, 12},
	)

	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []uint8{10, 11, 12}, []uint8{events[0].Value, events[1].Value, events[2].Value})
}

func TestDecodeRealtimeInsideMessage(t *testing.T) {
	d := NewDecoder(contracts.ControllerFilter{Controller: 7})

	events, err := collect(t, d, []byte{0xB0, 0xF8, 7, 0xFE, 99})

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint8(99), events[0].Value)
}

func TestDecodeSysExSpanningPackets(t *testing.T) {
	d := NewDecoder(contracts.ControllerFilter{Controller: 7})

	events, err := collect(t, d,
		[]byte{0xF0, 0x00, 0x20},
		[]byte{0x29, 0x02, 0xF7, 0xB0, 7, 5},
	)

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint8(5), events[0].Value)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"truncated":           {0xB0, 7},
		"data without status": {7, 64},
		"status inside data":  {0xB0, 7, 0x90},
		"truncated common":    {0xF2, 1},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			d := NewDecoder(contracts.ControllerFilter{Controller: 7})
			events, err := collect(t, d, raw)
			assert.Empty(t, events)
			assert.True(t, errors.Is(err, contracts.ErrMalformedMessage), "got %v", err)
		})
	}
}

func TestDecodeKeepsEventsBeforeCorruption(t *testing.T) {
	d := NewDecoder(contracts.ControllerFilter{Controller: 7})

	events, err := collect(t, d, []byte{0xB0, 7, 1, 0xB0, 7})

	require.ErrorIs(t, err, contracts.ErrMalformedMessage)
	require.Len(t, events, 1)
	assert.Equal(t, uint8(1), events[0].Value)

	// the decoder recovers on the next packet
	events, err = collect(t, d, []byte{0xB0, 7, 2})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestDecodeUsesClock(t *testing.T) {
	d := NewDecoder(contracts.ControllerFilter{Controller: 7})
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	events, err := collect(t, d, []byte{0xB0, 7, 1})

	require.NoError(t, err)
	assert.Equal(t, fixed, events[0].Timestamp)
}

func TestScanDecoderEmitsEveryController(t *testing.T) {
	d := NewScanDecoder()

	events, err := collect(t, d, []byte{0xB0, 7, 1, 0xB3, 8, 2, 0x90, 60, 100, 0xB0, 127, 3})

	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []uint8{7, 8, 127}, []uint8{events[0].Controller, events[1].Controller, events[2].Controller})
	assert.Equal(t, uint8(3), events[1].Channel)
}

func TestScanDecoderHonoursChannels(t *testing.T) {
	d := NewScanDecoder(2)

	events, err := collect(t, d, []byte{0xB0, 7, 1, 0xB2, 9, 2})

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint8(9), events[0].Controller)
}
