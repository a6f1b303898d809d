// Package midi turns raw driver packets into ControlValueEvents.
package midi

import (
	"fmt"
	"time"

	"github.com/leandrodaf/faderws/sdk/contracts"
	gomidi "gitlab.com/gomidi/midi/v2"
)

// DefaultController is the CC number monitored when nothing else is configured.
const DefaultController uint8 = 7

// Decoder splits raw packets into channel messages and emits events for the
// Control Change messages matching its filter. It keeps running status between
// packets, so one Decoder must only be used from a single goroutine.
type Decoder struct {
	filter  contracts.ControllerFilter
	any     bool
	running byte
	inSysEx bool
	now     func() time.Time
}

// NewDecoder returns a decoder for the given filter.
func NewDecoder(filter contracts.ControllerFilter) *Decoder {
	return &Decoder{filter: filter, now: time.Now}
}

// NewScanDecoder returns a decoder that emits every Control Change on the
// accepted channels, whatever its controller number. Learn mode uses it.
func NewScanDecoder(channels ...uint8) *Decoder {
	return &Decoder{filter: contracts.ControllerFilter{Channels: channels}, any: true, now: time.Now}
}

// Filter returns the filter the decoder applies.
func (d *Decoder) Filter() contracts.ControllerFilter {
	return d.filter
}

// Decode walks raw and calls emit for every matching Control Change. Events
// found before a corrupt byte are still emitted; the rest of the packet is
// dropped and an error wrapping contracts.ErrMalformedMessage is returned.
func (d *Decoder) Decode(raw []byte, emit func(contracts.ControlValueEvent)) error {
	i := 0
	if d.inSysEx {
		i, d.inSysEx = skipSysEx(raw, 0)
	}
	for i < len(raw) {
		b := raw[i]

		switch {
		case b >= 0xF8:
			// realtime bytes may appear anywhere and carry no running status
			i++
			continue
		case b == 0xF0:
			d.running = 0
			i, d.inSysEx = skipSysEx(raw, i+1)
			continue
		case b >= 0xF1:
			d.running = 0
			n := systemCommonLen(b)
			if i+1+n > len(raw) {
				return fmt.Errorf("%w: truncated system message 0x%X", contracts.ErrMalformedMessage, b)
			}
			i += 1 + n
			continue
		case b >= 0x80:
			d.running = b
			i++
		default:
			if d.running == 0 {
				return fmt.Errorf("%w: data byte 0x%X without status", contracts.ErrMalformedMessage, b)
			}
		}

		status := d.running
		n := channelDataLen(status)

		var buf [3]byte
		buf[0] = status
		got := 0
		for got < n {
			if i >= len(raw) {
				d.running = 0
				return fmt.Errorf("%w: truncated message 0x%X", contracts.ErrMalformedMessage, status)
			}
			c := raw[i]
			i++
			if c >= 0xF8 {
				continue
			}
			if c >= 0x80 {
				d.running = 0
				return fmt.Errorf("%w: status 0x%X inside message 0x%X", contracts.ErrMalformedMessage, c, status)
			}
			buf[1+got] = c
			got++
		}

		if status&0xF0 != contracts.ControlChange {
			continue
		}
		if ev, ok := d.match(gomidi.Message(buf[:1+n])); ok {
			emit(ev)
		}
	}
	return nil
}

func (d *Decoder) match(msg gomidi.Message) (contracts.ControlValueEvent, bool) {
	var ch, ctl, val uint8
	if !msg.GetControlChange(&ch, &ctl, &val) {
		return contracts.ControlValueEvent{}, false
	}
	if (!d.any && ctl != d.filter.Controller) || !d.filter.AcceptsChannel(ch) {
		return contracts.ControlValueEvent{}, false
	}
	return contracts.ControlValueEvent{
		Channel:    ch,
		Controller: ctl,
		Value:      val,
		Timestamp:  d.now(),
	}, true
}

func channelDataLen(status byte) int {
	switch status & 0xF0 {
	case 0xC0, 0xD0:
		return 1
	default:
		return 2
	}
}

func systemCommonLen(status byte) int {
	switch status {
	case 0xF1, 0xF3:
		return 1
	case 0xF2:
		return 2
	default:
		return 0
	}
}

// skipSysEx returns the index after the end of an exclusive message and
// whether it continues in a later packet. Any status byte other than realtime
// also terminates it.
func skipSysEx(raw []byte, i int) (int, bool) {
	for ; i < len(raw); i++ {
		switch b := raw[i]; {
		case b == 0xF7:
			return i + 1, false
		case b >= 0x80 && b < 0xF8:
			return i, false
		}
	}
	return len(raw), true
}
