// Package wire defines the broadcast payload sent to websocket clients.
package wire

import (
	"encoding/json"
	"time"

	"github.com/leandrodaf/faderws/sdk/contracts"
)

// Message is the JSON text frame sent for every event.
type Message struct {
	Channel    int     `json:"channel"`
	Controller int     `json:"controller"`
	Value      int     `json:"value"`
	Timestamp  float64 `json:"timestamp"` // milliseconds since the Unix epoch
}

// Encoder stamps events against a fixed epoch so timestamps follow the
// monotonic clock and never go backwards within a process, even when the
// wall clock is adjusted.
type Encoder struct {
	epoch   time.Time
	epochMs float64
}

// NewEncoder returns an encoder anchored at now.
func NewEncoder() *Encoder {
	return NewEncoderAt(time.Now())
}

// NewEncoderAt returns an encoder anchored at epoch, which should carry a
// monotonic reading.
func NewEncoderAt(epoch time.Time) *Encoder {
	return &Encoder{epoch: epoch, epochMs: float64(epoch.UnixNano()) / 1e6}
}

// Message converts ev to its wire form.
func (e *Encoder) Message(ev contracts.ControlValueEvent) Message {
	elapsed := ev.Timestamp.Sub(e.epoch)
	if elapsed < 0 {
		elapsed = 0
	}
	return Message{
		Channel:    int(ev.Channel),
		Controller: int(ev.Controller),
		Value:      int(ev.Value),
		Timestamp:  e.epochMs + float64(elapsed)/1e6,
	}
}

// Encode serializes ev.
func (e *Encoder) Encode(ev contracts.ControlValueEvent) ([]byte, error) {
	return json.Marshal(e.Message(ev))
}
