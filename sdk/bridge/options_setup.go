package bridge

import (
	"fmt"
	"time"

	"github.com/leandrodaf/faderws/internal/logger"
	"github.com/leandrodaf/faderws/sdk/contracts"
)

const (
	DefaultAddress        = "localhost:8765"
	DefaultQueueSize      = 16
	DefaultPingInterval   = time.Second
	DefaultRescanInterval = time.Second
)

// applyDefaultOptions sets default values for ClientOptions if not explicitly provided.
func applyDefaultOptions(opts ...contracts.Option) (contracts.ClientOptions, error) {
	options := &contracts.ClientOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.LogFormat == "" {
		options.LogFormat = contracts.JSONFormat
	}
	if options.Logger == nil {
		options.Logger = logger.NewZapLogger(options.LogFormat, options.LogLevel)
	}
	if options.Address == "" {
		options.Address = DefaultAddress
	}
	if options.QueueSize <= 0 {
		options.QueueSize = DefaultQueueSize
	}
	if options.PingInterval <= 0 {
		options.PingInterval = DefaultPingInterval
	}
	if options.RescanInterval <= 0 {
		options.RescanInterval = DefaultRescanInterval
	}
	if options.AutoReselect == nil {
		enabled := true
		options.AutoReselect = &enabled
	}
	if options.ReplayLatest == nil {
		enabled := true
		options.ReplayLatest = &enabled
	}
	if options.CoreMIDIConfig == nil {
		options.CoreMIDIConfig = &contracts.CoreMIDIConfig{ClientName: "faderws"}
	}

	if f := options.Filter; f != nil {
		if f.Controller > 127 {
			return contracts.ClientOptions{}, fmt.Errorf("controller %d out of range 0-127", f.Controller)
		}
		for _, ch := range f.Channels {
			if ch > 15 {
				return contracts.ClientOptions{}, fmt.Errorf("channel %d out of range 0-15", ch)
			}
		}
	}

	options.Logger.SetLevel(options.LogLevel)
	return *options, nil
}
