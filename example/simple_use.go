package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/leandrodaf/faderws/internal/logger"
	"github.com/leandrodaf/faderws/sdk/bridge"
	"github.com/leandrodaf/faderws/sdk/contracts"
)

func main() {
	log := logger.NewZapLogger(contracts.ConsoleFormat, contracts.InfoLevel)

	client, err := bridge.NewBridge(
		contracts.WithLogger(log),
		contracts.WithLogLevel(contracts.InfoLevel),
		contracts.WithAddress("localhost:8765"),
		contracts.WithControllerFilter(contracts.ControllerFilter{Controller: 7}),
	)
	if err != nil {
		log.Error("Failed to initialize bridge", log.Field().Error("error", err))
		return
	}
	defer client.Close()

	devices, err := client.ListDevices()
	if err != nil || len(devices) == 0 {
		log.Error("No MIDI devices found or error listing devices", log.Field().Error("error", err))
		return
	}
	fmt.Println("Available MIDI devices:", devices)

	stored, err := client.LoadSelection()
	if err != nil || !stored.HasDevice() {
		if err = client.SaveSelection(devices[0].ID); err != nil {
			log.Error("Failed to save MIDI device", log.Field().Error("error", err))
			return
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println("Broadcasting on ws://localhost:8765 ... Press Ctrl+C to exit.")
	if err := client.StartSession(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Session failed", log.Field().Error("error", err))
	}
}
