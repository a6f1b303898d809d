// Command faderws rebroadcasts a MIDI crossfader over websocket.
//
//	faderws list
//	faderws select [device]
//	faderws learn [-device name] [-window 5s]
//	faderws monitor [-addr host] [-port n] [-device name] [-controller n]
//
// FADERWS_ADDR, FADERWS_PORT and FADERWS_CONFIG provide defaults for the
// matching flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/leandrodaf/faderws/internal/cli"
	"github.com/leandrodaf/faderws/sdk/bridge"
	"github.com/leandrodaf/faderws/sdk/contracts"
	"github.com/mattn/go-isatty"
)

const version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &app{
		in:          os.Stdin,
		out:         os.Stdout,
		errOut:      os.Stderr,
		interactive: isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd()),
		getenv:      os.Getenv,
	}
	os.Exit(app.run(ctx, os.Args[1:]))
}

type app struct {
	in          io.Reader
	out         io.Writer
	errOut      io.Writer
	interactive bool
	getenv      func(string) string
}

// common holds the flags every subcommand accepts.
type common struct {
	config string
	debug  bool
	demo   bool
}

func (a *app) bindCommon(fs *flag.FlagSet) *common {
	c := &common{}
	fs.StringVar(&c.config, "config", a.getenv("FADERWS_CONFIG"), "selection file (default: user config dir)")
	fs.BoolVar(&c.debug, "debug", false, "human readable debug logging")
	fs.BoolVar(&c.demo, "demo", false, "use a simulated fader instead of real MIDI hardware")
	return c
}

func (c *common) options(ctx context.Context) []contracts.Option {
	opts := []contracts.Option{contracts.WithLogLevel(contracts.WarnLevel)}
	if c.debug {
		opts = []contracts.Option{
			contracts.WithLogFormat(contracts.ConsoleFormat),
			contracts.WithLogLevel(contracts.DebugLevel),
		}
	}
	if c.config != "" {
		opts = append(opts, contracts.WithConfigPath(c.config))
	}
	if c.demo {
		opts = append(opts, contracts.WithDriver(newDemoDriver(ctx)))
	}
	return opts
}

func (a *app) run(ctx context.Context, args []string) int {
	cmd := "monitor"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "list":
		err = a.list(ctx, args)
	case "select":
		err = a.selectDevice(ctx, args)
	case "learn":
		err = a.learn(ctx, args)
	case "monitor":
		err = a.monitor(ctx, args)
	case "version":
		fmt.Fprintln(a.out, version)
	case "help", "-h", "--help":
		a.usage()
	default:
		fmt.Fprintf(a.errOut, "unknown command %q\n\n", cmd)
		a.usage()
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		fmt.Fprintln(a.errOut, cli.Error(describe(err)))
		return 1
	}
}

var errUsage = errors.New("usage")

func (a *app) usage() {
	fmt.Fprint(a.out, `usage: faderws <command> [flags]

commands:
  list      show MIDI input devices
  select    choose and save the input device
  learn     detect which controller the crossfader sends
  monitor   broadcast crossfader values over websocket (default)
  version   print the version
`)
}

func (a *app) parse(fs *flag.FlagSet, args []string) error {
	fs.SetOutput(a.errOut)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return errUsage
	}
	return nil
}

func (a *app) open(ctx context.Context, c *common, extra ...contracts.Option) (*bridge.Bridge, error) {
	return bridge.NewBridge(append(c.options(ctx), extra...)...)
}

func (a *app) list(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	c := a.bindCommon(fs)
	if err := a.parse(fs, args); err != nil {
		return err
	}

	b, err := a.open(ctx, c)
	if err != nil {
		return err
	}
	defer b.Close()

	devices, err := b.ListDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return contracts.ErrNoDevices
	}
	stored, _ := b.LoadSelection()
	fmt.Fprintln(a.out, cli.DeviceTable(devices, stored.DeviceID))
	return nil
}

func (a *app) selectDevice(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("select", flag.ContinueOnError)
	c := a.bindCommon(fs)
	if err := a.parse(fs, args); err != nil {
		return err
	}

	b, err := a.open(ctx, c)
	if err != nil {
		return err
	}
	defer b.Close()

	dev, err := a.chooseDevice(ctx, b, fs.Arg(0))
	if err != nil {
		return err
	}
	if err := b.SaveSelection(dev.ID); err != nil {
		return err
	}
	fmt.Fprintln(a.out, cli.OK("Saved device: "+dev.ID))
	return nil
}

// chooseDevice resolves name, or prompts when it is empty.
func (a *app) chooseDevice(ctx context.Context, b *bridge.Bridge, name string) (contracts.MidiDevice, error) {
	if name != "" {
		return b.ResolveSelection(name)
	}

	devices, err := b.ListDevices()
	if err != nil {
		return contracts.MidiDevice{}, err
	}
	if len(devices) == 0 {
		return contracts.MidiDevice{}, contracts.ErrNoDevices
	}
	stored, _ := b.LoadSelection()
	if !a.interactive {
		fmt.Fprintln(a.out, cli.DeviceTable(devices, stored.DeviceID))
		return contracts.MidiDevice{}, fmt.Errorf("%w: pass a device name", contracts.ErrNoSelection)
	}
	return cli.DeviceSelector(a.in, a.out, stored.DeviceID)(ctx, devices)
}

func (a *app) learn(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("learn", flag.ContinueOnError)
	c := a.bindCommon(fs)
	device := fs.String("device", "", "device to learn from (default: saved selection)")
	window := fs.Duration("window", 5*time.Second, "how long to watch for movement")
	if err := a.parse(fs, args); err != nil {
		return err
	}

	b, err := a.open(ctx, c)
	if err != nil {
		return err
	}
	defer b.Close()

	name := *device
	if name == "" {
		stored, _ := b.LoadSelection()
		name = stored.DeviceID
	}
	dev, err := a.chooseDevice(ctx, b, name)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, cli.Warn("Move ONLY the crossfader fully left and right."))
	fmt.Fprintln(a.out, cli.Dim(fmt.Sprintf("Watching %s for %s, Ctrl+C to finish early.", dev.ID, *window)))

	// interrupting the watch ends learning, not the command
	watchCtx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	candidates, err := b.Learn(watchCtx, dev.ID, *window, func(seen int) {
		fmt.Fprintf(a.out, "\r%s", cli.Dim(fmt.Sprintf("Found %d controls", seen)))
	})
	cancel()
	fmt.Fprintln(a.out)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return errors.New("no significant control movement detected, try again")
	}

	fmt.Fprintln(a.out, cli.CandidateTable(candidates))
	chosen := candidates[0]
	if a.interactive && len(candidates) > 1 {
		// Ctrl+C may already have ended the watch; the choice still has to be made
		if chosen, err = cli.PickController(context.WithoutCancel(ctx), a.in, a.out, candidates); err != nil {
			return err
		}
	}
	if err := b.SaveController(chosen.Controller); err != nil {
		return err
	}
	fmt.Fprintln(a.out, cli.OK(fmt.Sprintf("Watching control number %d", chosen.Controller)))
	return nil
}

func (a *app) monitor(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	c := a.bindCommon(fs)
	host := fs.String("addr", envOr(a.getenv, "FADERWS_ADDR", "localhost"), "websocket listen host")
	port := fs.Int("port", envPort(a.getenv, 8765), "websocket listen port")
	device := fs.String("device", "", "device to monitor (default: saved selection)")
	controller := fs.Int("controller", -1, "controller number (default: learned, else 7)")
	queue := fs.Int("queue", bridge.DefaultQueueSize, "per-client outbound queue length")
	noReselect := fs.Bool("no-reselect", false, "exit when the device is unplugged")
	skip := fs.Bool("skip-unchanged", false, "drop repeated values")
	if err := a.parse(fs, args); err != nil {
		return err
	}
	if *controller > 127 || *port < 0 || *port > 65535 {
		fs.Usage()
		return errUsage
	}

	fmt.Fprintln(a.out, cli.Header(version))

	addr := net.JoinHostPort(*host, strconv.Itoa(*port))
	opts := []contracts.Option{
		contracts.WithAddress(addr),
		contracts.WithQueueSize(*queue),
		contracts.WithAutoReselect(!*noReselect),
		contracts.WithSkipUnchanged(*skip),
		contracts.WithStateHook(func(from, to string) {
			// leaving starting for selection means the listener is bound
			if from == "starting" && to == "selecting-device" {
				fmt.Fprintln(a.out, cli.OK("WebSocket server at ws://"+addr))
			}
			fmt.Fprintf(a.out, "\n%s\n", cli.Dim("session "+to))
		}),
	}
	if *device != "" {
		opts = append(opts, contracts.WithDeviceID(*device))
	}
	if *controller >= 0 {
		opts = append(opts, contracts.WithControllerFilter(contracts.ControllerFilter{Controller: uint8(*controller)}))
	}

	var b *bridge.Bridge
	if a.interactive {
		opts = append(opts,
			contracts.WithSelector(func(ctx context.Context, devices []contracts.MidiDevice) (contracts.MidiDevice, error) {
				stored, _ := b.LoadSelection()
				return cli.DeviceSelector(a.in, a.out, stored.DeviceID)(ctx, devices)
			}),
			contracts.WithEventHook(func(ev contracts.ControlValueEvent) {
				fmt.Fprintf(a.out, "\r%s", cli.Status(ev))
			}),
		)
	}

	b, err := a.open(ctx, c, opts...)
	if err != nil {
		return err
	}
	defer b.Close()

	filter := b.Filter()
	fmt.Fprintln(a.out, cli.Dim(fmt.Sprintf("Watching controller %d", filter.Controller)))

	err = b.StartSession(ctx)
	fmt.Fprintln(a.out)
	if err == nil {
		fmt.Fprintln(a.out, cli.Warn("Shutting down..."))
	}
	return err
}

func envOr(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func envPort(getenv func(string) string, def int) int {
	if v := getenv("FADERWS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			return p
		}
	}
	return def
}

// describe turns the error taxonomy into a message for the terminal.
func describe(err error) string {
	switch {
	case errors.Is(err, contracts.ErrNoDevices):
		return "No MIDI input devices found!"
	case errors.Is(err, contracts.ErrNoSelection):
		return "No MIDI device selected: " + err.Error()
	case errors.Is(err, contracts.ErrDeviceNotFound):
		return "Device not found: " + err.Error()
	case errors.Is(err, contracts.ErrBind):
		return "Cannot start the websocket server: " + err.Error()
	case errors.Is(err, contracts.ErrServerStopped):
		return "The websocket server stopped: " + err.Error()
	case errors.Is(err, contracts.ErrUnsupportedOS):
		return "MIDI is not supported on this platform, try -demo"
	default:
		return "Error: " + err.Error()
	}
}
