// Package learn finds which controller a physical fader sends by watching
// every Control Change for a short window.
package learn

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/leandrodaf/faderws/internal/midi"
	"github.com/leandrodaf/faderws/sdk/contracts"
)

const (
	DefaultWindow     = 5 * time.Second
	DefaultMinRange   = 20
	DefaultMinChanges = 5
)

// Candidate is a controller that moved during the window.
type Candidate = contracts.ControllerActivity

// Options tunes what counts as a deliberate movement.
type Options struct {
	Window time.Duration
	// A controller qualifies when its range exceeds MinRange and it sent
	// more than MinChanges messages.
	MinRange   int
	MinChanges int
	Channels   []uint8
	// Progress, when set, is called with the number of distinct
	// controllers seen so far each time a new one shows up.
	Progress func(seen int)
	// Presence, when set, is polled every WatchInterval so an unplug that the
	// driver never reports still ends the run.
	Presence      func(id string) bool
	WatchInterval time.Duration
}

func (o *Options) defaults() {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.MinRange <= 0 {
		o.MinRange = DefaultMinRange
	}
	if o.MinChanges <= 0 {
		o.MinChanges = DefaultMinChanges
	}
	if o.WatchInterval <= 0 {
		o.WatchInterval = time.Second
	}
}

// Tracker accumulates per-controller statistics. It is safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	seen  map[uint8]*Candidate
	order []uint8
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[uint8]*Candidate)}
}

// Observe records one event and reports whether its controller is new.
func (t *Tracker) Observe(ev contracts.ControlValueEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.seen[ev.Controller]
	if !ok {
		t.seen[ev.Controller] = &Candidate{Controller: ev.Controller, Min: ev.Value, Max: ev.Value, Changes: 1}
		t.order = append(t.order, ev.Controller)
		return true
	}
	if ev.Value < c.Min {
		c.Min = ev.Value
	}
	if ev.Value > c.Max {
		c.Max = ev.Value
	}
	c.Changes++
	return false
}

// Seen returns how many distinct controllers were observed.
func (t *Tracker) Seen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

// Candidates returns the qualifying controllers, most active first.
func (t *Tracker) Candidates(minRange, minChanges int) []Candidate {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Candidate
	for _, ctl := range t.order {
		c := *t.seen[ctl]
		if c.Range() > minRange && c.Changes > minChanges {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Changes > out[j].Changes })
	return out
}

// Run listens to device for the window, or until ctx ends, and returns the
// qualifying controllers. Ending early through ctx is not an error. An empty
// result means nothing moved enough.
func Run(ctx context.Context, driver contracts.Driver, device string, logger contracts.Logger, opts Options) ([]Candidate, error) {
	opts.defaults()

	tracker := NewTracker()
	dec := midi.NewScanDecoder(opts.Channels...)
	var decMu sync.Mutex
	failed := make(chan error, 1)

	onData := func(data []byte) {
		decMu.Lock()
		defer decMu.Unlock()
		err := dec.Decode(data, func(ev contracts.ControlValueEvent) {
			if tracker.Observe(ev) && opts.Progress != nil {
				opts.Progress(tracker.Seen())
			}
		})
		if err != nil {
			logger.Warn("dropping malformed midi data",
				logger.Field().String("device", device),
				logger.Field().Error("error", err))
		}
	}
	onError := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}

	stop, err := driver.Listen(device, onData, onError)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", contracts.ErrDeviceOpen, device, err)
	}
	logger.Info("learning controller",
		logger.Field().String("device", device),
		logger.Field().Duration("window", opts.Window))

	timer := time.NewTimer(opts.Window)
	defer timer.Stop()

	// a nil channel never fires, so without Presence there is no polling
	var watch <-chan time.Time
	if opts.Presence != nil {
		ticker := time.NewTicker(opts.WatchInterval)
		defer ticker.Stop()
		watch = ticker.C
	}

	var runErr error
wait:
	for {
		select {
		case <-timer.C:
			break wait
		case <-ctx.Done():
			break wait
		case err := <-failed:
			runErr = fmt.Errorf("%w: %s: %v", contracts.ErrDeviceDisconnected, device, err)
			break wait
		case <-watch:
			if !opts.Presence(device) {
				runErr = fmt.Errorf("%w: %s", contracts.ErrDeviceDisconnected, device)
				break wait
			}
		}
	}
	if err := stop(); err != nil {
		logger.Warn("closing midi input failed", logger.Field().Error("error", err))
	}
	if runErr != nil {
		return nil, runErr
	}

	out := tracker.Candidates(opts.MinRange, opts.MinChanges)
	logger.Info("learn finished",
		logger.Field().Int("controllers", tracker.Seen()),
		logger.Field().Int("candidates", len(out)))
	return out, nil
}
