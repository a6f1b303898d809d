//go:build windows
// +build windows

package midiwindows

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/leandrodaf/faderws/sdk/contracts"
	"golang.org/x/sys/windows"
)

// HMIDIIN is a winmm MIDI input handle.
type HMIDIIN windows.Handle

// Callback flags
const (
	CALLBACK_FUNCTION = 0x00030000 // The callback is a function.
	MIDI_IO_STATUS    = 0x00000020 // Deliver MIM_MOREDATA.
)

// MIDI input messages
const (
	MIM_OPEN      = 0x3C1
	MIM_CLOSE     = 0x3C2
	MIM_DATA      = 0x3C3
	MIM_ERROR     = 0x3C5
	MIM_LONGERROR = 0x3C6
	MIM_MOREDATA  = 0x3CC
)

type midiInCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	dwSupport      uint32
}

var (
	winmm                = windows.NewLazySystemDLL("winmm.dll")
	procMidiInGetNumDevs = winmm.NewProc("midiInGetNumDevs")
	procMidiInGetDevCaps = winmm.NewProc("midiInGetDevCapsW")
	procMidiInOpen       = winmm.NewProc("midiInOpen")
	procMidiInStart      = winmm.NewProc("midiInStart")
	procMidiInStop       = winmm.NewProc("midiInStop")
	procMidiInReset      = winmm.NewProc("midiInReset")
	procMidiInClose      = winmm.NewProc("midiInClose")
)

// The callback trampoline is created once; windows.NewCallback slots are a
// finite process resource. Open ports are looked up by the instance id winmm
// passes back, so no Go pointer crosses into the driver.
var (
	callbackOnce sync.Once
	callbackPtr  uintptr

	portsMu    sync.RWMutex
	openPorts  = map[uintptr]*inPort{}
	nextPortID uintptr
)

type inPort struct {
	name    string
	handle  HMIDIIN
	onData  contracts.RawHandler
	onError func(error)
	logger  contracts.Logger

	mu      sync.Mutex
	closing bool
	errOnce sync.Once
}

// Driver reads MIDI input through winmm.
type Driver struct {
	logger contracts.Logger
}

// NewDriver creates a winmm driver.
func NewDriver(options *contracts.ClientOptions) (contracts.Driver, error) {
	callbackOnce.Do(func() {
		callbackPtr = windows.NewCallback(midiInCallback)
	})
	return &Driver{logger: options.Logger}, nil
}

// ListDevices enumerates winmm input devices.
func (d *Driver) ListDevices() ([]contracts.MidiDevice, error) {
	r0, _, _ := procMidiInGetNumDevs.Call()
	numDevices := uint32(r0)

	devices := make([]contracts.MidiDevice, 0, numDevices)
	for i := uint32(0); i < numDevices; i++ {
		var caps midiInCaps
		r1, _, _ := procMidiInGetDevCaps.Call(
			uintptr(i),
			uintptr(unsafe.Pointer(&caps)),
			unsafe.Sizeof(caps),
		)
		if r1 != 0 {
			d.logger.Warn("failed to get MIDI device capabilities", d.logger.Field().Int("index", int(i)))
			continue
		}
		devices = append(devices, contracts.MidiDevice{
			ID:           windows.UTF16ToString(caps.szPname[:]),
			Manufacturer: fmt.Sprintf("MID: %d PID: %d", caps.wMid, caps.wPid),
			Connected:    true,
		})
	}
	return devices, nil
}

// Listen opens and starts the named input device.
func (d *Driver) Listen(name string, onData contracts.RawHandler, onError func(error)) (func() error, error) {
	index, err := d.indexOf(name)
	if err != nil {
		return nil, err
	}

	p := &inPort{name: name, onData: onData, onError: onError, logger: d.logger}

	portsMu.Lock()
	nextPortID++
	id := nextPortID
	openPorts[id] = p
	portsMu.Unlock()

	r1, _, callErr := procMidiInOpen.Call(
		uintptr(unsafe.Pointer(&p.handle)),
		uintptr(index),
		callbackPtr,
		id,
		uintptr(CALLBACK_FUNCTION|MIDI_IO_STATUS),
	)
	if r1 != 0 {
		forget(id)
		return nil, fmt.Errorf("failed to open MIDI device %q: %v", name, callErr)
	}

	r1, _, callErr = procMidiInStart.Call(uintptr(p.handle))
	if r1 != 0 {
		procMidiInClose.Call(uintptr(p.handle))
		forget(id)
		return nil, fmt.Errorf("failed to start MIDI capture on %q: %v", name, callErr)
	}

	var once sync.Once
	var stopErr error
	return func() error {
		once.Do(func() {
			p.mu.Lock()
			p.closing = true
			p.mu.Unlock()
			stopErr = p.close()
			forget(id)
		})
		return stopErr
	}, nil
}

// Close is a no-op; ports are closed by their stop functions.
func (d *Driver) Close() error {
	return nil
}

func (d *Driver) indexOf(name string) (int, error) {
	devices, err := d.ListDevices()
	if err != nil {
		return -1, err
	}
	for i, dev := range devices {
		if dev.ID == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", contracts.ErrDeviceNotFound, name)
}

func (p *inPort) close() error {
	if r1, _, err := procMidiInStop.Call(uintptr(p.handle)); r1 != 0 {
		return fmt.Errorf("failed to stop MIDI capture: %v", err)
	}
	procMidiInReset.Call(uintptr(p.handle))
	if r1, _, err := procMidiInClose.Call(uintptr(p.handle)); r1 != 0 {
		return fmt.Errorf("failed to close MIDI device: %v", err)
	}
	return nil
}

func forget(id uintptr) {
	portsMu.Lock()
	delete(openPorts, id)
	portsMu.Unlock()
}

// midiInCallback receives every winmm input notification.
func midiInCallback(hMidiIn uintptr, wMsg uint32, dwInstance uintptr, dwParam1 uintptr, dwParam2 uintptr) uintptr {
	portsMu.RLock()
	p := openPorts[dwInstance]
	portsMu.RUnlock()
	if p == nil {
		return 0
	}

	switch wMsg {
	case MIM_DATA, MIM_MOREDATA:
		buf := [3]byte{
			byte(dwParam1 & 0xFF),
			byte((dwParam1 >> 8) & 0xFF),
			byte((dwParam1 >> 16) & 0xFF),
		}
		p.mu.Lock()
		if !p.closing {
			p.onData(buf[:shortMessageLen(buf[0])])
		}
		p.mu.Unlock()
	case MIM_CLOSE:
		p.mu.Lock()
		closing := p.closing
		p.mu.Unlock()
		if !closing && p.onError != nil {
			p.errOnce.Do(func() {
				p.onError(fmt.Errorf("winmm closed %q", p.name))
			})
		}
	case MIM_ERROR, MIM_LONGERROR:
		p.logger.Warn("invalid MIDI data from driver",
			p.logger.Field().String("device", p.name),
			p.logger.Field().Uint64("param", uint64(dwParam1)))
	}
	return 0
}

func shortMessageLen(status byte) int {
	switch {
	case status >= 0xF8, status == 0xF6:
		return 1
	case status == 0xF1, status == 0xF3:
		return 2
	case status >= 0xF0:
		return 3
	}
	switch status & 0xF0 {
	case 0xC0, 0xD0:
		return 2
	}
	return 3
}
