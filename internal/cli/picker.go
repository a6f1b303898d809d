package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/leandrodaf/faderws/internal/learn"
	"github.com/leandrodaf/faderws/sdk/contracts"
)

// Picker is a bubbletea model choosing one entry from a list.
type Picker struct {
	title    string
	items    []string
	cursor   int
	chosen   int
	quitting bool
}

// NewPicker returns a picker over items with the cursor on initial.
func NewPicker(title string, items []string, initial int) Picker {
	if initial < 0 || initial >= len(items) {
		initial = 0
	}
	return Picker{title: title, items: items, cursor: initial, chosen: -1}
}

// Chosen returns the selected index, or -1 when the user backed out.
func (m Picker) Chosen() int {
	return m.chosen
}

func (m Picker) Init() tea.Cmd {
	return nil
}

func (m Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "q", "esc", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
	case "j", "down":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case "enter", " ":
		if len(m.items) > 0 {
			m.chosen = m.cursor
		}
		m.quitting = true
		return m, tea.Quit
	default:
		// digits jump straight to an entry, numbered from 1
		if n, err := strconv.Atoi(key.String()); err == nil && n >= 1 && n <= len(m.items) {
			m.cursor = n - 1
			m.chosen = m.cursor
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Picker) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	for i, item := range m.items {
		line := fmt.Sprintf("%d. %s", i+1, item)
		if i == m.cursor {
			b.WriteString(cursorStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("up/down to move, enter to select, q to cancel"))
	b.WriteString("\n")
	return b.String()
}

// Prompt runs a picker on the given terminal streams and returns the chosen
// index. Cancelling yields contracts.ErrNoSelection.
func Prompt(ctx context.Context, in io.Reader, out io.Writer, p Picker) (int, error) {
	final, err := tea.NewProgram(p, tea.WithContext(ctx), tea.WithInput(in), tea.WithOutput(out)).Run()
	if err != nil {
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		if errors.Is(err, tea.ErrProgramKilled) {
			return -1, contracts.ErrNoSelection
		}
		return -1, fmt.Errorf("prompt: %w", err)
	}
	idx := final.(Picker).Chosen()
	if idx < 0 {
		return -1, contracts.ErrNoSelection
	}
	return idx, nil
}

// DeviceSelector prompts for a device, pre-selecting the stored one.
func DeviceSelector(in io.Reader, out io.Writer, stored string) contracts.Selector {
	return func(ctx context.Context, devices []contracts.MidiDevice) (contracts.MidiDevice, error) {
		items := make([]string, len(devices))
		initial := 0
		for i, d := range devices {
			items[i] = d.ID
			if d.ID == stored {
				initial = i
			}
		}
		idx, err := Prompt(ctx, in, out, NewPicker("Select MIDI input device", items, initial))
		if err != nil {
			return contracts.MidiDevice{}, err
		}
		return devices[idx], nil
	}
}

// PickController prompts for one of the learned controllers.
func PickController(ctx context.Context, in io.Reader, out io.Writer, candidates []learn.Candidate) (learn.Candidate, error) {
	items := make([]string, len(candidates))
	for i, c := range candidates {
		items[i] = fmt.Sprintf("CC %d  range %d-%d  %d changes", c.Controller, c.Min, c.Max, c.Changes)
	}
	idx, err := Prompt(ctx, in, out, NewPicker("Which control is your crossfader?", items, 0))
	if err != nil {
		return learn.Candidate{}, err
	}
	return candidates[idx], nil
}
