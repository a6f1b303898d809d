// Package cli renders terminal output and interactive prompts.
package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/leandrodaf/faderws/internal/learn"
	"github.com/leandrodaf/faderws/sdk/contracts"
)

var (
	accent = lipgloss.Color("#5f87ff")
	muted  = lipgloss.Color("#777")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#d75fd7"))
	dimStyle     = lipgloss.NewStyle().Foreground(muted)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#5fd75f"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffd75f"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f"))
	cursorStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	bannerBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(accent).Padding(0, 1)
)

// Header is the banner printed at startup.
func Header(version string) string {
	return bannerBorder.Render(titleStyle.Render("MIDI Controller Monitor v" + version))
}

// DeviceTable lists devices, marking the stored one.
func DeviceTable(devices []contracts.MidiDevice, stored string) string {
	rows := make([][]string, 0, len(devices))
	for i, d := range devices {
		mark := ""
		if d.ID == stored {
			mark = "saved"
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), d.ID, d.Manufacturer, mark})
	}
	return newTable("#", "Device Name", "Manufacturer", "").Rows(rows...).Render()
}

// CandidateTable lists learn results.
func CandidateTable(candidates []learn.Candidate) string {
	rows := make([][]string, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, []string{
			strconv.Itoa(int(c.Controller)),
			fmt.Sprintf("%d - %d", c.Min, c.Max),
			strconv.Itoa(c.Changes),
		})
	}
	return newTable("Control #", "Range", "# Changes").Rows(rows...).Render()
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().Padding(0, 1)
			switch {
			case row == table.HeaderRow:
				return s.Inherit(headerStyle)
			case col == 0:
				return s.Inherit(dimStyle)
			default:
				return s
			}
		})
}

// FaderBar draws value (0-127) as a horizontal gauge of the given width.
func FaderBar(value uint8, width int) string {
	if width <= 0 {
		width = 32
	}
	if value > 127 {
		value = 127
	}
	filled := int(value) * width / 127
	return okStyle.Render(strings.Repeat("█", filled)) + dimStyle.Render(strings.Repeat("░", width-filled))
}

// Status is the single line shown while monitoring.
func Status(ev contracts.ControlValueEvent) string {
	return fmt.Sprintf("CC %-3d ch %-2d %s %3d", ev.Controller, int(ev.Channel)+1, FaderBar(ev.Value, 32), ev.Value)
}

// OK, Warn, Error and Dim style one-line messages.
func OK(s string) string    { return okStyle.Render(s) }
func Warn(s string) string  { return warnStyle.Render(s) }
func Error(s string) string { return errStyle.Render(s) }
func Dim(s string) string   { return dimStyle.Render(s) }
