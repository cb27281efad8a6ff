// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
)

// tuiStyles is the palette shared by every terminal UI
type tuiStyles struct {
	title      lipgloss.Style
	header     lipgloss.Style
	label      lipgloss.Style
	value      lipgloss.Style
	err        lipgloss.Style
	warning    lipgloss.Style
	box        lipgloss.Style
	focusedBox lipgloss.Style
}

func newTUIStyles() tuiStyles {
	return tuiStyles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		label: lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true),
		value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")),
		err: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true),
		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		focusedBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1),
	}
}

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// eventLog keeps the most recent entries
type eventLog struct {
	entries []errorLogEntry
	max     int
}

func newEventLog(max int) eventLog {
	return eventLog{entries: make([]errorLogEntry, 0), max: max}
}

func (l *eventLog) add(message string, isError bool) {
	l.entries = append(l.entries, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// render draws the newest lines entries that fit
func (l eventLog) render(st tuiStyles, lines int) string {
	if len(l.entries) == 0 {
		return st.header.Render("  (no events yet)")
	}

	var b strings.Builder
	start := max(len(l.entries)-lines, 0)
	for _, entry := range l.entries[start:] {
		ts := entry.timestamp.Format("01/02/06 15:04:05.000")
		if entry.isError {
			fmt.Fprintf(&b, "%s %s\n", st.header.Render(ts), st.err.Render("✗ "+entry.message))
		} else {
			fmt.Fprintf(&b, "%s %s\n", st.header.Render(ts), st.warning.Render("ℹ "+entry.message))
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24
	months := days / 30
	years := months / 12

	seconds %= 60
	minutes %= 60
	hours %= 24
	days %= 30
	months %= 12

	units := []struct {
		n    uint64
		name string
	}{
		{years, "year"},
		{months, "month"},
		{days, "day"},
		{hours, "hour"},
		{minutes, "minute"},
	}

	parts := []string{}
	for _, u := range units {
		switch {
		case u.n == 1:
			parts = append(parts, "1 "+u.name)
		case u.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", u.n, u.name))
		}
	}
	if seconds > 0 || len(parts) == 0 {
		if seconds == 1 {
			parts = append(parts, "1 second")
		} else {
			parts = append(parts, fmt.Sprintf("%d seconds", seconds))
		}
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

// renderStatistics draws the frame counters box content
func renderStatistics(st tuiStyles, stats *shuttleproto.Statistics) string {
	stats.CalculateRates()

	errs := stats.CRCErrors + stats.DecodeErrors + stats.UnknownTypes + stats.AnomalousValues
	var validPercent, errorPercent float64
	if stats.TotalFrames > 0 {
		validPercent = float64(stats.ValidFrames) * 100.0 / float64(stats.TotalFrames)
		errorPercent = float64(errs) * 100.0 / float64(stats.TotalFrames)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s   %s %s   %s %s\n",
		st.label.Render("Total:"), st.value.Render(fmt.Sprintf("%d", stats.TotalFrames)),
		st.label.Render("Valid:"), st.value.Render(fmt.Sprintf("%d (%.1f%%)", stats.ValidFrames, validPercent)),
		st.label.Render("Errors:"), st.err.Render(fmt.Sprintf("%d (%.1f%%)", errs, errorPercent)),
	)

	if stats.CRCErrors > 0 || stats.DecodeErrors > 0 || stats.UnknownTypes > 0 {
		fmt.Fprintf(&b, "%s %s   %s %s   %s %s\n",
			st.label.Render("CRC Errors:"), st.err.Render(fmt.Sprintf("%d", stats.CRCErrors)),
			st.label.Render("Decode Errors:"), st.err.Render(fmt.Sprintf("%d", stats.DecodeErrors)),
			st.label.Render("Unknown:"), st.err.Render(fmt.Sprintf("%d", stats.UnknownTypes)),
		)
	}
	if stats.AnomalousValues > 0 {
		fmt.Fprintf(&b, "%s %s\n",
			st.label.Render("Anomalous:"), st.warning.Render(fmt.Sprintf("%d", stats.AnomalousValues)))
	}

	rate := st.value
	if stats.ErrorRate > 0 {
		rate = st.err
	}
	fmt.Fprintf(&b, "%s %s   %s %s",
		st.label.Render("Frame Rate:"), st.value.Render(fmt.Sprintf("%.1f frames/s", stats.FrameRate)),
		st.label.Render("Error Rate:"), rate.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate)),
	)
	return b.String()
}

// shuttleReadings is the latest telemetry seen from one shuttle
type shuttleReadings struct {
	telemetry   *shuttleproto.Telemetry
	sensors     *shuttleproto.Sensors
	stats       *shuttleproto.Stats
	lastUpdated time.Time
}

// apply records msg if it carries readings and reports whether it did
func (r *shuttleReadings) apply(msg shuttleproto.Message) bool {
	switch m := msg.(type) {
	case shuttleproto.Telemetry:
		r.telemetry = &m
	case shuttleproto.Sensors:
		r.sensors = &m
	case shuttleproto.Stats:
		r.stats = &m
	default:
		return false
	}
	r.lastUpdated = time.Now()
	return true
}

func (r shuttleReadings) render(st tuiStyles) string {
	if r.telemetry == nil && r.sensors == nil && r.stats == nil {
		return st.header.Render("(waiting for telemetry)")
	}

	var b strings.Builder
	if t := r.telemetry; t != nil {
		fmt.Fprintf(&b, "%s %s   %s %s\n",
			st.label.Render("Shuttle:"), st.value.Render(fmt.Sprintf("#%d", t.ShuttleNumber)),
			st.label.Render("Command:"), st.value.Render(shuttleproto.CmdType(t.Status).String()),
		)
		fmt.Fprintf(&b, "%s %s   %s %s\n",
			st.label.Render("Position:"), st.value.Render(fmt.Sprintf("%d mm", t.Position)),
			st.label.Render("Speed:"), st.value.Render(fmt.Sprintf("%d%%", t.Speed)),
		)
		battery := st.value
		if t.BatteryCharge < 20 {
			battery = st.warning
		}
		fmt.Fprintf(&b, "%s %s   %s %s\n",
			st.label.Render("Battery:"), battery.Render(fmt.Sprintf("%.2f V (%d%%)", t.BatteryVolts(), t.BatteryCharge)),
			st.label.Render("Pallets:"), st.value.Render(fmt.Sprintf("%d", t.PalletCount)),
		)
		if t.ErrorCode != 0 {
			fmt.Fprintf(&b, "%s %s\n", st.label.Render("Error:"), st.err.Render(fmt.Sprintf("0x%04X", t.ErrorCode)))
		}
	}
	if s := r.sensors; s != nil {
		fmt.Fprintf(&b, "%s %s\n", st.label.Render("Temperature:"), st.value.Render(fmt.Sprintf("%.1f°C", s.Temperature())))
	}
	if s := r.stats; s != nil {
		fmt.Fprintf(&b, "%s %s\n", st.label.Render("Uptime:"), st.value.Render(formatUptime(uint64(s.UptimeMinutes)*60_000)))
	}
	fmt.Fprintf(&b, "%s", st.header.Render("updated "+r.lastUpdated.Format("15:04:05")))
	return b.String()
}

// monitorFrameMsg carries one frame read by the monitor's stream goroutine
type monitorFrameMsg struct {
	frame  shuttleproto.Frame
	msg    shuttleproto.Message
	err    error
	issues []shuttleproto.ValidationError
}

// monitorScanMsg reports scanner counters accumulated since the last one
type monitorScanMsg struct {
	delta shuttleproto.ScanStats
	first bool // the first frame has been found
}

// monitorClosedMsg is sent when the stream ends
type monitorClosedMsg struct{ err error }

type tickMsg time.Time

// monitorModel is the single-shuttle frame monitor
type monitorModel struct {
	connInfo     string
	showAll      bool
	styles       tuiStyles
	stats        *shuttleproto.Statistics
	log          eventLog
	readings     shuttleReadings
	synchronized bool
	closed       bool
	width        int
	height       int
	quitting     bool
}

func initialMonitorModel(connInfo string, showAll bool) monitorModel {
	return monitorModel{
		connInfo: connInfo,
		showAll:  showAll,
		styles:   newTUIStyles(),
		stats:    shuttleproto.NewStatistics(),
		log:      newEventLog(100),
		width:    80,
		height:   24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.log.add("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case monitorScanMsg:
		if msg.first && !m.synchronized {
			m.synchronized = true
			if msg.delta.DiscardedBytes > 0 {
				m.log.add(fmt.Sprintf("Synchronized after skipping %d bytes", msg.delta.DiscardedBytes), false)
			} else {
				m.log.add("Synchronized", false)
			}
		}
		if msg.delta.CRCErrors > 0 {
			m.log.add(fmt.Sprintf("CRC ERROR: %d frame(s) dropped", msg.delta.CRCErrors), true)
		}
		m.stats.UpdateScan(msg.delta)

	case monitorFrameMsg:
		m.stats.Update(msg.err, msg.issues)
		msgType := shuttleproto.FormatMessageType(msg.frame.Type)
		switch {
		case msg.err != nil:
			m.log.add(fmt.Sprintf("DECODE ERROR: %s seq=%d: %v", msgType, msg.frame.Seq, msg.err), true)
		case len(msg.issues) > 0:
			for _, issue := range msg.issues {
				m.log.add(fmt.Sprintf("%s: %s", msgType, issue.Message), true)
			}
		case m.showAll:
			m.log.add(shuttleproto.FormatMessage(msg.msg), false)
		}
		if msg.err == nil {
			if l, ok := msg.msg.(shuttleproto.Log); ok && !m.showAll {
				m.log.add(fmt.Sprintf("[%s] %s", l.Level, l.Text), l.Level == shuttleproto.LogError)
			}
			m.readings.apply(msg.msg)
		}

	case monitorClosedMsg:
		m.closed = true
		if msg.err != nil {
			m.log.add(fmt.Sprintf("Connection lost: %v", msg.err), true)
		} else {
			m.log.add("Connection closed", true)
		}
	}

	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}
	st := m.styles

	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}

	var s strings.Builder
	s.WriteString(st.title.Render("SHUTTLEHUB - FRAME MONITOR"))
	s.WriteString("\n")
	s.WriteString(st.header.Render(fmt.Sprintf("%s | Mode: %s | 'r' reset stats | 'q' quit", m.connInfo, mode)))
	s.WriteString("\n\n")

	switch {
	case m.closed:
		s.WriteString(st.err.Render("✗ Disconnected"))
	case !m.synchronized:
		s.WriteString(st.warning.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(st.value.Render("✓ Synchronized"))
	}
	s.WriteString("\n\n")

	s.WriteString(st.box.Render(renderStatistics(st, m.stats)))
	s.WriteString("\n\n")

	s.WriteString(st.label.Render("Latest Telemetry:"))
	s.WriteString("\n")
	s.WriteString(st.box.Render(m.readings.render(st)))
	s.WriteString("\n\n")

	s.WriteString(st.label.Render("Recent Events:"))
	s.WriteString("\n")
	// Reserve space for header, stats and telemetry
	logHeight := max(m.height-22, 5)
	s.WriteString(st.box.Width(max(m.width-4, 20)).Render(m.log.render(st, logHeight)))

	return s.String()
}
