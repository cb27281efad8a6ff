// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/shuttlehub/pkg/hub"
	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	statsEveryPolls = 5 // Sensors and stats are requested every N polls
	staleAfter      = 10 * time.Second
)

// Focus states
const (
	focusShuttleList = iota
	focusCommandInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// shuttle is one entry in the fleet list
type shuttle struct {
	address  string
	deviceID int
	state    string
	lastErr  error
	lastSeen time.Time
}

// Implement list.Item interface
func (s shuttle) Title() string {
	if s.deviceID >= 0 {
		return fmt.Sprintf("Shuttle #%d", s.deviceID)
	}
	return s.address
}

func (s shuttle) Description() string {
	return s.address + " " + s.state
}

func (s shuttle) FilterValue() string { return s.address }

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	link     *fleetLink
	connInfo string
	styles   tuiStyles

	// Fleet tracking, in the order shuttles were added
	shuttles    []shuttle
	shuttleList list.Model
	readings    map[string]*shuttleReadings

	stats *shuttleproto.Statistics
	log   eventLog

	cmdInput     textinput.Model
	focusedField int
	inFlight     int

	polls    int
	lastPoll time.Time

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type hubEventMsg struct {
	ev hub.Event
}

type commandResultMsg struct {
	address string
	desc    string
	err     error
	rtt     time.Duration
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(link *fleetLink, connInfo string, addresses []string) controlModel {
	ti := textinput.New()
	ti.Placeholder = "home | move-dist-f 1500 | set max-speed 80 | clock"
	ti.CharLimit = 64
	ti.Width = 40

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	shuttleList := list.New([]list.Item{}, delegate, 30, 10)
	shuttleList.Title = "Shuttles"
	shuttleList.SetShowStatusBar(false)
	shuttleList.SetShowHelp(false)
	shuttleList.SetFilteringEnabled(false)

	m := controlModel{
		link:         link,
		connInfo:     connInfo,
		styles:       newTUIStyles(),
		shuttles:     make([]shuttle, 0, len(addresses)),
		shuttleList:  shuttleList,
		readings:     make(map[string]*shuttleReadings),
		stats:        shuttleproto.NewStatistics(),
		log:          newEventLog(100),
		cmdInput:     ti,
		focusedField: focusShuttleList,
		width:        80,
		height:       24,
	}
	for _, addr := range addresses {
		m.shuttles = append(m.shuttles, shuttle{address: addr, deviceID: -1, state: "connecting"})
	}
	m.updateShuttleList()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionRelease && msg.Button == tea.MouseButtonLeft {
			m.shuttleList, _ = m.shuttleList.Update(msg)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		m.stats.CalculateRates()
		if time.Since(m.lastPoll) >= controlPoll {
			m.lastPoll = time.Now()
			m.polls++
			m.link.poll(m.polls%statsEveryPolls == 1)
		}
		return m, controlTickCmd()

	case hubEventMsg:
		m.processEvent(msg.ev)

	case commandResultMsg:
		m.inFlight--
		var nack *hub.NackError
		switch {
		case msg.err == nil:
			m.log.add(fmt.Sprintf("%s: %s ACK OK (%v)", msg.address, msg.desc, msg.rtt.Round(time.Millisecond)), false)
		case errors.As(msg.err, &nack):
			m.log.add(fmt.Sprintf("%s: %s rejected: %s", msg.address, msg.desc, nack.Result), true)
		default:
			m.log.add(fmt.Sprintf("%s: %s failed: %v", msg.address, msg.desc, msg.err), true)
		}
	}

	var cmd tea.Cmd
	if m.focusedField == focusCommandInput {
		m.cmdInput, cmd = m.cmdInput.Update(msg)
		cmds = append(cmds, cmd)
	} else {
		m.shuttleList, cmd = m.shuttleList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "shift+tab":
		return m.toggleFocus(), nil

	case "enter":
		if m.focusedField == focusCommandInput {
			return m.handleEnter()
		}
		return m, nil
	}

	if m.focusedField == focusCommandInput {
		if msg.String() == "esc" {
			return m.toggleFocus(), nil
		}
		var cmd tea.Cmd
		m.cmdInput, cmd = m.cmdInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "S":
		return m.sendToSelected(shuttleproto.NewCommand(shuttleproto.CmdStop, 0))
	case "R":
		return m.sendToSelected(shuttleproto.NewCommand(shuttleproto.CmdResetError, 0))
	case "d":
		if s := m.getSelectedShuttle(); s != nil {
			m.link.remove(s.address)
			m.log.add(fmt.Sprintf("%s: disconnecting", s.address), false)
		}
		return m, nil
	case "c":
		if s := m.getSelectedShuttle(); s != nil {
			m.link.add(s.address)
			m.log.add(fmt.Sprintf("%s: connecting", s.address), false)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.shuttleList, cmd = m.shuttleList.Update(msg)
	return m, cmd
}

func (m *controlModel) toggleFocus() *controlModel {
	if m.focusedField == focusShuttleList {
		m.focusedField = focusCommandInput
		m.cmdInput.Focus()
	} else {
		m.focusedField = focusShuttleList
		m.cmdInput.Blur()
	}
	return m
}

func (m *controlModel) handleEnter() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.cmdInput.Value())
	if line == "" {
		return m, nil
	}
	msg, err := parseCommandLine(line, time.Now())
	if err != nil {
		m.log.add(err.Error(), true)
		return m, nil
	}
	m.cmdInput.SetValue("")
	return m.sendToSelected(msg)
}

func (m *controlModel) sendToSelected(msg shuttleproto.Message) (tea.Model, tea.Cmd) {
	s := m.getSelectedShuttle()
	if s == nil {
		return m, nil
	}
	if s.state != hub.StateConnected.String() {
		m.log.add(fmt.Sprintf("Cannot send to %s: %s", s.address, s.state), true)
		return m, nil
	}
	m.inFlight++
	return m, m.link.command(s.address, msg)
}

// parseCommandLine turns a command line typed in the TUI into a message:
// a command as accepted by send, "set <param> <value>", or "clock".
func parseCommandLine(line string, now time.Time) (shuttleproto.Message, error) {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "clock":
		return shuttleproto.NewDateTime(now), nil
	case "set":
		if len(fields) != 3 {
			return nil, fmt.Errorf("usage: set <param> <value>")
		}
		param, err := shuttleproto.ParseConfigParam(fields[1])
		if err != nil {
			return nil, err
		}
		value, err := strconv.ParseInt(fields[2], 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", fields[2], err)
		}
		return shuttleproto.NewConfigSet(param, int32(value)), nil
	}
	if len(fields) > 2 {
		return nil, fmt.Errorf("usage: <command> [argument]")
	}
	return parseCommand(fields)
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}
	st := m.styles

	var s strings.Builder

	connected := 0
	for _, sh := range m.shuttles {
		if sh.state == hub.StateConnected.String() {
			connected++
		}
	}

	s.WriteString(st.title.Render("SHUTTLEHUB CONTROL"))
	s.WriteString(" ")
	s.WriteString(st.header.Render(fmt.Sprintf("| %s | %d/%d connected | q=quit Tab=switch S=stop R=reset c/d=connect/disconnect",
		m.connInfo, connected, len(m.shuttles))))
	s.WriteString("\n\n")

	s.WriteString(m.renderControlView())
	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderControlView() string {
	st := m.styles
	var s strings.Builder

	// Layout: left panel (shuttles) | right panel (selected shuttle)
	leftWidth := 30
	rightWidth := max(m.width-leftWidth-6, 30)

	listStyle := st.box.Width(leftWidth)
	if m.focusedField == focusShuttleList {
		listStyle = st.focusedBox.Width(leftWidth)
	}
	listPanel := listStyle.Render(m.shuttleList.View())

	detailPanel := st.box.Width(rightWidth).Render(m.renderShuttlePanel())

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, listPanel, " ", detailPanel))
	s.WriteString("\n")

	// Command line
	inputStyle := st.box
	if m.focusedField == focusCommandInput {
		inputStyle = st.focusedBox
	}
	prompt := st.label.Render("Command: ") + m.cmdInput.View()
	if m.inFlight > 0 {
		prompt += st.warning.Render(fmt.Sprintf("  (%d awaiting ACK)", m.inFlight))
	}
	s.WriteString(inputStyle.Width(max(m.width-4, 20)).Render(prompt))
	s.WriteString("\n")

	s.WriteString(st.box.Width(max(m.width-4, 20)).Render(m.renderStatisticsBar()))
	s.WriteString("\n")

	s.WriteString(st.label.Render("EVENTS"))
	s.WriteString("\n")
	logHeight := max(m.height-m.shuttleList.Height()-16, 4)
	s.WriteString(st.box.Width(max(m.width-4, 20)).Render(m.log.render(st, logHeight)))

	return s.String()
}

func (m controlModel) renderShuttlePanel() string {
	st := m.styles
	sel := m.getSelectedShuttle()
	if sel == nil {
		return st.header.Render("No shuttle selected")
	}

	var s strings.Builder
	fmt.Fprintf(&s, "%s %s\n", st.label.Render("Selected:"), sel.address)

	state := st.value
	switch {
	case sel.state != hub.StateConnected.String():
		state = st.err
	case !sel.lastSeen.IsZero() && time.Since(sel.lastSeen) > staleAfter:
		state = st.warning
	}
	fmt.Fprintf(&s, "%s %s", st.label.Render("State:"), state.Render(sel.state))
	if !sel.lastSeen.IsZero() {
		s.WriteString(st.header.Render(fmt.Sprintf("  last frame %s ago", time.Since(sel.lastSeen).Round(time.Second))))
	}
	s.WriteString("\n")
	if sel.lastErr != nil {
		fmt.Fprintf(&s, "%s %s\n", st.label.Render("Last error:"), st.err.Render(sel.lastErr.Error()))
	}
	if sum, ok := m.link.m.GetConnection(sel.address); ok && sum.State == hub.StateConnected {
		fmt.Fprintf(&s, "%s %s   %s %s\n",
			st.label.Render("Frames:"), st.value.Render(fmt.Sprintf("%d", sum.Frames)),
			st.label.Render("CRC errors:"), st.value.Render(fmt.Sprintf("%d", sum.CRCErrors)),
		)
	}
	s.WriteString("\n")

	if r := m.readings[sel.address]; r != nil {
		s.WriteString(r.render(st))
	} else {
		s.WriteString(st.header.Render("(waiting for telemetry)"))
	}
	return s.String()
}

func (m controlModel) renderStatisticsBar() string {
	st := m.styles
	m.stats.CalculateRates()

	var validPercent, errorPercent float64
	if m.stats.TotalFrames > 0 {
		validPercent = float64(m.stats.ValidFrames) * 100.0 / float64(m.stats.TotalFrames)
		totalErrors := m.stats.DecodeErrors + m.stats.UnknownTypes + m.stats.AnomalousValues
		errorPercent = float64(totalErrors) * 100.0 / float64(m.stats.TotalFrames)
	}

	errs := st.value.Render("0.0%")
	if errorPercent > 0 {
		errs = st.err.Render(fmt.Sprintf("%.1f%%", errorPercent))
	}
	return fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		st.label.Render("Total:"), st.value.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		st.label.Render("Valid:"), st.value.Render(fmt.Sprintf("%.1f%%", validPercent)),
		st.label.Render("Anomalies:"), errs,
		st.label.Render("Rate:"), st.value.Render(fmt.Sprintf("%.1f frames/s", m.stats.FrameRate)),
	)
}

//////////////////////////////////////////////////////////////
// Event Processing
//////////////////////////////////////////////////////////////

func (m *controlModel) processEvent(ev hub.Event) {
	sh := m.findShuttle(ev.Addr())
	if sh == nil {
		return
	}

	switch e := ev.(type) {
	case hub.ConnectedEvent:
		sh.state = hub.StateConnected.String()
		sh.lastErr = nil
		m.log.add(fmt.Sprintf("%s: connected", e.Address), false)
		// Ask for readings right away instead of waiting for the next poll
		m.link.m.Send(e.Address, shuttleproto.NewHeartbeatRequest())

	case hub.DisconnectedEvent:
		sh.state = hub.StateDisconnected.String()
		if e.Err != nil {
			sh.lastErr = e.Err
			m.log.add(fmt.Sprintf("%s: connection lost (%v), reconnecting", e.Address, e.Err), true)
		} else {
			m.log.add(fmt.Sprintf("%s: disconnected", e.Address), false)
		}

	case hub.ConnectFailedEvent:
		sh.state = "unreachable"
		sh.lastErr = e.Err
		m.log.add(fmt.Sprintf("%s: connect failed: %v", e.Address, e.Err), true)

	case hub.MessageEvent:
		m.processMessage(sh, e)
	}

	m.updateShuttleList()
}

func (m *controlModel) processMessage(sh *shuttle, e hub.MessageEvent) {
	sh.lastSeen = e.At

	issues := shuttleproto.ValidateMessage(e.Message)
	m.stats.Update(nil, issues)
	for _, issue := range issues {
		m.log.add(fmt.Sprintf("%s: %s", e.Address, issue.Message), true)
	}

	switch msg := e.Message.(type) {
	case shuttleproto.Telemetry:
		sh.deviceID = int(msg.ShuttleNumber)
	case shuttleproto.Log:
		m.log.add(fmt.Sprintf("%s [%s] %s", e.Address, msg.Level, msg.Text), msg.Level == shuttleproto.LogError)
	}

	r := m.readings[e.Address]
	if r == nil {
		r = &shuttleReadings{}
		m.readings[e.Address] = r
	}
	r.apply(e.Message)
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) findShuttle(address string) *shuttle {
	for i := range m.shuttles {
		if m.shuttles[i].address == address {
			return &m.shuttles[i]
		}
	}
	return nil
}

func (m *controlModel) getSelectedShuttle() *shuttle {
	idx := m.shuttleList.Index()
	if idx < 0 || idx >= len(m.shuttles) {
		return nil
	}
	return &m.shuttles[idx]
}

func (m *controlModel) updateShuttleList() {
	items := make([]list.Item, len(m.shuttles))
	for i, s := range m.shuttles {
		items[i] = s
	}
	m.shuttleList.SetItems(items)
}

func (m *controlModel) updateListSize() {
	// Adjust list size based on terminal size
	listHeight := max(m.height/3, 5)
	m.shuttleList.SetSize(28, listHeight)
}
