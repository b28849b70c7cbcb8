// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/jablobridge/pkg/jablotron"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	stateCommandTimeout = 30 * time.Second
	queryTimeout        = 10 * time.Second
)

// Focus states
const (
	focusStateList = iota
	focusQueryInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// stateItem is a catalog alarm state in the state list
type stateItem struct {
	state *jablotron.AlarmState
}

// Implement list.Item interface
func (i stateItem) Title() string       { return i.state.Name }
func (i stateItem) Description() string { return describeAlarmState(i.state) }
func (i stateItem) FilterValue() string { return i.state.Name }

// describeAlarmState lists the armed and partially armed sections
func describeAlarmState(st *jablotron.AlarmState) string {
	armed := st.SectionsIn(jablotron.SectionArmed)
	partial := st.SectionsIn(jablotron.SectionPartiallyArmed)
	if len(armed) == 0 && len(partial) == 0 {
		return "all sections disarmed"
	}
	var parts []string
	if len(armed) > 0 {
		parts = append(parts, "armed "+joinInts(armed))
	}
	if len(partial) > 0 {
		parts = append(parts, "partial "+joinInts(partial))
	}
	return strings.Join(parts, ", ")
}

func joinInts(ns []int) string {
	s := make([]string, len(ns))
	for i, n := range ns {
		s[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(s, ",")
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	// Connection manager (for reconnection)
	connMgr  *connectionManager
	connInfo string
	engine   *jablotron.Engine

	// State selection
	catalog   *jablotron.Catalog
	stateList list.Model

	// Latest engine data, refreshed every tick
	snapshot jablotron.Snapshot
	stats    jablotron.Statistics

	// Monitoring (reused from tui.go patterns)
	errorLog      []errorLogEntry
	maxLogEntries int

	// Control
	queryInput   textinput.Model
	focusedField int
	pending      string

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type controlBatchMsg struct {
	events []controlEvent
}

type sessionReadyMsg struct {
	engine   *jablotron.Engine
	connInfo string
}

type connectionLostMsg struct {
	err error
}

type commandResultMsg struct {
	description string
	err         error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(connMgr *connectionManager, catalog *jablotron.Catalog) controlModel {
	// Initialize text input for read-only commands
	ti := textinput.New()
	ti.Placeholder = jablotron.CmdState
	ti.CharLimit = 32
	ti.Width = 16

	// Initialize state list from the catalog
	items := make([]list.Item, 0, len(catalog.Names()))
	for _, name := range catalog.Names() {
		st, err := catalog.Lookup(name)
		if err != nil {
			continue
		}
		items = append(items, stateItem{state: st})
	}
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	stateList := list.New(items, delegate, 30, 10)
	stateList.Title = "Alarm States"
	stateList.SetShowStatusBar(false)
	stateList.SetShowHelp(false)
	stateList.SetFilteringEnabled(false)

	return controlModel{
		connMgr:       connMgr,
		connInfo:      "connecting...",
		catalog:       catalog,
		stateList:     stateList,
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		queryInput:    ti,
		focusedField:  focusStateList,
		width:         80,
		height:        24,
	}
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
		return m.handleMouseMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		m.refresh()
		return m, controlTickCmd()

	case controlBatchMsg:
		for _, ev := range msg.events {
			m.addLogEntryAt(ev.timestamp, ev.message, ev.isError)
		}
		m.refresh()

	case sessionReadyMsg:
		m.engine = msg.engine
		m.connInfo = msg.connInfo
		m.connectionLost = false
		m.refresh()
		id := m.snapshot.Identity
		m.addLogEntry(fmt.Sprintf("Connected to %s (SN %s, firmware %s)", id.Model, id.Serial, id.Firmware), false)

	case connectionLostMsg:
		m.engine = nil
		m.pending = ""
		m.connectionLost = true
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Connection failed: %v - reconnecting...", msg.err), true)
		} else {
			m.addLogEntry("Connection lost - reconnecting...", true)
		}

	case commandResultMsg:
		m.pending = ""
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.description, msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("%s done", msg.description), false)
		}
		m.refresh()
	}

	// Update child components
	var cmd tea.Cmd
	if m.focusedField == focusQueryInput {
		m.queryInput, cmd = m.queryInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.focusedField == focusStateList {
		m.stateList, cmd = m.stateList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField != focusQueryInput {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab", "shift+tab":
		return m.toggleFocus(), nil

	case "enter":
		return m.handleEnter()

	case "up", "k", "down", "j":
		if m.focusedField == focusStateList {
			m.stateList, _ = m.stateList.Update(msg)
			return m, nil
		}
	}

	// Pass through to focused component
	if m.focusedField == focusQueryInput {
		var cmd tea.Cmd
		m.queryInput, cmd = m.queryInput.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *controlModel) handleMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Action != tea.MouseActionRelease || msg.Button != tea.MouseButtonLeft {
		return m, nil
	}

	// For now, pass mouse events to the list
	m.stateList, _ = m.stateList.Update(msg)

	return m, nil
}

func (m *controlModel) toggleFocus() *controlModel {
	if m.focusedField == focusStateList {
		m.focusedField = focusQueryInput
		m.queryInput.Focus()
	} else {
		m.focusedField = focusStateList
		m.queryInput.Blur()
	}
	return m
}

func (m *controlModel) handleEnter() (tea.Model, tea.Cmd) {
	// Don't allow commands while connection is lost
	if m.connectionLost || m.engine == nil {
		m.addLogEntry("Cannot send command: not connected", true)
		return m, nil
	}
	if m.pending != "" {
		m.addLogEntry(fmt.Sprintf("Busy: %s", m.pending), true)
		return m, nil
	}

	if m.focusedField == focusQueryInput {
		return m.sendQuery()
	}
	return m.applySelectedState()
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	s.WriteString(titleStyle.Render("JABLOBRIDGE CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | Enter=apply Tab=switch q=quit", connStatus)))
	s.WriteString("\n\n")

	if m.engine == nil && !m.connectionLost {
		s.WriteString(warningStyle.Render("Initializing panel interface..."))
		s.WriteString("\n\n")
		s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))
		return s.String()
	}

	// Layout: left panel (states) | right panel (panel status)
	leftWidth := 30
	rightWidth := m.width - leftWidth - 6

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusStateList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	statePanel := listStyle.Render(m.stateList.View())

	statusPanel := boxStyle.Width(rightWidth).Render(
		m.renderPanelStatus(statsLabelStyle, statsValueStyle, errorStyle, warningStyle, headerStyle))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, statePanel, " ", statusPanel))
	s.WriteString("\n")

	// Command input
	inputStyle := boxStyle
	if m.focusedField == focusQueryInput {
		inputStyle = focusedBoxStyle
	}
	s.WriteString(inputStyle.Width(m.width - 4).Render(
		statsLabelStyle.Render("Command: ") + m.queryInput.View() +
			headerStyle.Render("  read-only, sent without PIN")))
	s.WriteString("\n")

	// Statistics bar
	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n")

	// Event log
	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderPanelStatus(statsLabelStyle, statsValueStyle, errorStyle, warningStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder
	snap := m.snapshot

	stateStyle := statsValueStyle
	if snap.State == jablotron.StateTriggered {
		stateStyle = errorStyle
	}
	s.WriteString(fmt.Sprintf("%s %s", statsLabelStyle.Render("Alarm State:"), stateStyle.Render(strings.ToUpper(snap.State))))
	if m.pending != "" {
		s.WriteString(warningStyle.Render("  ⏳ " + m.pending))
	}
	s.WriteString("\n")
	if snap.Identity.Model != "" {
		s.WriteString(headerStyle.Render(fmt.Sprintf("%s SN %s firmware %s hw %s",
			snap.Identity.Model, snap.Identity.Serial, snap.Identity.Firmware, snap.Identity.Hardware)))
		s.WriteString("\n")
	}
	s.WriteString("\n")

	// Sections
	s.WriteString(statsLabelStyle.Render("Sections:"))
	s.WriteString("\n")
	ids := sortedSections(snap.Sections)
	if len(ids) == 0 {
		s.WriteString(headerStyle.Render("  (none reported)"))
		s.WriteString("\n")
	}
	for _, id := range ids {
		st := snap.Sections[id]
		style := statsValueStyle
		switch st {
		case jablotron.SectionArmed, jablotron.SectionPartiallyArmed:
			style = warningStyle
		case jablotron.SectionService, jablotron.SectionBlocked:
			style = errorStyle
		}
		s.WriteString(fmt.Sprintf("  %2d  %s\n", id, style.Render(st.String())))
	}

	// Flags
	if len(snap.Flags) > 0 {
		s.WriteString("\n")
		for _, f := range snap.Flags {
			style := warningStyle
			if strings.HasSuffix(f.Flag, "_ALARM") {
				style = errorStyle
			}
			s.WriteString(style.Render(fmt.Sprintf("  ⚑ %s section %d", f.Flag, f.Section)))
			s.WriteString("\n")
		}
	}

	// Active sensors
	s.WriteString("\n")
	s.WriteString(statsLabelStyle.Render("Active Sensors:"))
	s.WriteString("\n")
	if len(snap.ActiveSensors) == 0 {
		s.WriteString(headerStyle.Render("  (none)"))
	}
	for i, id := range snap.ActiveSensors {
		if i > 0 {
			s.WriteString("\n")
		}
		name := fmt.Sprintf("Sensor %d", id)
		if m.engine != nil {
			if sensor, ok := m.engine.Sensors().Get(id); ok {
				name = fmt.Sprintf("%s (%s)", sensor.Name(), sensor.Kind())
			}
		}
		s.WriteString(fmt.Sprintf("  %3d  %s", id, name))
	}

	return s.String()
}

func (m controlModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	st := m.stats
	st.CalculateRates()
	var errorPercent float64
	if st.TotalTelegrams > 0 {
		errorPercent = float64(st.Errors()) * 100.0 / float64(st.TotalTelegrams)
	}

	lastSeen := "never"
	if !m.snapshot.LastTelegram.IsZero() {
		lastSeen = fmt.Sprintf("%s ago", time.Since(m.snapshot.LastTelegram).Round(time.Second))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Telegrams:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalTelegrams)),
		statsLabelStyle.Render("Commands:"), statsValueStyle.Render(fmt.Sprintf("%d", st.CommandsSent)),
		statsLabelStyle.Render("Errors:"), func() string {
			if errorPercent > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
			}
			return statsValueStyle.Render("0.0%")
		}(),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f tg/s", st.TelegramRate)),
		statsLabelStyle.Render("Last:"), statsValueStyle.Render(lastSeen),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m controlModel) renderEventLog(statsLabelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	// Calculate available height for log
	logHeight := 8
	if len(m.errorLog) < logHeight {
		logHeight = len(m.errorLog)
	}

	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m *controlModel) applySelectedState() (tea.Model, tea.Cmd) {
	item, ok := m.stateList.SelectedItem().(stateItem)
	if !ok {
		return m, nil
	}
	name := item.state.Name
	if name == m.snapshot.State {
		m.addLogEntry(fmt.Sprintf("Already %s", name), false)
		return m, nil
	}

	engine := m.engine
	m.pending = "setting " + name
	m.addLogEntry(fmt.Sprintf("Setting alarm state %s (%s)", name, describeAlarmState(item.state)), false)

	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), stateCommandTimeout)
		defer cancel()
		return commandResultMsg{
			description: "Set " + name,
			err:         engine.SetAlarmState(ctx, name),
		}
	}
}

func (m *controlModel) sendQuery() (tea.Model, tea.Cmd) {
	text := strings.ToUpper(strings.TrimSpace(m.queryInput.Value()))
	if text == "" {
		text = m.queryInput.Placeholder
	}
	if !isReadOnlyCommand(text) {
		m.addLogEntry(fmt.Sprintf("Refusing %q: only VER, STATE and PRFSTATE are allowed here", text), true)
		return m, nil
	}
	m.queryInput.SetValue("")

	engine := m.engine
	m.pending = "sending " + text
	m.addLogEntry(fmt.Sprintf("Sent %s", text), false)

	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()
		err := engine.Query(ctx, text)
		if errors.Is(err, jablotron.ErrCommandTimeout) {
			err = fmt.Errorf("no response")
		}
		return commandResultMsg{description: text, err: err}
	}
}

// isReadOnlyCommand reports whether text may be sent without the PIN
func isReadOnlyCommand(text string) bool {
	switch text {
	case jablotron.CmdVersion, jablotron.CmdState, jablotron.CmdSensorState:
		return true
	}
	return false
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) refresh() {
	if m.engine == nil {
		return
	}
	m.snapshot = m.engine.Snapshot()
	m.stats = m.engine.Stats()
}

func (m *controlModel) addLogEntry(message string, isError bool) {
	m.addLogEntryAt(time.Now(), message, isError)
}

func (m *controlModel) addLogEntryAt(ts time.Time, message string, isError bool) {
	entry := errorLogEntry{
		timestamp: ts,
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m *controlModel) updateListSize() {
	// Adjust list size based on terminal size
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.stateList.SetSize(28, listHeight)
}
