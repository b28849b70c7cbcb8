// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/jablobridge/pkg/jablotron"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// TUI model
type model struct {
	connInfo      string
	statsInterval int
	showAll       bool
	analyzer      *telegramAnalyzer
	errorLog      []errorLogEntry
	maxLogEntries int
	overflows     uint64
	connLost      error
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type serialDataMsg struct {
	data []byte
}
type connLostMsg struct {
	err error
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

	parts := []string{}
	if years > 0 {
		if years == 1 {
			parts = append(parts, "1 year")
		} else {
			parts = append(parts, fmt.Sprintf("%d years", years))
		}
	}
	if months > 0 {
		if months == 1 {
			parts = append(parts, "1 month")
		} else {
			parts = append(parts, fmt.Sprintf("%d months", months))
		}
	}
	if days > 0 {
		if days == 1 {
			parts = append(parts, "1 day")
		} else {
			parts = append(parts, fmt.Sprintf("%d days", days))
		}
	}
	if hours > 0 {
		if hours == 1 {
			parts = append(parts, "1 hour")
		} else {
			parts = append(parts, fmt.Sprintf("%d hours", hours))
		}
	}
	if minutes > 0 {
		if minutes == 1 {
			parts = append(parts, "1 minute")
		} else {
			parts = append(parts, fmt.Sprintf("%d minutes", minutes))
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

func initialModel(connInfo string, statsInterval int, showAll bool, analyzer *telegramAnalyzer) model {
	return model{
		connInfo:      connInfo,
		statsInterval: statsInterval,
		showAll:       showAll,
		analyzer:      analyzer,
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
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

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		// Update statistics rates
		m.analyzer.stats.CalculateRates()
		return m, tickCmd()

	case connLostMsg:
		m.connLost = msg.err
		m.addLogEntry(fmt.Sprintf("CONNECTION LOST: %v", msg.err), true)

	case serialDataMsg:
		lines, synced := m.analyzer.Feed(msg.data)
		if synced {
			if m.analyzer.skipped > 0 {
				m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d lines", m.analyzer.skipped), false)
			} else {
				m.addLogEntry("Synchronized", false)
			}
		}
		if m.analyzer.stats.Overflows != m.overflows {
			m.overflows = m.analyzer.stats.Overflows
			m.addLogEntry("OVERFLOW: line exceeded maximum length", true)
		}

		for _, l := range lines {
			if len(l.anomalies) > 0 {
				for _, an := range l.anomalies {
					m.addLogEntry(an.Message, true)
				}
			} else if l.route == jablotron.RouteFlag || m.showAll {
				m.addLogEntry(fmt.Sprintf("%s: %s", strings.ToUpper(l.route), jablotron.DescribeTelegram(l.line)), false)
			}
		}
	}

	return m, nil
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

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

	stats := m.analyzer.stats
	status := m.analyzer.status

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("JABLOBRIDGE - ERROR DETECTION"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | Press 'q' to quit",
		m.connInfo, func() string {
			if m.showAll {
				return "All telegrams"
			}
			return "Errors only"
		}())))
	s.WriteString("\n\n")

	// Sync status
	switch {
	case m.connLost != nil:
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ Connection lost: %v", m.connLost)))
	case !m.analyzer.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.analyzer.skipped > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d lines)", m.analyzer.skipped)))
		}
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("   monitoring for %s",
		formatUptime(uint64(time.Since(stats.StartTime).Milliseconds())))))
	s.WriteString("\n\n")

	// Statistics
	stats.CalculateRates()
	var handledPercent, errorPercent float64
	if stats.TotalTelegrams > 0 {
		handledPercent = float64(stats.Handled) * 100.0 / float64(stats.TotalTelegrams)
		errorPercent = float64(stats.Errors()) * 100.0 / float64(stats.TotalTelegrams)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", stats.TotalTelegrams)),
		statsLabelStyle.Render("Handled:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", stats.Handled, handledPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", stats.Errors(), errorPercent)),
	))

	if stats.Unrecognized > 0 || stats.Overflows > 0 || stats.InvalidBitmasks > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Unrecognized:"), errorStyle.Render(fmt.Sprintf("%d", stats.Unrecognized)),
			statsLabelStyle.Render("Overflows:"), errorStyle.Render(fmt.Sprintf("%d", stats.Overflows)),
			statsLabelStyle.Render("Bad Bitmasks:"), warningStyle.Render(fmt.Sprintf("%d", stats.InvalidBitmasks)),
		))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Telegram Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f tg/s", stats.TelegramRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if stats.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Panel section (only shown once a telegram was decoded)
	if !status.lastTelegram.IsZero() {
		s.WriteString(statsLabelStyle.Render("Observed Panel:"))
		s.WriteString("\n")

		panelContent := strings.Builder{}
		if status.identity.Model != "" {
			panelContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
				statsLabelStyle.Render("Interface:"), statsValueStyle.Render(status.identity.Model),
				statsLabelStyle.Render("Firmware:"), status.identity.Firmware,
			))
		}
		for _, n := range status.Sections() {
			panelContent.WriteString(fmt.Sprintf("%s %s\n",
				statsLabelStyle.Render(fmt.Sprintf("Section %d:", n)),
				statsValueStyle.Render(status.sections[n]),
			))
		}
		for _, f := range status.Flags() {
			panelContent.WriteString(errorStyle.Render("⚑ "+f) + "\n")
		}
		if status.sensors != "" {
			panelContent.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Sensors:"), status.sensors))
		}
		panelContent.WriteString(headerStyle.Render("Last telegram " + status.lastTelegram.Format("15:04:05.000")))

		s.WriteString(boxStyle.Render(panelContent.String()))
		s.WriteString("\n\n")
	}

	// Error log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 15 // Reserve space for header and stats
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
