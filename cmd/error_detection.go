// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/Thermoquad/jablobridge/pkg/jablotron"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed telegrams and bus errors",
	Long: `Passively track telegram errors, noise and anomalous values with statistics.

Nothing is written to the bus. Each framed line is checked for:
  - Lines matching no known telegram (noise, wrong baud rate)
  - Lines discarded for exceeding the maximum length
  - PRFSTATE bitmasks that are not valid hex
  - Section numbers outside 1-15 and incomplete VER replies
  - Statistics and trends (telegram rate, error rate)

By default, only errors are displayed. Use --show-all to display valid telegrams too.

Lines before the first recognized telegram are counted but not reported, as
the reader usually starts in the middle of a line.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all telegrams (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

// panelStatus is what the analyzer learned from passively observed telegrams
type panelStatus struct {
	identity     jablotron.Identity
	sections     map[int]string
	flags        map[string]bool
	sensors      string
	lastTelegram time.Time
}

// analyzedLine is one framed line with its classification
type analyzedLine struct {
	timestamp time.Time
	line      string
	route     string
	result    jablotron.DispatchResult
	anomalies []jablotron.ValidationError
}

// telegramAnalyzer frames and classifies bytes without an engine
type telegramAnalyzer struct {
	framer       *jablotron.LineFramer
	dispatcher   *jablotron.Dispatcher
	stats        *jablotron.Statistics
	status       panelStatus
	synchronized bool
	skipped      int
}

func newTelegramAnalyzer(maxLineLength int) *telegramAnalyzer {
	a := &telegramAnalyzer{
		framer: jablotron.NewLineFramer(maxLineLength),
		stats:  jablotron.NewStatistics(),
		status: panelStatus{
			sections: map[int]string{},
			flags:    map[string]bool{},
		},
	}
	a.dispatcher = jablotron.NewDispatcher([]jablotron.Route{
		{Name: jablotron.RouteAck, Pattern: jablotron.PatternUnimportant},
		{Name: jablotron.RouteVersion, Pattern: jablotron.PatternVersion, Handler: a.onVersion},
		{Name: jablotron.RouteState, Pattern: jablotron.PatternState, Handler: a.onState},
		{Name: jablotron.RouteFlag, Pattern: jablotron.PatternFlag, Handler: a.onFlag},
		{Name: jablotron.RouteSensors, Pattern: jablotron.PatternSensorState, Handler: a.onSensors},
	}, nil, zerolog.Nop())
	return a
}

func (a *telegramAnalyzer) onVersion(args ...string) {
	a.status.identity = jablotron.Identity{Model: args[0], Serial: args[1], Firmware: args[2], Hardware: args[3]}
}

func (a *telegramAnalyzer) onState(args ...string) {
	if n, err := strconv.Atoi(args[0]); err == nil {
		a.status.sections[n] = args[1]
	}
}

func (a *telegramAnalyzer) onFlag(args ...string) {
	key := args[0] + " " + args[1]
	if args[2] == "ON" {
		a.status.flags[key] = true
	} else {
		delete(a.status.flags, key)
	}
}

func (a *telegramAnalyzer) onSensors(args ...string) {
	if _, err := hex.DecodeString(args[0]); err != nil {
		return
	}
	a.status.sensors = jablotron.DescribeTelegram(jablotron.CmdSensorState + " " + args[0])
}

// Feed frames data and returns the lines seen after synchronization.
// justSynced reports the first recognized telegram.
func (a *telegramAnalyzer) Feed(data []byte) (lines []analyzedLine, justSynced bool) {
	now := time.Now()
	for _, line := range a.framer.Feed(data) {
		if line == "" {
			a.stats.Update(jablotron.DispatchIgnored)
			continue
		}
		if !a.synchronized {
			if jablotron.ClassifyTelegram(line) == "" {
				a.skipped++
				continue
			}
			a.synchronized = true
			justSynced = true
		}

		route, result := a.dispatcher.Dispatch(line)
		a.stats.Update(result)
		a.status.lastTelegram = now

		anomalies := jablotron.ValidateTelegram(line)
		for _, an := range anomalies {
			if an.Type == jablotron.AnomalyInvalidBitmask {
				a.stats.InvalidBitmasks++
			}
		}
		lines = append(lines, analyzedLine{
			timestamp: now,
			line:      line,
			route:     route,
			result:    result,
			anomalies: anomalies,
		})
	}
	a.stats.Overflows = a.framer.Overflows()
	return lines, justSynced
}

// Sections returns the observed section numbers in order
func (s panelStatus) Sections() []int {
	ids := make([]int, 0, len(s.sections))
	for n := range s.sections {
		ids = append(ids, n)
	}
	sort.Ints(ids)
	return ids
}

// Flags returns the active flags in order
func (s panelStatus) Flags() []string {
	out := make([]string, 0, len(s.flags))
	for f := range s.flags {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	maxLen := 0
	if cfg, _ := optionalConfig(); cfg != nil {
		maxLen = cfg.Engine.MaxLineLength
	}

	if useTUI {
		return runTUIMode(conn, connInfo, maxLen)
	}
	return runTextMode(conn, connInfo, maxLen)
}

// printAnomalies prints validation errors for a line in highlighted format
func printAnomalies(l analyzedLine) {
	timestamp := l.timestamp.Format("15:04:05.000")
	for _, an := range l.anomalies {
		color := "1;33"
		if an.Type == jablotron.AnomalyUnrecognized {
			color = "1;31"
		}
		fmt.Printf("[%s] \033[%smVALIDATION ERROR:\033[0m %s\n", timestamp, color, an.Type)
		fmt.Printf("  %s\n", an.Message)
	}
	fmt.Printf("  Line: %q\n", l.line)
	fmt.Printf("  >>> TELEGRAM REJECTED <<<\n\n")
}

// readChunks copies reads from r to a channel until r fails
func readChunks(r io.Reader, out chan<- []byte, errc chan<- error) {
	buf := make([]byte, 128)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			out <- data
		}
		if err != nil {
			errc <- err
			return
		}
	}
}

// runTUIMode runs error detection in TUI mode
func runTUIMode(conn Connection, connInfo string, maxLen int) error {
	muteConsoleLogging()
	m := initialModel(connInfo, statsInterval, showAll, newTelegramAnalyzer(maxLen))
	p := tea.NewProgram(m)

	// Reader goroutine; the analyzer runs on the TUI goroutine
	go func() {
		data := make(chan []byte, 10)
		errc := make(chan error, 1)
		go readChunks(conn, data, errc)
		for {
			select {
			case d := <-data:
				p.Send(serialDataMsg{data: d})
			case err := <-errc:
				p.Send(connLostMsg{err: err})
				return
			}
		}
	}()

	// Run TUI
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}

	return nil
}

// runTextMode runs error detection in text mode
func runTextMode(conn Connection, connInfo string, maxLen int) error {
	fmt.Printf("Jablobridge - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All telegrams\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	analyzer := newTelegramAnalyzer(maxLen)
	overflows := uint64(0)

	// Statistics ticker
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	// Channel for non-blocking reads
	serialBuf := make(chan []byte, 10)
	readErr := make(chan error, 1)
	go readChunks(conn, serialBuf, readErr)

	for {
		select {
		case data := <-serialBuf:
			lines, synced := analyzer.Feed(data)
			if synced {
				if analyzer.skipped > 0 {
					fmt.Printf("[SYNC] Synchronized after skipping %d lines\n\n", analyzer.skipped)
				} else {
					fmt.Printf("[SYNC] Synchronized\n\n")
				}
			}
			if analyzer.stats.Overflows != overflows {
				overflows = analyzer.stats.Overflows
				fmt.Printf("[%s] \033[1;31mOVERFLOW:\033[0m line exceeded maximum length (%d total)\n\n",
					time.Now().Format("15:04:05.000"), overflows)
			}

			for _, l := range lines {
				if len(l.anomalies) > 0 {
					printAnomalies(l)
				} else if l.route == jablotron.RouteFlag && !showAll {
					// Section flags are always shown
					fmt.Print(jablotron.FormatTelegram(l.timestamp, l.line))
				} else if showAll {
					fmt.Print(jablotron.FormatTelegram(l.timestamp, l.line))
				}
			}

		case err := <-readErr:
			fmt.Println()
			fmt.Print(analyzer.stats.String())
			return fmt.Errorf("connection lost: %w", err)

		case <-statsTicker.C:
			// Print statistics
			fmt.Println()
			fmt.Print(analyzer.stats.String())
			fmt.Println()
		}
	}
}
