// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Thermoquad/jablobridge/pkg/jablotron"
	"github.com/spf13/cobra"
)

var (
	identifyTimeout int
	identifyJSON    bool
)

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Identify the JA-121T and print the panel state",
	Long: `Initialize the JA-121T and print what the panel reports.

The output lists the interface identity (model, serial number, firmware and
hardware version), every section that reported a state, active section
flags, active sensors and the resolved alarm state.

Examples:
  jablobridge identify --port /dev/ttyUSB0
  jablobridge identify --url ws://bridge.local/rs485 --json

Exit codes:
  0 - Panel identified
  1 - Panel did not answer before the timeout
  2 - Connection error`,
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)
	identifyCmd.Flags().IntVar(&identifyTimeout, "timeout", 10, "Timeout in seconds for initialization")
	identifyCmd.Flags().BoolVar(&identifyJSON, "json", false, "Print JSON instead of text")
}

// identifyReport is the --json output
type identifyReport struct {
	Identity      jablotron.Identity     `json:"identity"`
	State         string                 `json:"state"`
	Sections      map[int]string         `json:"sections"`
	Flags         []jablotron.ActiveFlag `json:"flags"`
	ActiveSensors []int                  `json:"active_sensors"`
}

func runIdentify(cmd *cobra.Command, args []string) error {
	sess, err := openSession(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !identifyJSON {
		fmt.Printf("Jablobridge - Panel Identification\n")
		fmt.Printf("Connection: %s\n", sess.connInfo)
		fmt.Printf("Timeout: %d seconds\n\n", identifyTimeout)
	}

	if _, err := sess.start(ctx, time.Duration(identifyTimeout)*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "FAILED: %v\n", err)
		os.Exit(1)
	}

	// Let the settle delay resolve the state from the initial STATE burst
	settle := jablotron.DefaultSettleDelay
	if sess.cfg != nil {
		if d := sess.cfg.EngineOptions("").SettleDelay; d > 0 {
			settle = d
		}
	}
	time.Sleep(settle + 50*time.Millisecond)
	snap := sess.engine.Snapshot()

	if identifyJSON {
		report := identifyReport{
			Identity:      snap.Identity,
			State:         snap.State,
			Sections:      map[int]string{},
			Flags:         snap.Flags,
			ActiveSensors: snap.ActiveSensors,
		}
		for s, st := range snap.Sections {
			report.Sections[s] = st.String()
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Print(formatSnapshot(snap, sess.engine.Sensors()))
	return nil
}

// formatSnapshot renders a snapshot as indented text
func formatSnapshot(snap jablotron.Snapshot, sensors *jablotron.Registry) string {
	out := "Interface:\n"
	out += fmt.Sprintf("  Model:    %s\n", snap.Identity.Model)
	out += fmt.Sprintf("  Serial:   %s\n", snap.Identity.Serial)
	out += fmt.Sprintf("  Firmware: %s\n", snap.Identity.Firmware)
	out += fmt.Sprintf("  Hardware: %s\n", snap.Identity.Hardware)

	out += "\nSections:\n"
	ids := sortedSections(snap.Sections)
	if len(ids) == 0 {
		out += "  (none reported)\n"
	}
	for _, s := range ids {
		out += fmt.Sprintf("  %2d  %s\n", s, snap.Sections[s])
	}

	out += "\nFlags:\n"
	if len(snap.Flags) == 0 {
		out += "  (none)\n"
	}
	for _, f := range snap.Flags {
		out += fmt.Sprintf("  %2d  %s\n", f.Section, f.Flag)
	}

	out += "\nActive sensors:\n"
	if len(snap.ActiveSensors) == 0 {
		out += "  (none)\n"
	}
	for _, id := range snap.ActiveSensors {
		if s, ok := sensors.Get(id); ok {
			out += fmt.Sprintf("  %3d  %s (%s)\n", id, s.Name(), s.Kind())
		} else {
			out += fmt.Sprintf("  %3d\n", id)
		}
	}

	out += fmt.Sprintf("\nAlarm state: %s\n", snap.State)
	return out
}

func sortedSections(m map[int]jablotron.SectionState) []int {
	ids := make([]int, 0, len(m))
	for s := range m {
		ids = append(ids, s)
	}
	sort.Ints(ids)
	return ids
}
