// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/Thermoquad/jablobridge/pkg/journal"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyKind  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print recent events from the journal",
	Long: `Print the most recent entries of the SQLite event journal written by the
run command, newest first.

Kinds:
  state  - overall alarm state changes
  flag   - section ALARM, WARNING, ENTRY and EXIT flags
  sensor - sensor activations

No connection to the panel is needed.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Number of events to print")
	historyCmd.Flags().StringVar(&historyKind, "kind", "", "Only show events of this kind (state, flag, sensor)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Journal.Path == "" {
		return errors.New("no journal configured: set [journal] path in the config file")
	}
	switch historyKind {
	case "", journal.KindState, journal.KindFlag, journal.KindSensor:
	default:
		return fmt.Errorf("unknown event kind %q", historyKind)
	}

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer j.Close()

	events, err := j.Recent(context.Background(), historyLimit, historyKind)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No events recorded")
		return nil
	}
	for _, ev := range events {
		fmt.Println(ev.String())
	}
	return nil
}
