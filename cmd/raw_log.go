// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/jablobridge/pkg/jablotron"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rawLogShowOverflow bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw telegram log in human-readable format",
	Long: `Continuously frame and display JA-121T telegrams as they arrive.

Nothing is written to the bus. Each line is shown with a timestamp, the
telegram kind and its decoded meaning. Lines that match no known telegram
are shown quoted as UNRECOGNIZED.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogShowOverflow, "show-overflow", false, "Report lines discarded for exceeding the maximum length")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Jablobridge - Raw Telegram Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	maxLen := 0
	if cfg, _ := optionalConfig(); cfg != nil {
		maxLen = cfg.Engine.MaxLineLength
	}
	framer := jablotron.NewLineFramer(maxLen)
	buf := make([]byte, 128)
	var overflows uint64

	for {
		n, err := conn.Read(buf)
		if err != nil {
			// A closed bridge or unplugged adapter does not recover
			if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) {
				log.Info().Msg("Connection closed")
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}

		now := time.Now()
		for _, line := range framer.Feed(buf[:n]) {
			if line == "" {
				continue
			}
			fmt.Print(jablotron.FormatTelegram(now, line))
		}
		if rawLogShowOverflow && framer.Overflows() != overflows {
			overflows = framer.Overflows()
			fmt.Printf("[%s] OVERFLOW line discarded (%d total)\n", now.Format("15:04:05.000"), overflows)
		}
	}
}
