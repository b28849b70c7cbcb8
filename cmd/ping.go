// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/jablobridge/pkg/jablotron"
	"github.com/spf13/cobra"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure JA-121T round trip time with VER",
	Long: `Send VER to the JA-121T and wait for the answer.

The interface is initialized first (VER, PRFSTATE, STATE), then VER is sent
--count times. Each reply is timed from write to the first telegram that
ends the command.

This is useful for verifying:
  - RS-485 wiring and baud rate
  - WebSocket bridge authentication
  - Bidirectional telegram flow

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	sess, err := openSession(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer sess.Close()

	fmt.Printf("Jablobridge - Ping Test\n")
	fmt.Printf("Connection: %s\n", sess.connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	perPing := time.Duration(pingTimeout) * time.Second
	if _, err := sess.start(ctx, 3*perPing); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	id := sess.engine.Identity()
	fmt.Printf("Interface: %s (SN %s, firmware %s)\n\n", id.Model, id.Serial, id.Firmware)

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		pingCtx, pingCancel := context.WithTimeout(ctx, perPing)
		startTime := time.Now()
		err := sess.engine.Query(pingCtx, jablotron.CmdVersion)
		rtt := time.Since(startTime)
		pingCancel()

		switch {
		case err == nil:
			fmt.Printf("reply from %s, rtt=%v\n", sess.engine.Identity().Model, rtt.Round(time.Millisecond))
			successCount++
		case errors.Is(err, jablotron.ErrCommandTimeout), errors.Is(err, context.DeadlineExceeded):
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		default:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
