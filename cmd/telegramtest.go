// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/jablobridge/pkg/jablotron"
	"github.com/spf13/cobra"
)

var (
	telegramTestTimeout int
	telegramTestQuery   bool
)

var telegramTestCmd = &cobra.Command{
	Use:   "telegram_test",
	Short: "Test connection by waiting for a recognized telegram",
	Long: `Wait for a recognized JA-121T telegram on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any line
matching the telegram grammar (OK, version, STATE, section flag or PRFSTATE).
Noise and unrecognized lines are skipped. With --query a VER command is sent
first so an idle panel still answers.

Exit codes:
  0 - Telegram received before timeout
  1 - Timeout reached without receiving a recognized telegram
  2 - Connection error

Useful for testing RS-485 wiring and WebSocket bridges.`,
	RunE: runTelegramTest,
}

func init() {
	rootCmd.AddCommand(telegramTestCmd)
	telegramTestCmd.Flags().IntVar(&telegramTestTimeout, "timeout", 10, "Timeout in seconds to wait for a telegram")
	telegramTestCmd.Flags().BoolVar(&telegramTestQuery, "query", false, "Send VER before waiting")
}

func runTelegramTest(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Jablobridge - Telegram Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", telegramTestTimeout)
	fmt.Printf("Waiting for recognized telegram...\n\n")

	if telegramTestQuery {
		if _, err := conn.Write([]byte(jablotron.CmdVersion + "\n")); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}
	}

	framer := jablotron.NewLineFramer(0)
	buf := make([]byte, 128)

	type found struct {
		line    string
		route   string
		skipped int
	}
	lineChan := make(chan found, 1)
	errChan := make(chan error, 1)

	// Reader goroutine
	go func() {
		skipped := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for _, line := range framer.Feed(buf[:n]) {
				route := jablotron.ClassifyTelegram(line)
				if route == "" {
					if line != "" {
						skipped++
					}
					continue
				}
				lineChan <- found{line: line, route: route, skipped: skipped}
				return
			}
		}
	}()

	// Wait for telegram or timeout
	select {
	case f := <-lineChan:
		if f.skipped > 0 {
			fmt.Printf("(skipped %d unrecognized lines)\n", f.skipped)
		}
		fmt.Printf("SUCCESS: Received recognized telegram\n")
		fmt.Printf("  Kind: %s\n", f.route)
		fmt.Printf("  Line: %q\n", f.line)
		fmt.Printf("  Decoded: %s\n", jablotron.DescribeTelegram(f.line))
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(telegramTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No recognized telegram within %d seconds\n", telegramTestTimeout)
		os.Exit(1)
	}

	return nil
}
