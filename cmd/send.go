// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/jablobridge/pkg/jablotron"
	"github.com/spf13/cobra"
)

var (
	sendTimeout int
	sendListen  time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <command>",
	Short: "Send a read-only command and print the answer",
	Long: `Send a read-only command such as VER, STATE or PRFSTATE to the JA-121T
and print every telegram received for --listen afterwards.

Commands are sent without the PIN; use set_state to arm or disarm.

Examples:
  jablobridge send STATE
  jablobridge send PRFSTATE --listen 2s`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

var setStateCmd = &cobra.Command{
	Use:   "set_state <name>",
	Short: "Move the panel to a configured alarm state",
	Long: `Arm and disarm sections so the panel matches a named alarm state from the
config file. Sections outside the state are disarmed first, then the armed
and partially armed sections are set.

The PIN is taken from JABLOTRON_PIN, the config file, or prompted.

Examples:
  jablobridge set_state night
  jablobridge set_state disarmed`,
	Args: cobra.ExactArgs(1),
	RunE: runSetState,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(setStateCmd)
	for _, c := range []*cobra.Command{sendCmd, setStateCmd} {
		c.Flags().IntVar(&sendTimeout, "timeout", 10, "Timeout in seconds for initialization")
		c.Flags().DurationVar(&sendListen, "listen", time.Second, "How long to print telegrams after the command")
	}
}

// telegramPrinter prints telegrams as they are dispatched
type telegramPrinter struct{}

func (telegramPrinter) TelegramReceived(line, route string, result jablotron.DispatchResult) {
	fmt.Print(jablotron.FormatTelegram(time.Now(), line))
}

func runSend(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(args[0])
	if text == "" {
		return errors.New("empty command")
	}

	sess, err := openSession(false)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("Jablobridge - Send\n")
	fmt.Printf("Connection: %s\n\n", sess.connInfo)

	if _, err := sess.start(ctx, time.Duration(sendTimeout)*time.Second); err != nil {
		return err
	}

	detach := sess.engine.Attach(telegramPrinter{})
	defer detach()

	if err := sess.engine.Query(ctx, text); err != nil {
		return err
	}
	time.Sleep(sendListen)
	return nil
}

func runSetState(cmd *cobra.Command, args []string) error {
	sess, err := openSession(true)
	if err != nil {
		return err
	}
	defer sess.Close()

	name := args[0]
	if _, err := sess.engine.Catalog().Lookup(name); err != nil {
		fmt.Fprintf(os.Stderr, "Known states: %s\n", strings.Join(sess.engine.Catalog().Names(), ", "))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("Jablobridge - Set State\n")
	fmt.Printf("Connection: %s\n\n", sess.connInfo)

	if _, err := sess.start(ctx, time.Duration(sendTimeout)*time.Second); err != nil {
		return err
	}

	detach := sess.engine.Attach(telegramPrinter{})
	defer detach()

	if err := sess.engine.SetAlarmState(ctx, name); err != nil {
		return fmt.Errorf("set state %s: %w", name, err)
	}
	time.Sleep(sendListen)

	fmt.Printf("\nAlarm state: %s\n", sess.engine.State())
	if sess.engine.State() != name {
		return fmt.Errorf("panel reports %s, expected %s", sess.engine.State(), name)
	}
	return nil
}
