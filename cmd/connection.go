// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/jablobridge/pkg/config"
	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// Connection is the byte stream to the JA-121T, over serial or a WebSocket bridge
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// ErrConnectionClosed is returned once the RS-485 bridge has gone away
var ErrConnectionClosed = errors.New("bridge connection closed")

// bridgeLink carries the panel's ASCII stream inside WebSocket messages.
// Message boundaries mean nothing to the line framer, so reads stream
// through each message and move on to the next one.
type bridgeLink struct {
	conn    *websocket.Conn
	current io.Reader
	err     error

	writeMu sync.Mutex
}

func (b *bridgeLink) Read(p []byte) (int, error) {
	for b.err == nil {
		if b.current == nil {
			kind, r, err := b.conn.NextReader()
			if err != nil {
				b.err = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
				break
			}
			if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
				continue
			}
			b.current = r
		}

		n, err := b.current.Read(p)
		if errors.Is(err, io.EOF) {
			b.current = nil
			err = nil
		}
		if n > 0 || err != nil {
			return n, err
		}
	}
	return 0, b.err
}

// Write sends one command per text message.
func (b *bridgeLink) Write(p []byte) (int, error) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (b *bridgeLink) Close() error {
	return b.conn.Close()
}

// openSerial opens the RS-485 adapter at 8N1. serial.Port already
// satisfies Connection.
func openSerial(port string, baud int) (Connection, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", port, err)
	}
	return p, nil
}

// dialBridge connects to a network RS-485 bridge
func dialBridge(rawURL, username, password string, insecure bool) (Connection, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("bridge URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("bridge URL must use ws:// or wss://, got %q", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: insecure}
	}

	header := http.Header{}
	if username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		header.Set("Authorization", "Basic "+token)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge %s refused (HTTP %d): %w", u.Host, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("bridge %s: %w", u.Host, err)
	}
	return &bridgeLink{conn: conn}, nil
}

// bridgePassword returns the Basic auth password for the bridge
func bridgePassword() (string, error) {
	if pw := os.Getenv("JABLOTRON_PASSWORD"); pw != "" {
		return pw, nil
	}
	return promptSecret("Bridge password: ")
}

// promptPIN asks for the panel PIN when neither the config nor the
// environment provides one
func promptPIN() (string, error) {
	return promptSecret("Panel PIN: ")
}

// promptSecret reads a line from the terminal without echo. Piped input is
// read as a plain line.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)

	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(prompt, ": "), err)
		}
		return string(secret), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(prompt, ": "), err)
	}
	return strings.TrimSpace(line), nil
}

// OpenConnection opens the link selected by --url or --port. Without
// either, the [serial] section of the config file is used.
func OpenConnection() (Connection, string, error) {
	if wsURL != "" {
		var password string
		if wsUsername != "" {
			var err error
			if password, err = bridgePassword(); err != nil {
				return nil, "", err
			}
		}
		conn, err := dialBridge(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, "WebSocket: " + wsURL, nil
	}

	cfg, err := optionalConfig()
	if err != nil {
		return nil, "", err
	}
	port, baud := portName, baudRate
	if cfg != nil {
		if port == "" {
			port = cfg.Serial.Port
		}
		if baud == 0 {
			baud = cfg.Serial.Baud
		}
	}
	if baud == 0 {
		baud = config.DefaultBaud
	}
	if port == "" {
		return nil, "", errors.New("no connection: pass --port or --url, or set serial.port in the config file")
	}

	conn, err := openSerial(port, baud)
	if err != nil {
		return nil, "", err
	}
	return conn, fmt.Sprintf("Serial: %s @ %d baud", port, baud), nil
}
