// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Thermoquad/jablobridge/pkg/config"
	"github.com/Thermoquad/jablobridge/pkg/jablotron"
	"github.com/rs/zerolog/log"
)

// session is an open connection with an engine bound to it
type session struct {
	cfg      *config.Config
	conn     Connection
	connInfo string
	engine   *jablotron.Engine
}

// openSession opens the connection and builds an engine from the config
// file. Without a config file the engine runs with an empty catalog and no
// sensors, which is enough for read-only commands. needPIN resolves the PIN
// up front for commands that arm or disarm.
func openSession(needPIN bool) (*session, error) {
	cfg, pin, err := sessionConfig(needPIN)
	if err != nil {
		return nil, err
	}
	return newSession(cfg, pin)
}

// sessionConfig loads the optional config file and resolves the PIN
func sessionConfig(needPIN bool) (*config.Config, string, error) {
	cfg, err := optionalConfig()
	if err != nil {
		return nil, "", err
	}
	if cfg == nil {
		if needPIN {
			return nil, "", fmt.Errorf("a config file with alarm states is required (--config)")
		}
		return nil, "", nil
	}
	pin := ""
	if needPIN {
		if pin, err = cfg.ResolvePIN(promptPIN); err != nil {
			return nil, "", err
		}
	}
	return cfg, pin, nil
}

// newSession opens a fresh connection and engine. cfg may be nil.
func newSession(cfg *config.Config, pin string) (*session, error) {
	var (
		catalog *jablotron.Catalog
		sensors *jablotron.Registry
		opts    jablotron.Options
		err     error
	)
	if cfg != nil {
		if catalog, err = cfg.Catalog(); err != nil {
			return nil, err
		}
		if sensors, err = cfg.Registry(); err != nil {
			return nil, err
		}
		opts = cfg.EngineOptions(pin)
	} else {
		catalog, _ = jablotron.NewCatalog()
		sensors, _ = jablotron.NewRegistry()
	}
	opts.Logger = log.Logger

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:      cfg,
		conn:     conn,
		connInfo: connInfo,
		engine:   jablotron.NewEngine(conn, sensors, catalog, opts),
	}, nil
}

// start runs the engine in the background and waits for initialisation.
// The returned channel receives Run's result.
func (s *session) start(ctx context.Context, timeout time.Duration) (<-chan error, error) {
	done := make(chan error, 1)
	go func() { done <- s.engine.Run(ctx) }()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.engine.WaitReady(waitCtx); err != nil {
		select {
		case runErr := <-done:
			return nil, fmt.Errorf("panel did not initialize: %w", runErr)
		default:
		}
		return nil, fmt.Errorf("panel did not initialize: %w", err)
	}
	return done, nil
}

func (s *session) Close() error {
	return s.conn.Close()
}
