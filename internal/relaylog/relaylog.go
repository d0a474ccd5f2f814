// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package relaylog selects the process-wide logging backend, mirroring
// original_source/src/logger.rs's raw-vs-json split, built on
// go-ethereum's structured logger with optional file rotation.
package relaylog

import (
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the logging backend.
type Config struct {
	// Backend selects the handler: "raw" (human-readable terminal output)
	// or "json" (structured, one object per line).
	Backend string
	// FilePath, if set, also writes rotated logs to disk via lumberjack.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup installs the process-wide logger per cfg. It must be called once,
// at startup, before any other package logs.
func Setup(cfg Config) error {
	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		})
	}

	switch cfg.Backend {
	case "", "raw":
		log.SetDefault(log.NewLogger(log.NewTerminalHandler(w, false)))
	case "json":
		log.SetDefault(log.NewLogger(log.JSONHandler(w)))
	default:
		return fmt.Errorf("relaylog: unknown backend %q (want raw|json)", cfg.Backend)
	}
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
