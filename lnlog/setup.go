// Package lnlog wires up the subsystem-scoped btclog backend shared by the
// vendord and issuerd daemons: a rotated log file via jrick/logrotate plus
// a stdout mirror, in the same shape as the teacher's top-level
// logging setup (a single backend, one Logger per subsystem, configurable
// level per subsystem).
package lnlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

const logFilename = "nanomoni.log"

var backendLog = btclog.NewBackend(io.Discard)

// Setup creates logDir if needed, opens a rotating log file inside it, and
// returns a Logger for subsystem at the given level. Call once per daemon
// process at startup; call the returned close func on shutdown to flush the
// rotator.
func Setup(logDir, subsystem, level string) (btclog.Logger, func(), error) {
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("lnlog: create log dir: %w", err)
	}

	r, err := rotator.New(filepath.Join(logDir, logFilename), 10*1024, false, 3)
	if err != nil {
		return nil, nil, fmt.Errorf("lnlog: create log rotator: %w", err)
	}

	backendLog = btclog.NewBackend(io.MultiWriter(os.Stdout, r))

	logger := backendLog.Logger(subsystem)
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		lvl = btclog.LevelInfo
	}
	logger.SetLevel(lvl)

	return logger, func() { r.Close() }, nil
}

// SubLogger returns an additional Logger for subsystem on the backend
// already configured by Setup, at the given level.
func SubLogger(subsystem, level string) btclog.Logger {
	logger := backendLog.Logger(subsystem)
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		lvl = btclog.LevelInfo
	}
	logger.SetLevel(lvl)
	return logger
}
