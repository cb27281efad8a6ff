// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// newLogger builds the console logger for --log-level. Diagnostics go to
// stderr so stdout stays clean for packet output.
func newLogger() (zerolog.Logger, error) {
	return newLoggerTo(os.Stderr, logLevel)
}

func newLoggerTo(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q (use debug, info, warn or error)", level)
	}

	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}
