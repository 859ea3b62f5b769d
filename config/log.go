// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"strings"

	logger "github.com/d2r2/go-logger"
)

// LogLevel maps a log.level value to the logger level.
func LogLevel(name string) (logger.LogLevel, error) {
	switch strings.ToLower(name) {
	case "debug":
		return logger.DebugLevel, nil
	case "", "info":
		return logger.InfoLevel, nil
	case "notify":
		return logger.NotifyLevel, nil
	case "warn", "warning":
		return logger.WarnLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	default:
		return logger.InfoLevel, fmt.Errorf("config: unknown log.level %q", name)
	}
}
