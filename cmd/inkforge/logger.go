package main

import (
	"fmt"
	"os"

	"github.com/inkforge/orchestrator/pkg/logger"
)

// initLogger parses level/format and points output at file or stderr,
// priority CLI flag over default since no config file has been loaded
// yet at this point in startup.
func initLogger(level, file, format string) (func(), error) {
	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output *os.File
	var cleanup func()
	if file != "" {
		f, cleanupFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		output = f
		cleanup = cleanupFn
	} else {
		output = os.Stderr
	}

	logger.Init(parsed, output, format)
	return cleanup, nil
}
