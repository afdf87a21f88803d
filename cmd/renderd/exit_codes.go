package main

import (
	"errors"

	flag "github.com/spf13/pflag"

	"github.com/alnah/go-renderd"
	"github.com/alnah/go-renderd/internal/config"
)

// Exit codes for the renderd binary.
// Follows Unix conventions: 0=success, 1=general, 2=usage, and custom codes < 126.
const (
	ExitSuccess = 0 // Clean shutdown
	ExitGeneral = 1 // General/unexpected error
	ExitUsage   = 2 // Invalid flags, environment, or config
	ExitBrowser = 4 // Chrome missing or no browser could start
)

// exitCodeFor returns the appropriate exit code for an error.
// It uses errors.Is to check wrapped errors, so callers must use fmt.Errorf("%w", err).
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	if errors.Is(err, renderd.ErrLaunch) || errors.Is(err, ErrChromeNotFound) {
		return ExitBrowser
	}

	if errors.Is(err, config.ErrConfigNotFound) ||
		errors.Is(err, config.ErrConfigParse) ||
		errors.Is(err, config.ErrInvalidConfig) ||
		errors.Is(err, config.ErrEmptyConfigName) ||
		errors.Is(err, ErrInvalidEnv) ||
		errors.Is(err, ErrUnknownCommand) ||
		errors.Is(err, flag.ErrHelp) {
		return ExitUsage
	}

	return ExitGeneral
}
