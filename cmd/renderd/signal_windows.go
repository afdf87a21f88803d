//go:build windows

package main

import (
	"context"
	"os"
	"os/signal"
)

// shutdownContext is canceled on Ctrl+C. Windows has no SIGTERM.
func shutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}
