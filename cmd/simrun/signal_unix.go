//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals cancel long loads. SIGTERM is included on Unix.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
