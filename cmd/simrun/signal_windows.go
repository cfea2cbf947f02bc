//go:build windows

package main

import "os"

// shutdownSignals cancel long loads. Windows only delivers os.Interrupt.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
