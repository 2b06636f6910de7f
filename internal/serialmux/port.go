package serialmux

import "io"

// SerialPorter is the part of a serial port the mux uses. go.bug.st/serial
// ports satisfy it, as do the replay and test ports in mock.go.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
