package serialmux

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/banshee-data/fieldtrack/internal/monitoring"
)

// NewRealSerialMux opens the receiver at path with opts. initCommands are
// held until Initialise.
func NewRealSerialMux(path string, opts PortOptions, initCommands ...string) (*SerialMux[serial.Port], error) {
	opts, err := opts.Normalise()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open GPS receiver %s: %w", path, err)
	}
	monitoring.Logf("serialmux: opened %s at %d baud", path, opts.BaudRate)
	return NewSerialMux[serial.Port](port, initCommands...), nil
}
