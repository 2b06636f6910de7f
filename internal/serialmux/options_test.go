package serialmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestPortOptions_Normalise(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr string
	}{
		{"defaults", PortOptions{}, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}, ""},
		{"explicit", PortOptions{BaudRate: 4800, DataBits: 7, StopBits: 2, Parity: "even"}, PortOptions{BaudRate: 4800, DataBits: 7, StopBits: 2, Parity: "E"}, ""},
		{"negative baud", PortOptions{BaudRate: -1}, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}, ""},
		{"odd lower", PortOptions{Parity: " o "}, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "O"}, ""},
		{"bad data bits", PortOptions{DataBits: 9}, PortOptions{}, "invalid data bits"},
		{"bad stop bits", PortOptions{StopBits: 3}, PortOptions{}, "invalid stop bits"},
		{"bad parity", PortOptions{Parity: "mark"}, PortOptions{}, "unsupported parity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalise()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPortOptions_Equal(t *testing.T) {
	assert.True(t, PortOptions{}.Equal(PortOptions{BaudRate: 9600, Parity: "none"}))
	assert.False(t, PortOptions{BaudRate: 4800}.Equal(PortOptions{}))
	assert.False(t, PortOptions{DataBits: 9}.Equal(PortOptions{DataBits: 9}))
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 9600, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}, mode)

	mode, err = PortOptions{BaudRate: 38400, StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.OddParity, mode.Parity)

	mode, err = PortOptions{Parity: "E"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	_, err = PortOptions{DataBits: 4}.SerialMode()
	assert.Error(t, err)
}

func TestNewRealSerialMux_InvalidOptions(t *testing.T) {
	_, err := NewRealSerialMux("/dev/null", PortOptions{Parity: "X"})
	assert.Error(t, err)
}

func TestNewRealSerialMux_MissingDevice(t *testing.T) {
	_, err := NewRealSerialMux("/dev/fieldtrack-no-such-device", PortOptions{})
	assert.Error(t, err)
}
