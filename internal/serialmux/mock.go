package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// MockSerialPort implements SerialPorter over an arbitrary reader and writer.
type MockSerialPort struct {
	io.Reader
	io.WriteCloser
}

// NewMockSerialMux creates a SerialMux whose port replays the given sentences
// in a loop, one every period, until the mux is closed. Commands written to
// the port are discarded.
func NewMockSerialMux(sentences []string, period time.Duration) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()

	mockPort := &MockSerialPort{
		Reader:      r,
		WriteCloser: pipeCloser{w: w},
	}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for i := 0; ; i++ {
			<-ticker.C
			if len(sentences) == 0 {
				continue
			}
			if _, err := io.WriteString(w, sentences[i%len(sentences)]+"\r\n"); err != nil {
				return
			}
		}
	}()

	return NewSerialMux(mockPort)
}

// pipeCloser discards writes and closes the replay pipe on Close so the
// generator goroutine exits.
type pipeCloser struct{ w *io.PipeWriter }

func (p pipeCloser) Write(b []byte) (int, error) { return len(b), nil }
func (p pipeCloser) Close() error                { return p.w.Close() }

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
// It provides fine-grained control over reads, writes and errors.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes Write report one byte fewer than it was given
	ShortWrite bool

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read reads from the read buffer, optionally blocking until data arrives.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errors.New("serial port closed")
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.BlockReads {
		for !t.Closed && t.ReadBuffer.Len() == 0 && t.ReadError == nil {
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, errors.New("serial port closed")
		}
		if t.ReadError != nil {
			err := t.ReadError
			t.ReadError = nil
			return 0, err
		}
	}

	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer, optionally simulating errors.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errors.New("serial port closed")
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	n, err = t.WriteBuffer.Write(p)
	if t.ShortWrite && n > 0 {
		n--
	}
	return n, err
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()

	return t.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// FailNextRead makes the next Read return err, waking a blocked reader.
func (t *TestableSerialPort) FailNextRead(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadError = err
	t.readCond.Broadcast()
}

// GetWrittenData returns a copy of all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return bytes.Clone(t.WriteBuffer.Bytes())
}
