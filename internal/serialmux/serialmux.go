// Package serialmux shares one GPS receiver between several readers. Lines
// read from the serial port are checked for NMEA framing and fanned out to
// every subscriber; commands (proprietary configuration sentences) are
// written back through the same port.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/banshee-data/fieldtrack/internal/monitoring"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// subscriberBuffer is the number of sentences queued per subscriber; further
// sentences are dropped for that subscriber until it catches up.
const subscriberBuffer = 16

// Stats counts what Monitor has done with the lines it read.
type Stats struct {
	Sentences uint64 `json:"sentences"` // valid sentences fanned out
	Rejected  uint64 `json:"rejected"`  // bad framing or checksum
	Dropped   uint64 `json:"dropped"`   // deliveries skipped for full subscribers
}

// SerialMux multiplexes a single receiver port of type T.
type SerialMux[T SerialPorter] struct {
	port         T
	initCommands []string

	mu          sync.Mutex
	subscribers map[string]chan string
	closed      bool

	writeMu sync.Mutex

	sentences atomic.Uint64
	rejected  atomic.Uint64
	dropped   atomic.Uint64
}

// SerialMuxInterface is what the positioning layer and the binary need from
// a receiver, real or not.
type SerialMuxInterface interface {
	// Subscribe returns an id and a channel of verified sentences.
	Subscribe() (string, chan string)
	// Unsubscribe closes and forgets the channel with the given id.
	Unsubscribe(string)
	// SendCommand writes one sentence to the receiver.
	SendCommand(string) error
	// Monitor reads the port until ctx ends or the port fails.
	Monitor(context.Context) error
	// Close closes every subscriber channel and the port.
	Close() error
	// Initialise sends the configured start-up sentences.
	Initialise() error
	// Stats reports line counters since the mux was created.
	Stats() Stats

	// AttachAdminRoutes registers tsweb debug endpoints under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux wraps port. initCommands are sent by Initialise.
func NewSerialMux[T SerialPorter](port T, initCommands ...string) *SerialMux[T] {
	return &SerialMux[T]{
		port:         port,
		initCommands: initCommands,
		subscribers:  make(map[string]chan string),
	}
}

// randomID returns 8 random bytes, hex encoded.
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a buffered channel. After Close the channel is
// returned already closed.
func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Initialise sends each init sentence in order, typically selecting the
// output set and fix rate.
func (s *SerialMux[T]) Initialise() error {
	for _, command := range s.initCommands {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("send init sentence %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand writes command terminated by CRLF, as NMEA receivers expect.
func (s *SerialMux[T]) SendCommand(command string) error {
	line := strings.TrimRight(command, "\r\n") + "\r\n"
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write([]byte(line))
	if err != nil {
		return err
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	return nil
}

func (s *SerialMux[T]) Stats() Stats {
	return Stats{
		Sentences: s.sentences.Load(),
		Rejected:  s.rejected.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// Monitor reads lines from the port, discards anything that is not a
// checksummed sentence and delivers the rest to subscribers without
// blocking on slow readers. It returns ctx.Err() on cancellation, nil on
// EOF or Close, and the read error otherwise.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	// bufio.Scanner blocks in Read, so it cannot watch ctx itself.
	go func() {
		defer close(lines)
		scan := bufio.NewScanner(s.port)
		for scan.Scan() {
			select {
			case lines <- strings.TrimSpace(scan.Text()):
			case <-ctx.Done():
				return
			}
		}
		readErr <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if line == "" {
				continue
			}
			if err := VerifySentence(line); err != nil {
				s.rejected.Add(1)
				monitoring.Debugf("serialmux: ignoring %q: %v", line, err)
				continue
			}
			if !s.broadcast(line) {
				return nil
			}
		}
	}
}

// broadcast reports false once the mux is closed.
func (s *SerialMux[T]) broadcast(line string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sentences.Add(1)
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			s.dropped.Add(1)
		}
	}
	return true
}

func (s *SerialMux[T]) Close() error {
	s.mu.Lock()
	s.closed = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.mu.Unlock()
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}

// attachAdminRoutes registers the send, stats and tail endpoints for any
// mux implementation.
func attachAdminRoutes(mux *http.ServeMux, s SerialMuxInterface) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("gps-send-command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	debug.HandleFunc("gps-stats", "NMEA sentence counters", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Stats())
	})

	// Server-Sent Events stream of verified sentences.
	debug.HandleFunc("gps-tail", "live NMEA sentences from the GPS receiver", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
