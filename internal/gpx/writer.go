package gpx

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/banshee-data/fieldtrack/internal/fsutil"
)

// ErrWriterClosed is returned by Save after Remove.
var ErrWriterClosed = errors.New("gpx writer closed")

// Writer persists successive snapshots of one capture's document to a single
// file. Snapshots carry a sequence number; a snapshot older than the last one
// written is ignored, so a slow flush can never replace newer content.
type Writer struct {
	fsys fsutil.FileSystem
	path string

	mu      sync.Mutex
	lastSeq uint64
	written bool
	closed  bool
}

// NewWriter returns a writer for path on fsys.
func NewWriter(fsys fsutil.FileSystem, path string) *Writer {
	return &Writer{fsys: fsys, path: path}
}

// Path returns the file the writer owns.
func (w *Writer) Path() string { return w.path }

// Save atomically replaces the file with data unless a newer snapshot has
// already been written.
func (w *Writer) Save(seq uint64, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	if w.written && seq <= w.lastSeq {
		return nil
	}
	if err := fsutil.WriteFileAtomic(w.fsys, w.path, data, 0o644); err != nil {
		return fmt.Errorf("save gpx: %w", err)
	}
	w.lastSeq = seq
	w.written = true
	return nil
}

// Remove closes the writer and deletes the file. A file that was never
// written is not an error.
func (w *Writer) Remove() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	if err := w.fsys.Remove(w.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove gpx: %w", err)
	}
	return nil
}
