package records

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a map-backed Store for tests and development runs. Errors
// can be injected per operation.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]*Annotation
	assetsDir string
	saveErr   error
	getErr    error
	deleteErr error
	saves     int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(assetsDir string) *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]*Annotation),
		assetsDir: assetsDir,
	}
}

// FailSave makes Save return err until cleared with nil.
func (m *MemoryStore) FailSave(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// FailGet makes Get return err until cleared with nil.
func (m *MemoryStore) FailGet(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

// FailDelete makes Delete return err until cleared with nil.
func (m *MemoryStore) FailDelete(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// Saves returns the number of successful Save calls.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// AssetsDir returns the directory track files are written to.
func (m *MemoryStore) AssetsDir() string { return m.assetsDir }

// Save stores a copy of a.
func (m *MemoryStore) Save(_ context.Context, id string, a *Annotation) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return "", fmt.Errorf("save record: %w", m.saveErr)
	}
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	if existing, ok := m.records[id]; ok {
		a.CreatedAt = existing.CreatedAt
	} else if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.ID = id
	m.records[id] = a.Clone()
	m.saves++
	return id, nil
}

// Get returns a copy of the record.
func (m *MemoryStore) Get(_ context.Context, id string) (*Annotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, fmt.Errorf("get record %s: %w", id, m.getErr)
	}
	a, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("get record %s: %w", id, ErrNotFound)
	}
	return a.Clone(), nil
}

// Delete removes the record.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return fmt.Errorf("delete record %s: %w", id, m.deleteErr)
	}
	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("delete record %s: %w", id, ErrNotFound)
	}
	delete(m.records, id)
	return nil
}

// List returns copies of the records of recordType, oldest first.
func (m *MemoryStore) List(_ context.Context, recordType string) ([]*Annotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Annotation
	for _, a := range m.records {
		if recordType == "" || a.Type == recordType {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
