package records

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "records.db"), "/data/assets")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func trackAnnotation(name string) *Annotation {
	alt := 42.5
	return &Annotation{
		Type:   TypeTrack,
		Name:   name,
		Editor: "track.edtr",
		Point:  Point{Lon: -3.188889, Lat: 55.936, Alt: &alt},
		Fields: []Field{
			{ID: "fieldtrip-title", Label: "Title", Val: name},
			{ID: GPXFieldID, Label: "GPS Track", Val: "/data/assets/2026-10-18T09_15_00Z.gpx", Style: &Style{StrokeColor: "#ff0000"}},
		},
		Rate: 5,
	}
}

// runStoreContract exercises the Store behaviour shared by every implementation.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	assert.Equal(t, "/data/assets", store.AssetsDir())

	t.Run("create assigns id", func(t *testing.T) {
		a := trackAnnotation("first")
		id, err := store.Save(ctx, "", a)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Equal(t, id, a.ID)
		assert.False(t, a.CreatedAt.IsZero())

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "first", got.Name)
		assert.Equal(t, TypeTrack, got.Type)
		assert.InDelta(t, -3.188889, got.Point.Lon, 1e-9)
		assert.InDelta(t, 55.936, got.Point.Lat, 1e-9)
		require.NotNil(t, got.Point.Alt)
		assert.Equal(t, 42.5, *got.Point.Alt)
		assert.Equal(t, "/data/assets/2026-10-18T09_15_00Z.gpx", got.GPXPath())
		assert.Equal(t, "#ff0000", got.StrokeColor())
		assert.Equal(t, 5.0, got.Rate)
	})

	t.Run("update keeps id and creation time", func(t *testing.T) {
		a := trackAnnotation("second")
		id, err := store.Save(ctx, "", a)
		require.NoError(t, err)
		created := a.CreatedAt

		update := trackAnnotation("second renamed")
		update.Point = Point{Lon: 1, Lat: 2}
		id2, err := store.Save(ctx, id, update)
		require.NoError(t, err)
		assert.Equal(t, id, id2)
		assert.True(t, update.CreatedAt.Equal(created))

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "second renamed", got.Name)
		assert.Nil(t, got.Point.Alt)
		assert.Equal(t, 1.0, got.Point.Lon)
		assert.True(t, got.CreatedAt.Equal(created))
	})

	t.Run("save with explicit new id", func(t *testing.T) {
		id, err := store.Save(ctx, "fixed-id", trackAnnotation("fixed"))
		require.NoError(t, err)
		assert.Equal(t, "fixed-id", id)
	})

	t.Run("missing records", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, "missing"), ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		id, err := store.Save(ctx, "", trackAnnotation("doomed"))
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, id))
		_, err = store.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list by type", func(t *testing.T) {
		note := &Annotation{Type: "text", Name: "note", Point: Point{Lon: 0, Lat: 0}}
		_, err := store.Save(ctx, "", note)
		require.NoError(t, err)

		tracks, err := store.List(ctx, TypeTrack)
		require.NoError(t, err)
		assert.Len(t, tracks, 3)
		for i := 1; i < len(tracks); i++ {
			assert.False(t, tracks[i].CreatedAt.Before(tracks[i-1].CreatedAt))
		}

		all, err := store.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, newSQLiteStore(t))
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewMemoryStore("/data/assets"))
}

func TestSQLiteStore_MigrationsApplied(t *testing.T) {
	s := newSQLiteStore(t)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Re-running is a no-op.
	require.NoError(t, s.MigrateUp())
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	s, err := OpenSQLiteStore(path, "assets")
	require.NoError(t, err)
	id, err := s.Save(context.Background(), "", trackAnnotation("persisted"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStore(path, "assets")
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Name)
}

func TestSQLiteStore_AdminRoutes(t *testing.T) {
	s := newSQLiteStore(t)
	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/tailsql/", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusNotFound, rec.Code, "tailsql route should be registered")
}

func TestMemoryStore_InjectedErrors(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("assets")
	boom := errors.New("store offline")

	m.FailSave(boom)
	_, err := m.Save(ctx, "", trackAnnotation("x"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.Len())
	m.FailSave(nil)

	id, err := m.Save(ctx, "", trackAnnotation("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Saves())

	m.FailGet(boom)
	_, err = m.Get(ctx, id)
	assert.ErrorIs(t, err, boom)

	m.FailDelete(boom)
	assert.ErrorIs(t, m.Delete(ctx, id), boom)
	assert.Equal(t, 1, m.Len())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("assets")
	a := trackAnnotation("first.gpx")
	id, err := m.Save(ctx, "", a)
	require.NoError(t, err)

	a.Fields[0].Val = "mutated"
	got, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "first.gpx", got.Fields[0].Val)

	got.Field(GPXFieldID).Style.StrokeColor = "blue"
	again, _ := m.Get(ctx, id)
	assert.Equal(t, "#ff0000", again.StrokeColor())
}

func TestMemoryStore_ListOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("assets")
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	for i, name := range []string{"c", "a", "b"} {
		a := trackAnnotation(name)
		a.CreatedAt = base.Add(time.Duration(2-i) * time.Minute)
		_, err := m.Save(ctx, name, a)
		require.NoError(t, err)
	}
	list, err := m.List(ctx, TypeTrack)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{list[0].ID, list[1].ID, list[2].ID})
}
