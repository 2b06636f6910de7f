package records

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/fieldtrack/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists records in a SQLite database. Geometry is stored as
// GeoJSON and fields as a JSON array.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	assetsDir string
}

// OpenSQLiteStore opens (creating if needed) the database at path and
// applies pending migrations.
func OpenSQLiteStore(path, assetsDir string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open record db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path, assetsDir: assetsDir}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MigrateUp applies all pending schema migrations.
func (s *SQLiteStore) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version and dirty flag.
func (s *SQLiteStore) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *SQLiteStore) newMigrate() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// AssetsDir returns the directory track files are written to.
func (s *SQLiteStore) AssetsDir() string { return s.assetsDir }

// Save creates or replaces a record.
func (s *SQLiteStore) Save(ctx context.Context, id string, a *Annotation) (string, error) {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.ID = id

	geometry, err := geojson.NewGeometry(orb.Point{a.Point.Lon, a.Point.Lat}).MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("encode geometry: %w", err)
	}
	fields := a.Fields
	if fields == nil {
		fields = []Field{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	var altitude sql.NullFloat64
	if a.Point.Alt != nil {
		altitude = sql.NullFloat64{Float64: *a.Point.Alt, Valid: true}
	}

	var createdAt int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO annotations (
			id, type, name, editor, geometry, altitude, fields, rate, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			editor = excluded.editor,
			geometry = excluded.geometry,
			altitude = excluded.altitude,
			fields = excluded.fields,
			rate = excluded.rate,
			updated_at = excluded.updated_at
		RETURNING created_at`,
		id, a.Type, a.Name, a.Editor, string(geometry), altitude, string(fieldsJSON), a.Rate,
		a.CreatedAt.UnixNano(), a.UpdatedAt.UnixNano(),
	).Scan(&createdAt)
	if err != nil {
		return "", fmt.Errorf("save record: %w", err)
	}
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	return id, nil
}

const selectAnnotation = `
	SELECT id, type, name, editor, geometry, altitude, fields, rate, created_at, updated_at
	FROM annotations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnotation(row rowScanner) (*Annotation, error) {
	var (
		a                    Annotation
		geometry, fields     string
		altitude             sql.NullFloat64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&a.ID, &a.Type, &a.Name, &a.Editor, &geometry, &altitude, &fields, &a.Rate, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	g, err := geojson.UnmarshalGeometry([]byte(geometry))
	if err != nil {
		return nil, fmt.Errorf("decode geometry of %s: %w", a.ID, err)
	}
	p, ok := g.Geometry().(orb.Point)
	if !ok {
		return nil, fmt.Errorf("record %s: geometry is %s, want Point", a.ID, g.Geometry().GeoJSONType())
	}
	a.Point.Lon, a.Point.Lat = p.Lon(), p.Lat()
	if altitude.Valid {
		alt := altitude.Float64
		a.Point.Alt = &alt
	}
	if err := json.Unmarshal([]byte(fields), &a.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of %s: %w", a.ID, err)
	}
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	a.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &a, nil
}

// Get returns the record with the given id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Annotation, error) {
	row := s.db.QueryRowContext(ctx, selectAnnotation+` WHERE id = ?`, id)
	a, err := scanAnnotation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return a, nil
}

// Delete removes the record with the given id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM annotations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete record %s: %w", id, ErrNotFound)
	}
	return nil
}

// List returns records of recordType (all types when empty), oldest first.
func (s *SQLiteStore) List(ctx context.Context, recordType string) ([]*Annotation, error) {
	query := selectAnnotation
	var args []any
	if recordType != "" {
		query += ` WHERE type = ?`
		args = append(args, recordType)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AttachAdminRoutes mounts a tailsql console over the record database at
// /debug/tailsql/.
func (s *SQLiteStore) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.db, &tailsql.DBOptions{
		Label: "Records DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	monitoring.Logf("records: tailsql console at /debug/tailsql/")
	return nil
}
