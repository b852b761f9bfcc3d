package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DBFile is the name of the SQLite file inside an index directory.
const DBFile = "index.db"

const manifestKey = "manifest"

// ErrSchemaOutdated is returned when a read-only open finds an index written
// by an older schema. Such an index has to be rebuilt.
var ErrSchemaOutdated = errors.New("index schema is outdated")

// Store wraps the SQLite database that backs one index directory.
type Store struct {
	db       *sql.DB
	dir      string
	readOnly bool
}

type migration struct {
	version int
	name    string
}

// Open opens (or creates) the index database in dir for writing and applies
// pending migrations. Pass ":memory:" as dir for an in-memory database.
func Open(dir string) (*Store, error) {
	dsn := ":memory:"
	if dir != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
		dsn = filepath.Join(dir, DBFile)
	}

	// The index is published by renaming its directory, so everything stays
	// in the main database file rather than a WAL sidecar.
	s, err := open(dir, dsn, false, "PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = DELETE")
	if err != nil {
		return nil, err
	}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// OpenReadOnly opens a published index for querying. It never writes to dir
// and fails with ErrSchemaOutdated when migrations are pending.
func OpenReadOnly(dir string) (*Store, error) {
	path := filepath.Join(dir, DBFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}

	s, err := open(dir, "file:"+filepath.ToSlash(path)+"?mode=ro", true, "PRAGMA query_only = 1")
	if err != nil {
		return nil, err
	}

	have, err := s.SchemaVersion()
	if err != nil {
		s.Close()
		return nil, err
	}
	want, err := latestMigration()
	if err != nil {
		s.Close()
		return nil, err
	}
	if have < want {
		s.Close()
		return nil, fmt.Errorf("%w: version %d, want %d", ErrSchemaOutdated, have, want)
	}
	return s, nil
}

func open(dir, dsn string, readOnly bool, pragmas ...string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: the in-memory database is per-connection, and pragmas
	// set below only apply to the connection that ran them.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return &Store{db: db, dir: dir, readOnly: readOnly}, nil
}

// DB exposes the underlying handle for the chunk store.
func (s *Store) DB() *sql.DB { return s.db }

// Dir returns the directory the store was opened in.
func (s *Store) Dir() string { return s.dir }

// ReadOnly reports whether the store was opened with OpenReadOnly.
func (s *Store) ReadOnly() bool { return s.readOnly }

func (s *Store) Close() error { return s.db.Close() }

// SchemaVersion returns the number of the last applied migration, kept in
// SQLite's user_version header field.
func (s *Store) SchemaVersion() (int, error) {
	var v int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

func migrations() ([]migration, error) {
	entries, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}
	out := make([]migration, 0, len(entries))
	for _, name := range entries {
		var version int
		if _, err := fmt.Sscanf(filepath.Base(name), "%d_", &version); err != nil {
			return nil, fmt.Errorf("parsing migration version from %q: %w", name, err)
		}
		out = append(out, migration{version: version, name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func latestMigration() (int, error) {
	all, err := migrations()
	if err != nil || len(all) == 0 {
		return 0, err
	}
	return all[len(all)-1].version, nil
}

// migrate applies every pending migration and bumps user_version in one
// transaction, so a crash leaves either the old or the new schema.
func (s *Store) migrate() error {
	current, err := s.SchemaVersion()
	if err != nil {
		return err
	}
	all, err := migrations()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("beginning migration: %w", err)
	}
	defer tx.Rollback()

	applied := current
	for _, m := range all {
		if m.version <= current {
			continue
		}
		content, err := migrationsFS.ReadFile(m.name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			return fmt.Errorf("applying migration %d: %w", m.version, err)
		}
		applied = m.version
	}
	if applied == current {
		return nil
	}
	// PRAGMA does not take bound parameters.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", applied)); err != nil {
		return fmt.Errorf("recording schema version %d: %w", applied, err)
	}
	return tx.Commit()
}

// SetMeta upserts a key in index_meta.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO index_meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM index_meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// SaveManifest records how the index was built.
func (s *Store) SaveManifest(m Manifest) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshalling manifest: %w", err)
	}
	return s.SetMeta(manifestKey, string(b))
}

// LoadManifest returns the build manifest, or ErrNotFound for an index that
// was never completed.
func (s *Store) LoadManifest() (Manifest, error) {
	raw, err := s.GetMeta(manifestKey)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Manifest{}, fmt.Errorf("decoding manifest: %w", err)
	}
	return m, nil
}
