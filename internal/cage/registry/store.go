package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// currentSchemaVersion is the document schema this build understands.
// A document written by a future, incompatible build (or corrupted data)
// is treated as an empty registry rather than causing a crash, per
// spec.md §4.2.
const currentSchemaVersion = 1

// document is the single versioned blob persisted in registry_document.
type document struct {
	SchemaVersion int                        `json:"schema_version"`
	Revision      int64                      `json:"revision"`
	Containers    map[string]ContainerRecord `json:"containers"`
}

// Registry is the durable, single-writer store of container records. All
// mutation is serialized through mu, matching the single-writer discipline
// spec.md §3/§5 require; reads are served from the in-memory cache that mu
// also protects, so they never need to touch SQLite.
type Registry struct {
	mu  sync.Mutex
	db  *sql.DB
	doc document
}

// Open creates or opens the registry document at path, running migrations
// and loading the current document into memory.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open database: %w", err)
	}

	// SQLite is single-writer by design; keep one shared connection so
	// concurrent callers serialize through database/sql rather than
	// contending over the file lock directly.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("registry: set pragma %q: %w", p, err)
		}
	}

	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: migrate: %w", err)
	}
	if err := r.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: load: %w", err)
	}
	return r, nil
}

// Close releases the underlying database connection.
func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS registry_document (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			data       TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`
		CREATE TABLE IF NOT EXISTS pool_events (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			at             TIMESTAMP NOT NULL,
			container_name TEXT NOT NULL,
			session_key    TEXT NOT NULL,
			kind           TEXT NOT NULL,
			detail         TEXT NOT NULL
		)
	`)
	return err
}

// load reads the current document row, falling back to an empty registry
// when no row exists yet or the stored schema version is not understood.
func (r *Registry) load() error {
	var data string
	err := r.db.QueryRow(`SELECT data FROM registry_document WHERE id = 1`).Scan(&data)
	switch {
	case err == sql.ErrNoRows:
		r.doc = emptyDocument()
		return r.persistLocked(nil)
	case err != nil:
		return err
	}

	var doc document
	if jerr := json.Unmarshal([]byte(data), &doc); jerr != nil {
		slog.Warn("registry: stored document is corrupt; starting empty", "err", jerr)
		r.doc = emptyDocument()
		return nil
	}
	if doc.SchemaVersion != currentSchemaVersion {
		slog.Warn("registry: unknown document schema version; starting empty",
			"found", doc.SchemaVersion, "supported", currentSchemaVersion)
		r.doc = emptyDocument()
		return nil
	}
	if doc.Containers == nil {
		doc.Containers = map[string]ContainerRecord{}
	}
	r.doc = doc
	return nil
}

func emptyDocument() document {
	return document{
		SchemaVersion: currentSchemaVersion,
		Revision:      0,
		Containers:    map[string]ContainerRecord{},
	}
}

// persistLocked writes r.doc back to storage and appends any supplied
// events, all inside one transaction. Callers must hold mu. On any error
// the revision bump is rolled back; callers are responsible for undoing
// whatever in-memory Containers edit they made before calling in, so the
// cache never runs ahead of what was actually durably written (spec.md §7).
func (r *Registry) persistLocked(events []Event) (err error) {
	r.doc.Revision++
	defer func() {
		if err != nil {
			r.doc.Revision--
		}
	}()

	data, err := json.Marshal(r.doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO registry_document (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("write document: %w", err)
	}

	for _, e := range events {
		_, err = tx.Exec(`
			INSERT INTO pool_events (at, container_name, session_key, kind, detail)
			VALUES (?, ?, ?, ?, ?)
		`, time.Now(), e.ContainerName, e.SessionKey, e.Kind, e.Detail)
		if err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}

	err = tx.Commit()
	return err
}

// ListEvents returns the most recent audit events, newest first, up to
// limit (0 means no limit).
func (r *Registry) ListEvents(limit int) ([]Event, error) {
	query := `SELECT id, at, container_name, session_key, kind, detail FROM pool_events ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.At, &e.ContainerName, &e.SessionKey, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
