package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no cache entry exists.
var ErrNotFound = errors.New("cache entry not found")

// schemaVersion tags the current cache keying scheme. Version 1 keyed
// entries by identity alone; version 2 added body attributes to the
// fingerprint. A mismatch on open wipes the cache rather than migrating,
// since identity-only entries cannot be trusted after an attribute edit.
const schemaVersion = 2

// entry is the single metadata row backing the cache: which fingerprint
// owns the stored blob, where the blob lives, and its BLAKE3 digest.
type entry struct {
	Fingerprint string
	Filename    string
	Checksum    string
}

// metaDB wraps the SQLite metadata database for the asset cache.
type metaDB struct {
	db *sql.DB
	sync.RWMutex
	closeOnce sync.Once
	closeErr  error
}

// openMeta initializes and returns the metadata database.
func openMeta(path string) (*metaDB, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create cache metadata directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache metadata database at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping cache metadata database at %s: %w", path, err)
	}

	m := &metaDB{db: db}
	if err := m.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache metadata schema: %w", err)
	}

	log.Debugf("Cache metadata database opened at %s", path)
	return m, nil
}

// initSchema creates the metadata schema if it doesn't exist. The CHECK
// on id pins the table to a single row, the single-slot invariant.
func (m *metaDB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_entry (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		fingerprint TEXT NOT NULL,
		filename TEXT NOT NULL,
		checksum TEXT NOT NULL,
		stored_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := m.db.Exec(schema)
	return err
}

// storedSchemaVersion reads the schema tag stamped into the database.
// A fresh database reports 0.
func (m *metaDB) storedSchemaVersion() (int, error) {
	m.RLock()
	defer m.RUnlock()

	var v int
	if err := m.db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("error reading cache schema version: %w", err)
	}
	return v, nil
}

// stampSchemaVersion writes the current schema tag.
func (m *metaDB) stampSchemaVersion() error {
	m.Lock()
	defer m.Unlock()

	_, err := m.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	if err != nil {
		return fmt.Errorf("error stamping cache schema version: %w", err)
	}
	return nil
}

// hasLegacyTable detects metadata left behind by the identity-only
// keying scheme, which used its own table.
func (m *metaDB) hasLegacyTable() (bool, error) {
	m.RLock()
	defer m.RUnlock()

	var name string
	err := m.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='cache_owner'").Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("error probing for legacy cache table: %w", err)
	}
	return true, nil
}

// dropLegacyTable removes the identity-only metadata table.
func (m *metaDB) dropLegacyTable() error {
	m.Lock()
	defer m.Unlock()

	if _, err := m.db.Exec("DROP TABLE IF EXISTS cache_owner"); err != nil {
		return fmt.Errorf("error dropping legacy cache table: %w", err)
	}
	return nil
}

// getEntry retrieves the cache entry, or ErrNotFound.
func (m *metaDB) getEntry() (entry, error) {
	m.RLock()
	defer m.RUnlock()

	var e entry
	err := m.db.QueryRow("SELECT fingerprint, filename, checksum FROM cache_entry WHERE id = 1").
		Scan(&e.Fingerprint, &e.Filename, &e.Checksum)
	if err == sql.ErrNoRows {
		return entry{}, ErrNotFound
	} else if err != nil {
		return entry{}, fmt.Errorf("error querying cache entry: %w", err)
	}
	return e, nil
}

// putEntry replaces the cache entry. INSERT OR REPLACE against the fixed
// id means storing implicitly supersedes whatever was there.
func (m *metaDB) putEntry(e entry) error {
	m.Lock()
	defer m.Unlock()

	_, err := m.db.Exec(`
		INSERT OR REPLACE INTO cache_entry (id, fingerprint, filename, checksum, stored_at)
		VALUES (1, ?, ?, ?, CURRENT_TIMESTAMP)
	`, e.Fingerprint, e.Filename, e.Checksum)
	if err != nil {
		return fmt.Errorf("error storing cache entry: %w", err)
	}
	return nil
}

// deleteEntry removes the cache entry. Deleting an absent entry is not
// an error.
func (m *metaDB) deleteEntry() error {
	m.Lock()
	defer m.Unlock()

	if _, err := m.db.Exec("DELETE FROM cache_entry WHERE id = 1"); err != nil {
		return fmt.Errorf("error deleting cache entry: %w", err)
	}
	return nil
}

// Close safely closes the metadata database.
func (m *metaDB) Close() error {
	m.closeOnce.Do(func() {
		m.Lock()
		defer m.Unlock()

		m.closeErr = m.db.Close()
		if m.closeErr != nil {
			log.Errorf("Error closing cache metadata database: %v", m.closeErr)
		}
	})
	return m.closeErr
}
