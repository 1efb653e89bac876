// Package sqlite persists the dataset snapshot to a local SQLite file so a
// new session starts warm, with sync metadata intact, before any network
// traffic. The cache is a single table of JSON record bodies keyed by kind
// and id; Persist replaces the whole snapshot transactionally.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	stdSync "sync"
	"time"

	"github.com/shopsync/shopsync/entity"
	syncErrors "github.com/shopsync/shopsync/errors"
	"github.com/shopsync/shopsync/store"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Operation constants for consistent error reporting.
const (
	opOpen    = "sqlite.Open"
	opPersist = "sqlite.Persist"
	opRestore = "sqlite.Restore"
)

const (
	kindCustomer = "customer"
	kindProduct  = "product"
	kindOrder    = "order"
)

var ErrCacheClosed = errors.New("cache is closed")

// Config holds options for the snapshot cache.
type Config struct {
	// DataSourceName is the SQLite connection string, typically a file path.
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging. Recommended and on by default
	// via DefaultConfig; appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Connection pool settings. The cache sees one writer and rare readers;
	// the defaults are deliberately small.
	MaxOpenConns    int           // Default: 4
	MaxIdleConns    int           // Default: 2
	ConnMaxLifetime time.Duration // Default: 1h
}

func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 4
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.EnableWAL && !strings.Contains(c.DataSourceName, "?_journal_mode=") {
		c.DataSourceName += "?_journal_mode=WAL"
	}
}

// DefaultConfig returns a Config with WAL enabled for the given file.
func DefaultConfig(dataSourceName string) *Config {
	return &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
}

// Cache is the SQLite-backed snapshot store. Safe for concurrent use.
type Cache struct {
	db *sql.DB

	mu     stdSync.Mutex
	closed bool
}

const schema = `
CREATE TABLE IF NOT EXISTS records (
	kind TEXT NOT NULL,
	id   TEXT NOT NULL,
	body TEXT NOT NULL,
	PRIMARY KEY (kind, id)
);
`

// Open opens (creating if needed) the snapshot cache at the configured path.
func Open(config *Config) (*Cache, error) {
	if config == nil || config.DataSourceName == "" {
		return nil, syncErrors.NewStorageError(opOpen, fmt.Errorf("data source name is required"))
	}
	cfg := *config
	cfg.setDefaults()

	db, err := sql.Open("sqlite3", cfg.DataSourceName)
	if err != nil {
		return nil, syncErrors.NewStorageError(opOpen, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, syncErrors.NewStorageError(opOpen, fmt.Errorf("creating schema: %w", err))
	}
	return &Cache{db: db}, nil
}

// OpenFile opens the cache at path with default settings.
func OpenFile(path string) (*Cache, error) {
	return Open(DefaultConfig(path))
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

func (c *Cache) guard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCacheClosed
	}
	return nil
}

// Persist replaces the stored snapshot with snap in one transaction.
func (c *Cache) Persist(snap store.Snapshot) error {
	if err := c.guard(); err != nil {
		return syncErrors.NewStorageError(opPersist, err)
	}

	tx, err := c.db.Begin()
	if err != nil {
		return syncErrors.NewStorageError(opPersist, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM records`); err != nil {
		return syncErrors.NewStorageError(opPersist, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO records (kind, id, body) VALUES (?, ?, ?)`)
	if err != nil {
		return syncErrors.NewStorageError(opPersist, err)
	}
	defer stmt.Close()

	insert := func(kind, id string, rec any) error {
		body, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", kind, id, err)
		}
		_, err = stmt.Exec(kind, id, string(body))
		return err
	}

	for _, rec := range snap.Customers {
		if err := insert(kindCustomer, rec.ID, rec); err != nil {
			return syncErrors.NewStorageError(opPersist, err)
		}
	}
	for _, rec := range snap.Products {
		if err := insert(kindProduct, rec.ID, rec); err != nil {
			return syncErrors.NewStorageError(opPersist, err)
		}
	}
	for _, rec := range snap.Orders {
		if err := insert(kindOrder, rec.ID, rec); err != nil {
			return syncErrors.NewStorageError(opPersist, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return syncErrors.NewStorageError(opPersist, err)
	}
	return nil
}

// Restore loads the stored snapshot. ok is false when the cache is empty.
func (c *Cache) Restore() (store.Snapshot, bool, error) {
	var snap store.Snapshot
	if err := c.guard(); err != nil {
		return snap, false, syncErrors.NewStorageError(opRestore, err)
	}

	rows, err := c.db.Query(`SELECT kind, body FROM records`)
	if err != nil {
		return snap, false, syncErrors.NewStorageError(opRestore, err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var kind, body string
		if err := rows.Scan(&kind, &body); err != nil {
			return snap, false, syncErrors.NewStorageError(opRestore, err)
		}
		found = true
		switch kind {
		case kindCustomer:
			var rec entity.Customer
			if err := json.Unmarshal([]byte(body), &rec); err != nil {
				return snap, false, syncErrors.NewStorageError(opRestore, fmt.Errorf("decoding customer: %w", err))
			}
			snap.Customers = append(snap.Customers, rec)
		case kindProduct:
			var rec entity.Product
			if err := json.Unmarshal([]byte(body), &rec); err != nil {
				return snap, false, syncErrors.NewStorageError(opRestore, fmt.Errorf("decoding product: %w", err))
			}
			snap.Products = append(snap.Products, rec)
		case kindOrder:
			var rec entity.Order
			if err := json.Unmarshal([]byte(body), &rec); err != nil {
				return snap, false, syncErrors.NewStorageError(opRestore, fmt.Errorf("decoding order: %w", err))
			}
			snap.Orders = append(snap.Orders, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return snap, false, syncErrors.NewStorageError(opRestore, err)
	}
	return snap, found, nil
}
