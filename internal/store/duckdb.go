// Package store keeps asset and tour layers in a local DuckDB database so
// the viewer can run without a remote feature service.
package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	instance *sql.DB
	once     sync.Once
	initErr  error
)

// Config holds database configuration.
type Config struct {
	DataDir string
	DBName  string
}

// Get returns the singleton DuckDB connection, creating the schema on first use.
func Get(cfg Config) (*sql.DB, error) {
	once.Do(func() {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			initErr = eris.Wrap(err, "store: create duckdb directory")
			return
		}

		dbPath := filepath.Join(duckdbDir, cfg.DBName+".duckdb")
		instance, initErr = Open(dbPath)
		if initErr == nil {
			zap.L().Info("store: opened", zap.String("path", dbPath))
		}
	})
	return instance, initErr
}

// Open opens a DuckDB database at path and migrates it. An empty path opens
// an in-memory database.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, eris.Wrap(err, "store: open duckdb")
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the singleton connection.
func Close() error {
	if instance != nil {
		return instance.Close()
	}
	return nil
}

var schema = []string{`
CREATE TABLE IF NOT EXISTS layers (
	layer_id      VARCHAR PRIMARY KEY,
	name          VARCHAR NOT NULL,
	geometry_type VARCHAR,
	renderer      VARCHAR,
	min_scale     DOUBLE
)`, `
CREATE TABLE IF NOT EXISTS features (
	layer_id    VARCHAR NOT NULL,
	object_id   BIGINT NOT NULL,
	water_level DOUBLE,
	label       VARCHAR,
	attributes  VARCHAR,
	geometry    VARCHAR,
	minx        DOUBLE,
	miny        DOUBLE,
	maxx        DOUBLE,
	maxy        DOUBLE,
	PRIMARY KEY (layer_id, object_id)
)`}

func migrate(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return eris.Wrap(err, "store: migrate")
		}
	}
	return nil
}
