// Package metadb opens the key-value databases the relay keeps its state in:
// the membership set, the forward queue and the arbo nullifier registry.
package metadb

import (
	"cmp"
	"fmt"
	"os"
	"testing"

	"github.com/vocdoni/arbo/memdb"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/pebbledb"
)

// TypeMemory is a non persistent database, useful for development.
const TypeMemory = "memory"

// TestTypeEnv selects the database type used by the tests.
const TestTypeEnv = "ANONSIGNAL_TEST_DB"

// New opens a database of the given type. Pebble databases are stored in
// dir, which is created if missing.
func New(typ, dir string) (db.Database, error) {
	switch typ {
	case db.TypePebble:
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		database, err := pebbledb.New(db.Options{Path: dir})
		if err != nil {
			return nil, fmt.Errorf("open pebble database at %s: %w", dir, err)
		}
		return database, nil
	case TypeMemory:
		return memdb.New(), nil
	default:
		return nil, fmt.Errorf("invalid database type %q, available types: %q, %q",
			typ, db.TypePebble, TypeMemory)
	}
}

// NewTest opens a database in a temporary dir, closed when tb finishes.
// Pebble is used unless TestTypeEnv says otherwise.
func NewTest(tb testing.TB) db.Database {
	database, err := New(cmp.Or(os.Getenv(TestTypeEnv), db.TypePebble), tb.TempDir())
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { database.Close() })
	return database
}
