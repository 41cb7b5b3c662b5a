// storage package contains all the artifacts that are stored in the database,
// but also is an abstraction of a queue for the processing of them by different
// services. The storage package includes a prefixed key-value store that allows
// to store the different types of artifacts in the database. The following
// prefixes are used:
//   - 'mc/' for the membership commitments, keyed by registration index
//   - 'mi/' for the index of each membership commitment
//   - 'mm/' for the membership metadata (size)
//   - 'fq/' for the messages waiting to be forwarded to the ledger (queued)
//   - 'fr/' for the forward queue reservations
//   - 'rc/' for the forward receipts
//
// Note: Not all the prefixes support queue operations, only the ones that are
// used in the processing of the artifacts.
package storage

import (
	"errors"
	"sync"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/log"
)

var (
	// Prefixes for the keys in the database.
	memberPrefix         = []byte("mc/")
	memberIndexPrefix    = []byte("mi/")
	memberMetaPrefix     = []byte("mm/")
	forwardPrefix        = []byte("fq/")
	forwardReservPrefix  = []byte("fr/")
	forwardReceiptPrefix = []byte("rc/")
	forwardSequenceKey   = []byte("forwardSeq")
	memberCountKey       = []byte("size")
	reservationValue     = []byte{1}
)

var (
	// ErrNotFound is returned when the artifact is not in the database.
	ErrNotFound = errors.New("not found")
	// ErrNoMoreElements is returned when a queue has no unreserved elements.
	ErrNoMoreElements = errors.New("no more elements")
	// ErrAlreadyExists is returned when adding a commitment twice.
	ErrAlreadyExists = errors.New("already exists")
)

// Storage wraps the database and provides the membership list and the
// forward queue on top of it.
type Storage struct {
	db db.Database
	// globalLock serializes the queue and membership write operations.
	globalLock sync.Mutex
}

// New creates a new Storage instance.
func New(db db.Database) *Storage {
	return &Storage{db: db}
}

// DB returns the underlying database, so other components (such as the
// nullifier registry) can live in their own prefix of it.
func (s *Storage) DB() db.Database {
	return s.db
}

// Close closes the storage.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		log.Warnw("failed to close storage", "error", err)
	}
}
