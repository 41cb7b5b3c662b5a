package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/anonsignal/crypto"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// AddCommitments appends the identity commitments to the membership list,
// keeping registration order. If any of them is already registered (or
// repeated in the batch) nothing is written and ErrAlreadyExists is returned.
// It returns the new size of the list.
func (s *Storage) AddCommitments(commitments ...*big.Int) (uint64, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	size, err := s.commitmentsCount()
	if err != nil {
		return 0, err
	}
	if len(commitments) == 0 {
		return size, nil
	}
	seen := make(map[string]struct{}, len(commitments))
	idxReader := prefixeddb.NewPrefixedReader(s.db, memberIndexPrefix)
	for _, c := range commitments {
		if !inField(c) {
			return 0, fmt.Errorf("invalid commitment %v", c)
		}
		key := commitmentKey(c)
		if _, ok := seen[string(key)]; ok {
			return 0, fmt.Errorf("%w: commitment %s repeated", ErrAlreadyExists, c.String())
		}
		seen[string(key)] = struct{}{}
		if _, err := idxReader.Get(key); err == nil {
			return 0, fmt.Errorf("%w: commitment %s", ErrAlreadyExists, c.String())
		} else if !errors.Is(err, db.ErrKeyNotFound) {
			return 0, err
		}
	}

	wTx := s.db.WriteTx()
	members := prefixeddb.NewPrefixedWriteTx(wTx, memberPrefix)
	index := prefixeddb.NewPrefixedWriteTx(wTx, memberIndexPrefix)
	meta := prefixeddb.NewPrefixedWriteTx(wTx, memberMetaPrefix)
	for _, c := range commitments {
		key := commitmentKey(c)
		if err := members.Set(uint64Key(size), key); err != nil {
			wTx.Discard()
			return 0, err
		}
		if err := index.Set(key, uint64Key(size)); err != nil {
			wTx.Discard()
			return 0, err
		}
		size++
	}
	if err := meta.Set(memberCountKey, uint64Key(size)); err != nil {
		wTx.Discard()
		return 0, err
	}
	if err := wTx.Commit(); err != nil {
		return 0, fmt.Errorf("commit commitments: %w", err)
	}
	return size, nil
}

// Commitments returns the full membership list in registration order.
func (s *Storage) Commitments() ([]*big.Int, error) {
	var list []*big.Int
	if err := prefixeddb.NewPrefixedReader(s.db, memberPrefix).Iterate(nil, func(_, v []byte) bool {
		list = append(list, new(big.Int).SetBytes(v))
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate commitments: %w", err)
	}
	return list, nil
}

// CommitmentIndex returns the registration index of the commitment, or
// ErrNotFound.
func (s *Storage) CommitmentIndex(c *big.Int) (uint64, error) {
	if !inField(c) {
		return 0, ErrNotFound
	}
	v, err := prefixeddb.NewPrefixedReader(s.db, memberIndexPrefix).Get(commitmentKey(c))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

// CommitmentsCount returns the size of the membership list.
func (s *Storage) CommitmentsCount() (uint64, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.commitmentsCount()
}

func (s *Storage) commitmentsCount() (uint64, error) {
	v, err := prefixeddb.NewPrefixedReader(s.db, memberMetaPrefix).Get(memberCountKey)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

func inField(c *big.Int) bool {
	return c != nil && c.Sign() >= 0 && c.Cmp(crypto.FieldModulus) < 0
}

func commitmentKey(c *big.Int) []byte {
	k := make([]byte, 32)
	c.FillBytes(k)
	return k
}
