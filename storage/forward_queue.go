package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/vocdoni/anonsignal/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
	"go.vocdoni.io/dvote/log"
)

// ForwardJob is an accepted message waiting to be delivered to the ledger.
// Its proof and nullifier have already been checked, the job is only
// retried, never verified again.
type ForwardJob struct {
	ID                string              `cbor:"0,keyasint"`
	Signal            types.HexBytes      `cbor:"1,keyasint"`
	NullifierHash     *types.BigInt       `cbor:"2,keyasint"`
	Root              *types.BigInt       `cbor:"3,keyasint"`
	Proof             types.SolidityProof `cbor:"4,keyasint"`
	Attempts          int                 `cbor:"5,keyasint"`
	CreatedAt         int64               `cbor:"6,keyasint"`
	ExternalNullifier *types.BigInt       `cbor:"7,keyasint"`
}

// ForwardReceipt is the outcome of a forward job. TxRef is empty when the
// ledger had recorded the message on an attempt whose answer was lost.
type ForwardReceipt struct {
	ID     string `cbor:"0,keyasint"`
	TxRef  string `cbor:"1,keyasint,omitempty"`
	Error  string `cbor:"2,keyasint,omitempty"`
	DoneAt int64  `cbor:"3,keyasint"`
}

// PushForwardJob stores a new job at the end of the forward queue.
func (s *Storage) PushForwardJob(job *ForwardJob) error {
	_, err := s.pushForwardJob(job, false)
	return err
}

// HoldForwardJob stores a new job at the end of the forward queue, reserved
// in the same transaction, so NextForwardJob skips it. The returned key is
// used to release the job with ReleaseForwardJob or to drop it with
// MarkForwardJobDone. A held job left by a crash is released by
// RecoverForwardJobs.
func (s *Storage) HoldForwardJob(job *ForwardJob) ([]byte, error) {
	return s.pushForwardJob(job, true)
}

func (s *Storage) pushForwardJob(job *ForwardJob, hold bool) ([]byte, error) {
	if job == nil || job.ID == "" {
		return nil, fmt.Errorf("invalid forward job")
	}
	if job.CreatedAt == 0 {
		job.CreatedAt = time.Now().Unix()
	}
	val, err := encodeArtifact(job)
	if err != nil {
		return nil, fmt.Errorf("encode forward job: %w", err)
	}

	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	seq, err := s.nextForwardSequence()
	if err != nil {
		return nil, err
	}
	key := uint64Key(seq)
	wTx := s.db.WriteTx()
	defer wTx.Discard()
	queue := prefixeddb.NewPrefixedWriteTx(wTx, forwardPrefix)
	meta := prefixeddb.NewPrefixedWriteTx(wTx, memberMetaPrefix)
	if err := queue.Set(key, val); err != nil {
		return nil, err
	}
	if hold {
		reservations := prefixeddb.NewPrefixedWriteTx(wTx, forwardReservPrefix)
		if err := reservations.Set(key, reservationValue); err != nil {
			return nil, err
		}
	}
	if err := meta.Set(forwardSequenceKey, uint64Key(seq+1)); err != nil {
		return nil, err
	}
	if err := wTx.Commit(); err != nil {
		return nil, err
	}
	return key, nil
}

// ForwardJobs returns every job in the queue, reserved or not, oldest first.
func (s *Storage) ForwardJobs() ([]*ForwardJob, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	var (
		jobs      []*ForwardJob
		decodeErr error
	)
	if err := prefixeddb.NewPrefixedReader(s.db, forwardPrefix).Iterate(nil, func(_, v []byte) bool {
		var job ForwardJob
		if decodeErr = decodeArtifact(v, &job); decodeErr != nil {
			return false
		}
		jobs = append(jobs, &job)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate forward jobs: %w", err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode forward job: %w", decodeErr)
	}
	return jobs, nil
}

// NextForwardJob returns the oldest non-reserved job, creates a reservation,
// and returns it with its key. If no jobs are available, returns
// ErrNoMoreElements. The key is used to mark the job as done or to release
// it for a later retry.
func (s *Storage) NextForwardJob() (*ForwardJob, []byte, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	pr := prefixeddb.NewPrefixedReader(s.db, forwardPrefix)
	var chosenKey, chosenVal []byte
	if err := pr.Iterate(nil, func(k, v []byte) bool {
		if s.isReserved(forwardReservPrefix, k) {
			return true
		}
		chosenKey = append([]byte(nil), k...)
		chosenVal = append([]byte(nil), v...)
		return false
	}); err != nil {
		return nil, nil, fmt.Errorf("iterate forward jobs: %w", err)
	}
	if chosenVal == nil {
		return nil, nil, ErrNoMoreElements
	}

	var job ForwardJob
	if err := decodeArtifact(chosenVal, &job); err != nil {
		return nil, nil, fmt.Errorf("decode forward job: %w", err)
	}
	if err := s.setReservation(forwardReservPrefix, chosenKey); err != nil {
		return nil, nil, ErrNoMoreElements
	}
	return &job, chosenKey, nil
}

// ReleaseForwardJob stores the updated job (attempt counter) and removes its
// reservation, so it is picked again by NextForwardJob.
func (s *Storage) ReleaseForwardJob(k []byte, job *ForwardJob) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	if err := s.setArtifact(forwardPrefix, k, job); err != nil {
		return fmt.Errorf("update forward job: %w", err)
	}
	if err := s.deleteArtifact(forwardReservPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete forward reservation: %w", err)
	}
	return nil
}

// MarkForwardJobDone removes the job and its reservation from the queue and
// stores the receipt, which can be queried by job ID.
func (s *Storage) MarkForwardJobDone(k []byte, receipt *ForwardReceipt) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	if err := s.deleteArtifact(forwardReservPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete forward reservation: %w", err)
	}
	if err := s.deleteArtifact(forwardPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete forward job: %w", err)
	}
	if receipt == nil {
		return nil
	}
	if receipt.DoneAt == 0 {
		receipt.DoneAt = time.Now().Unix()
	}
	return s.setArtifact(forwardReceiptPrefix, []byte(receipt.ID), receipt)
}

// ForwardReceipt returns the receipt of a finished job, or ErrNotFound.
func (s *Storage) ForwardReceipt(id string) (*ForwardReceipt, error) {
	var receipt ForwardReceipt
	if err := s.getArtifact(forwardReceiptPrefix, []byte(id), &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// PendingForwardJobs returns the number of jobs in the queue, reserved or not.
func (s *Storage) PendingForwardJobs() int {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	count := 0
	if err := prefixeddb.NewPrefixedReader(s.db, forwardPrefix).Iterate(nil, func(_, _ []byte) bool {
		count++
		return true
	}); err != nil {
		log.Warnw("failed to count forward jobs", "error", err.Error())
	}
	return count
}

// RecoverForwardJobs drops the reservations left by a previous run, so jobs
// that were in flight during a crash are forwarded again.
func (s *Storage) RecoverForwardJobs() (int, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.clearReservations(forwardReservPrefix)
}

func (s *Storage) nextForwardSequence() (uint64, error) {
	v, err := prefixeddb.NewPrefixedReader(s.db, memberMetaPrefix).Get(forwardSequenceKey)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}
