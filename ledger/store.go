// Copyright (c) 2017-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultTimeout bounds every backend call made by Store and Verifier.
const DefaultTimeout = 30 * time.Second

// ownerLock serializes submissions of a single owner.
type ownerLock struct {
	sync.Mutex
	refs int
}

// Store is the write side of the ledger.  Submissions for the same owner are
// serialized; submissions for different owners proceed concurrently.
type Store struct {
	backend Backend
	timeout time.Duration

	mtx    sync.Mutex
	owners map[Owner]*ownerLock
}

// NewStore returns a Store on top of backend.  A non positive timeout selects
// DefaultTimeout.
func NewStore(backend Backend, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{
		backend: backend,
		timeout: timeout,
		owners:  make(map[Owner]*ownerLock),
	}
}

// lock takes the owner lock and returns the function that releases it.
func (s *Store) lock(owner Owner) func() {
	s.mtx.Lock()
	l, ok := s.owners[owner]
	if !ok {
		l = &ownerLock{}
		s.owners[owner] = l
	}
	l.refs++
	s.mtx.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		s.mtx.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.owners, owner)
		}
		s.mtx.Unlock()
	}
}

// Submit records digest for owner and returns the new proof.  It fails with
// ErrUnauthenticated when owner is empty and with ErrDuplicateSubmission when
// owner already holds digest; in both cases nothing is written.  Backend
// failures are wrapped in ErrSubmitFailed.
func (s *Store) Submit(ctx context.Context, owner Owner, digest Digest) (ProofRecord, error) {
	if owner == "" {
		return ProofRecord{}, ErrUnauthenticated
	}
	digest = NormalizeDigest(string(digest))
	if digest == "" {
		return ProofRecord{}, ErrInvalidDigest
	}

	unlock := s.lock(owner)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r, err := s.backend.Insert(ctx, owner, digest)
	switch {
	case errors.Is(err, ErrDuplicateSubmission):
		log.Debugf("Submit %v: duplicate %v", owner, digest)
		return ProofRecord{}, ErrDuplicateSubmission
	case err != nil:
		log.Errorf("Submit %v %v: %v", owner, digest, err)
		return ProofRecord{}, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	log.Infof("Submit %v: accepted %v %v", owner, digest, r.Timestamp)

	return r, nil
}

// Uploads returns all records of owner ordered by timestamp.
func (s *Store) Uploads(ctx context.Context, owner Owner) ([]ProofRecord, error) {
	if owner == "" {
		return nil, ErrUnauthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	records, err := s.backend.ListByOwner(ctx, owner)
	if err != nil {
		log.Errorf("Uploads %v: %v", owner, err)
		return nil, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})

	return records, nil
}
