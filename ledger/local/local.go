// Copyright (c) 2017-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package local implements a ledger backend that keeps the owner to records
// mapping in memory and persists all of it through a KV on every insert.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vaultstamp/vaultstamp/ledger"
)

// ProofsKey is the KV key holding the JSON encoded owner to records mapping.
const ProofsKey = "vaultstamp.proofs"

var (
	_ ledger.Backend = (*Local)(nil)

	errInvalidDB = errors.New("not a database")
)

// Local is a ledger backend on top of a KV.  All writes are serialized by the
// mutex, which makes Insert an atomic insert-if-absent.
type Local struct {
	sync.RWMutex

	kv      KV
	records map[ledger.Owner][]ledger.ProofRecord
	latency time.Duration // Simulated latency of every call

	// testing only entries
	myNow func() time.Time // Override time.Now()
}

// decodeRecords decodes the persisted mapping.
func decodeRecords(payload string) (map[ledger.Owner][]ledger.ProofRecord, error) {
	records := make(map[ledger.Owner][]ledger.ProofRecord)
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// New returns a Local backend that loads its state from kv.  Every call is
// delayed by latency to mimic a remote round trip; use zero to disable.
func New(kv KV, latency time.Duration) (*Local, error) {
	l := &Local{
		kv:      kv,
		records: make(map[ledger.Owner][]ledger.ProofRecord),
		latency: latency,
		myNow:   time.Now,
	}

	payload, found, err := kv.Get(ProofsKey)
	if err != nil {
		return nil, err
	}
	if found {
		l.records, err = decodeRecords(payload)
		if err != nil {
			return nil, fmt.Errorf("decode %v: %w", ProofsKey, err)
		}
	}

	log.Infof("Loaded %v owners", len(l.records))

	return l, nil
}

// wait simulates latency.
func (l *Local) wait(ctx context.Context) error {
	if l.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(l.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// persist writes records to the KV.
//
// This function must be called with the WRITE lock held.
func (l *Local) persist(records map[ledger.Owner][]ledger.ProofRecord) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return l.kv.Set(ProofsKey, string(payload))
}

// Insert satisfies the ledger.Backend interface.  The in memory state is only
// replaced once the KV accepted the new mapping.
func (l *Local) Insert(ctx context.Context, owner ledger.Owner, digest ledger.Digest) (ledger.ProofRecord, error) {
	if err := l.wait(ctx); err != nil {
		return ledger.ProofRecord{}, err
	}

	l.Lock()
	defer l.Unlock()

	existing := l.records[owner]
	for _, r := range existing {
		if r.Digest == digest {
			return ledger.ProofRecord{}, ledger.ErrDuplicateSubmission
		}
	}

	r := ledger.ProofRecord{
		Digest:    digest,
		Owner:     owner,
		Timestamp: l.myNow().UnixNano(),
	}

	updated := make(map[ledger.Owner][]ledger.ProofRecord, len(l.records)+1)
	for k, v := range l.records {
		updated[k] = v
	}
	owned := make([]ledger.ProofRecord, 0, len(existing)+1)
	owned = append(owned, existing...)
	updated[owner] = append(owned, r)

	if err := l.persist(updated); err != nil {
		return ledger.ProofRecord{}, err
	}
	l.records = updated

	log.Debugf("Insert %v %v %v", owner, digest, r.Timestamp)

	return r, nil
}

// ListByOwner satisfies the ledger.Backend interface.
func (l *Local) ListByOwner(ctx context.Context, owner ledger.Owner) ([]ledger.ProofRecord, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}

	l.RLock()
	defer l.RUnlock()

	return append([]ledger.ProofRecord(nil), l.records[owner]...), nil
}

// LookupByDigest satisfies the ledger.Backend interface.  There is no digest
// index so every owner is scanned.  When several owners hold the digest the
// earliest record is returned.
func (l *Local) LookupByDigest(ctx context.Context, digest ledger.Digest) (ledger.ProofRecord, bool, error) {
	if err := l.wait(ctx); err != nil {
		return ledger.ProofRecord{}, false, err
	}

	l.RLock()
	defer l.RUnlock()

	var (
		found bool
		first ledger.ProofRecord
	)
	for _, records := range l.records {
		for _, r := range records {
			if r.Digest != digest {
				continue
			}
			if !found || r.Timestamp < first.Timestamp ||
				(r.Timestamp == first.Timestamp && r.Owner < first.Owner) {
				first = r
				found = true
			}
		}
	}

	return first, found, nil
}

// Close satisfies the ledger.Backend interface and closes the KV.
func (l *Local) Close() error {
	// Block until last command is complete.
	l.Lock()
	defer l.Unlock()
	defer log.Infof("Exiting")

	return l.kv.Close()
}
