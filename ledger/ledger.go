// Copyright (c) 2017-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ledger implements the content-addressed proof ledger.  A proof
// records that an owner submitted a digest at a given time.  Records are
// unique per (owner, digest) and are kept by a Backend, which may be a local
// persisted store or a remote ledger.
package ledger

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnauthenticated is returned when no owner identity is available.
	ErrUnauthenticated = errors.New("wallet not connected")

	// ErrDuplicateSubmission is returned when the owner already holds a
	// record for the digest.
	ErrDuplicateSubmission = errors.New("digest already submitted by this owner")

	// ErrInvalidDigest is returned for an empty digest.
	ErrInvalidDigest = errors.New("invalid digest")

	// ErrSubmitFailed wraps backend failures during insert.
	ErrSubmitFailed = errors.New("submit failed")

	// ErrLookupFailed wraps backend failures during reads.
	ErrLookupFailed = errors.New("lookup failed")
)

// Digest is the lowercase hex SHA256 of a document.
type Digest string

// NormalizeDigest folds d to its canonical lowercase form.
func NormalizeDigest(d string) Digest {
	return Digest(strings.ToLower(strings.TrimSpace(d)))
}

// Owner identifies the submitting wallet.  It is only ever compared for
// equality.
type Owner string

// ProofRecord proves that Owner submitted Digest at Timestamp.  Timestamp is
// in nanoseconds since the Unix epoch.
type ProofRecord struct {
	Digest    Digest `json:"digest"`
	Owner     Owner  `json:"owner"`
	Timestamp int64  `json:"timestamp"`
}

// Backend is the storage capability shared by all ledger backends.
type Backend interface {
	// Insert stores a new record for (owner, digest) and returns it.  The
	// check for an existing record and the write must be atomic; if the
	// owner already holds the digest ErrDuplicateSubmission is returned
	// and nothing is written.  The backend assigns the timestamp and does
	// not return until the record is durable.
	Insert(ctx context.Context, owner Owner, digest Digest) (ProofRecord, error)

	// ListByOwner returns all records of owner.
	ListByOwner(ctx context.Context, owner Owner) ([]ProofRecord, error)

	// LookupByDigest returns a record for digest regardless of owner.
	LookupByDigest(ctx context.Context, digest Digest) (ProofRecord, bool, error)

	// Close performs cleanup of the backend.
	Close() error
}

// Identity is the view of a wallet the ledger needs.
type Identity interface {
	Owner() Owner
	Connected() bool
}

// OwnerOf returns the owner of a connected identity.
func OwnerOf(id Identity) (Owner, error) {
	if id == nil || !id.Connected() || id.Owner() == "" {
		return "", ErrUnauthenticated
	}
	return id.Owner(), nil
}

// findDigest returns the record in records that matches digest.
func findDigest(records []ProofRecord, digest Digest) (ProofRecord, bool) {
	for _, r := range records {
		if r.Digest == digest {
			return r, true
		}
	}
	return ProofRecord{}, false
}
