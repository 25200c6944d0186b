// Copyright (c) 2017-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"context"
	"fmt"
	"time"
)

// Verifier resolves digests to proof records.
type Verifier struct {
	backend Backend
	timeout time.Duration
}

// NewVerifier returns a Verifier on top of backend.  A non positive timeout
// selects DefaultTimeout.
func NewVerifier(backend Backend, timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Verifier{
		backend: backend,
		timeout: timeout,
	}
}

// Verify returns the proof record for digest.  When requester is set its own
// records are consulted first and a match is returned without a global
// lookup.  A failure to list the requester's records is logged and the
// global lookup is tried instead.  The boolean is false when no record
// exists; that is not an error.  A failed global lookup is wrapped in
// ErrLookupFailed and is not retried.
func (v *Verifier) Verify(ctx context.Context, digest Digest, requester Owner) (ProofRecord, bool, error) {
	digest = NormalizeDigest(string(digest))
	if digest == "" {
		return ProofRecord{}, false, ErrInvalidDigest
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	if requester != "" {
		records, err := v.backend.ListByOwner(ctx, requester)
		if err != nil {
			// Fall back to the global lookup.
			log.Warnf("Verify %v: list %v: %v", digest, requester, err)
		} else if r, ok := findDigest(records, digest); ok {
			log.Debugf("Verify %v: found in own records of %v",
				digest, requester)
			return r, true, nil
		}
	}

	r, found, err := v.backend.LookupByDigest(ctx, digest)
	if err != nil {
		log.Errorf("Verify %v: %v", digest, err)
		return ProofRecord{}, false, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	if !found {
		log.Debugf("Verify %v: not found", digest)
		return ProofRecord{}, false, nil
	}

	return r, true, nil
}
