// Copyright (c) 2020-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vaultstamp/vaultstamp/ledger"
)

const (
	createProofsTable = `CREATE TABLE IF NOT EXISTS proofs (
				owner     TEXT   NOT NULL,
				digest    TEXT   NOT NULL,
				timestamp BIGINT NOT NULL,
				PRIMARY KEY (owner, digest))`

	createDigestIndex = `CREATE INDEX IF NOT EXISTS proofs_digest_idx
				ON proofs (digest, timestamp)`
)

// createTables creates the schema if it does not exist yet.
func (pg *Postgres) createTables(ctx context.Context) error {
	for _, q := range []string{createProofsTable, createDigestIndex} {
		if _, err := pg.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// insertProof inserts r unless (owner, digest) already exists.  It returns
// false, without error, for an existing proof.
func (pg *Postgres) insertProof(ctx context.Context, r ledger.ProofRecord) (bool, error) {
	q := `INSERT INTO proofs (owner, digest, timestamp)
				VALUES($1, $2, $3)
				ON CONFLICT (owner, digest) DO NOTHING
				RETURNING timestamp`

	var ts int64
	err := pg.db.QueryRowContext(ctx, q, string(r.Owner),
		string(r.Digest), r.Timestamp).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// getProofsByOwner returns all proofs of owner ordered by timestamp.
func (pg *Postgres) getProofsByOwner(ctx context.Context, owner ledger.Owner) ([]ledger.ProofRecord, error) {
	q := `SELECT digest, timestamp FROM proofs
				WHERE owner = $1
				ORDER BY timestamp ASC`

	rows, err := pg.db.QueryContext(ctx, q, string(owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ledger.ProofRecord
	for rows.Next() {
		r := ledger.ProofRecord{Owner: owner}
		if err = rows.Scan(&r.Digest, &r.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// getFirstProof returns the earliest proof of digest.
func (pg *Postgres) getFirstProof(ctx context.Context, digest ledger.Digest) (ledger.ProofRecord, bool, error) {
	q := `SELECT owner, timestamp FROM proofs
				WHERE digest = $1
				ORDER BY timestamp ASC, owner ASC
				LIMIT 1`

	r := ledger.ProofRecord{Digest: digest}
	err := pg.db.QueryRowContext(ctx, q, string(digest)).Scan(&r.Owner,
		&r.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ProofRecord{}, false, nil
	}
	if err != nil {
		return ledger.ProofRecord{}, false, err
	}
	return r, true, nil
}
