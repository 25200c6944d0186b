// Copyright (c) 2020-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package postgres implements a ledger backend on a PostgreSQL database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"github.com/vaultstamp/vaultstamp/ledger"
)

var _ ledger.Backend = (*Postgres)(nil)

// Postgres is a postgreSQL implementation of a backend.  All proofs live in
// the proofs table whose primary key (owner, digest) makes inserts atomic.
type Postgres struct {
	db *sql.DB

	// testing only entries
	myNow func() time.Time // Override time.Now()
}

// Insert satisfies the ledger.Backend interface.
func (pg *Postgres) Insert(ctx context.Context, owner ledger.Owner, digest ledger.Digest) (ledger.ProofRecord, error) {
	r := ledger.ProofRecord{
		Digest:    digest,
		Owner:     owner,
		Timestamp: pg.myNow().UnixNano(),
	}
	inserted, err := pg.insertProof(ctx, r)
	if err != nil {
		return ledger.ProofRecord{}, err
	}
	if !inserted {
		return ledger.ProofRecord{}, ledger.ErrDuplicateSubmission
	}

	log.Debugf("Insert %v %v %v", owner, digest, r.Timestamp)

	return r, nil
}

// ListByOwner satisfies the ledger.Backend interface.
func (pg *Postgres) ListByOwner(ctx context.Context, owner ledger.Owner) ([]ledger.ProofRecord, error) {
	return pg.getProofsByOwner(ctx, owner)
}

// LookupByDigest satisfies the ledger.Backend interface.  The earliest record
// is returned when several owners hold the digest.
func (pg *Postgres) LookupByDigest(ctx context.Context, digest ledger.Digest) (ledger.ProofRecord, bool, error) {
	return pg.getFirstProof(ctx, digest)
}

// Close satisfies the ledger.Backend interface.
func (pg *Postgres) Close() error {
	defer log.Infof("Exiting")
	return pg.db.Close()
}

func buildQueryString(rootCert, cert, key string) string {
	v := url.Values{}
	if rootCert == "" {
		v.Set("sslmode", "disable")
		return v.Encode()
	}
	v.Set("sslmode", "require")
	v.Set("sslrootcert", filepath.Clean(rootCert))
	v.Set("sslcert", filepath.Clean(cert))
	v.Set("sslkey", filepath.Clean(key))
	return v.Encode()
}

// internalNew opens dsn and creates the schema.
func internalNew(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %v", err)
	}

	pg := &Postgres{
		db:    db,
		myNow: time.Now,
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		ledger.DefaultTimeout)
	defer cancel()
	if err = pg.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return pg, nil
}

// New connects to database dbName on host as user.  TLS client certificates
// are used when rootCert is set.  The caller should issue a Close once the
// Postgres backend is no longer needed.
func New(user, host, dbName, rootCert, cert, key string) (*Postgres, error) {
	log.Tracef("New: %v %v %v %v %v %v", user, host, dbName, rootCert,
		cert, key)

	h := "postgresql://" + user + "@" + host + "/" + dbName
	u, err := url.Parse(h)
	if err != nil {
		return nil, fmt.Errorf("parse url '%v': %v", h, err)
	}
	addr := u.String() + "?" + buildQueryString(rootCert, cert, key)

	return internalNew(addr)
}
