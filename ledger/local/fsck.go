// Copyright (c) 2017-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package local

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/vaultstamp/vaultstamp/ledger"
)

const (
	FsckActionVersion = 1 // All structure versions

	FsckActionHeader          = "header"
	FsckActionDeleteRecord    = "deleterecord"
	FsckActionDeleteDuplicate = "deleteduplicate"
	FsckActionNormalize       = "normalize"
)

// FsckOptions provides options on how to handle an fsck.
type FsckOptions struct {
	Verbose     bool      // Normal verbosity
	PrintHashes bool      // Prints every hash
	Fix         bool      // Fix fixable errors
	File        string    // Path for the journal of actions
	Out         io.Writer // Report destination, os.Stdout when nil
}

type FsckAction struct {
	Version   uint64 `json:"version"`   // Version of structure
	Timestamp int64  `json:"timestamp"` // Timestamp of action
	Action    string `json:"action"`    // Following JSON command
}

type FsckHeader struct {
	Version uint64 `json:"version"` // Version of structure
	Start   int64  `json:"start"`   // Start of fsck
	DryRun  bool   `json:"dryrun"`  // Dry run
}

type FsckDeleteRecord struct {
	Version uint64             `json:"version"` // Version of structure
	Key     ledger.Owner       `json:"key"`     // Owner the record was filed under
	Record  ledger.ProofRecord `json:"record"`  // Record that was deleted
	Reason  string             `json:"reason"`  // Why it was deleted
}

type FsckDeleteDuplicate struct {
	Version   uint64        `json:"version"`   // Version of structure
	Owner     ledger.Owner  `json:"owner"`     // Owner of both records
	Digest    ledger.Digest `json:"digest"`    // Duplicate digest
	Found     int64         `json:"found"`     // Kept timestamp
	Duplicate int64         `json:"duplicate"` // Deleted timestamp
}

type FsckNormalize struct {
	Version uint64       `json:"version"` // Version of structure
	Owner   ledger.Owner `json:"owner"`   // Owner of the record
	From    string       `json:"from"`    // Stored digest
	To      string       `json:"to"`      // Normalized digest
}

// validJournalAction returns true if the action is a valid FsckAction.
func validJournalAction(action string) bool {
	switch action {
	case FsckActionHeader:
	case FsckActionDeleteRecord:
	case FsckActionDeleteDuplicate:
	case FsckActionNormalize:
	default:
		return false
	}
	return true
}

// journal records what fix occurred at what time if filename != "".
func journal(filename, action string, payload interface{}) error {
	// See if we are journaling
	if filename == "" {
		return nil
	}

	// Sanity
	if !validJournalAction(action) {
		return fmt.Errorf("invalid journal action: %v", action)
	}

	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return err
	}
	defer f.Close()

	// Write FsckAction
	e := json.NewEncoder(f)
	err = e.Encode(FsckAction{
		Version:   FsckActionVersion,
		Timestamp: time.Now().Unix(),
		Action:    action,
	})
	if err != nil {
		return err
	}

	// Write payload
	return e.Encode(payload)
}

// Fsck walks all records and reports records that break the store
// invariants: a record filed under another owner, an empty digest, a non
// positive timestamp, a digest that is not normalized, and a digest that
// appears twice for one owner.  With Fix set the offending records are
// dropped, keeping the earliest of duplicates, and the result is persisted.
// Every action is journaled whether or not Fix is set.  Fsck returns the
// number of problems found.
func (l *Local) Fsck(options *FsckOptions) (int, error) {
	out := options.Out
	if out == nil {
		out = os.Stdout
	}

	l.Lock()
	defer l.Unlock()

	err := journal(options.File, FsckActionHeader, FsckHeader{
		Version: FsckActionVersion,
		Start:   time.Now().Unix(),
		DryRun:  !options.Fix,
	})
	if err != nil {
		return 0, fmt.Errorf("journal: %v", err)
	}

	owners := make([]ledger.Owner, 0, len(l.records))
	for owner := range l.records {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })

	problems := 0
	fixed := make(map[ledger.Owner][]ledger.ProofRecord, len(l.records))
	for _, owner := range owners {
		records := make([]ledger.ProofRecord, len(l.records[owner]))
		copy(records, l.records[owner])
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Timestamp < records[j].Timestamp
		})

		if options.Verbose {
			fmt.Fprintf(out, "--- Owner %v: %v records\n", owner,
				len(records))
		}

		seen := make(map[ledger.Digest]int64, len(records))
		for _, r := range records {
			if options.PrintHashes {
				fmt.Fprintf(out, "Hash           : %v\n", r.Digest)
			}

			var reason string
			switch {
			case owner == "":
				reason = "empty owner"
			case r.Owner != owner:
				reason = fmt.Sprintf("filed under %v", owner)
			case r.Digest == "":
				reason = "empty digest"
			case r.Timestamp <= 0:
				reason = "invalid timestamp"
			}
			if reason != "" {
				problems++
				fmt.Fprintf(out, "   *** ERROR %v: %v %v\n", reason,
					r.Owner, r.Digest)
				err = journal(options.File, FsckActionDeleteRecord,
					FsckDeleteRecord{
						Version: FsckActionVersion,
						Key:     owner,
						Record:  r,
						Reason:  reason,
					})
				if err != nil {
					return 0, fmt.Errorf("journal: %v", err)
				}
				continue
			}

			if n := ledger.NormalizeDigest(string(r.Digest)); n != r.Digest {
				problems++
				fmt.Fprintf(out, "   *** ERROR digest not "+
					"normalized: %v %v\n", owner, r.Digest)
				err = journal(options.File, FsckActionNormalize,
					FsckNormalize{
						Version: FsckActionVersion,
						Owner:   owner,
						From:    string(r.Digest),
						To:      string(n),
					})
				if err != nil {
					return 0, fmt.Errorf("journal: %v", err)
				}
				r.Digest = n
			}

			if found, ok := seen[r.Digest]; ok {
				problems++
				fmt.Fprintf(out, "   *** ERROR duplicate digest: "+
					"%v %v %v %v\n", owner, r.Digest, found,
					r.Timestamp)
				err = journal(options.File, FsckActionDeleteDuplicate,
					FsckDeleteDuplicate{
						Version:   FsckActionVersion,
						Owner:     owner,
						Digest:    r.Digest,
						Found:     found,
						Duplicate: r.Timestamp,
					})
				if err != nil {
					return 0, fmt.Errorf("journal: %v", err)
				}
				continue
			}
			seen[r.Digest] = r.Timestamp
			fixed[owner] = append(fixed[owner], r)
		}
	}

	fmt.Fprintf(out, "=== Owners: %v Problems: %v\n", len(owners), problems)

	if problems == 0 || !options.Fix {
		return problems, nil
	}

	if err := l.persist(fixed); err != nil {
		return problems, err
	}
	l.records = fixed

	log.Infof("Fsck fixed %v problems", problems)

	return problems, nil
}
