// Copyright (c) 2017-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/vaultstamp/vaultstamp/ledger"
)

// Record types.
const (
	RecordTypeProof = "proof"

	RecordTypeVersion = 1
)

// RecordType indicates what the next record is in a restore stream. All
// records are dumped prefixed with a RecordType so that they can be simply
// replayed as a journal.
type RecordType struct {
	Version uint   `json:"version"` // Version of RecordType
	Type    string `json:"type"`    // Type or record
}

var errNotEmpty = errors.New("restore destination is not empty")

// sorted returns all records ordered by timestamp, then owner.
//
// This function must be called with the READ lock held.
func (l *Local) sorted() []ledger.ProofRecord {
	all := make([]ledger.ProofRecord, 0, len(l.records))
	for _, records := range l.records {
		all = append(all, records...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Timestamp != all[j].Timestamp {
			return all[i].Timestamp < all[j].Timestamp
		}
		if all[i].Owner != all[j].Owner {
			return all[i].Owner < all[j].Owner
		}
		return all[i].Digest < all[j].Digest
	})
	return all
}

// Dump writes every record to w.  If the human flag is set it pretty prints
// the records, otherwise it writes a JSON journal that Restore accepts.
func (l *Local) Dump(w io.Writer, human bool) error {
	l.RLock()
	defer l.RUnlock()

	e := json.NewEncoder(w)
	for _, r := range l.sorted() {
		if human {
			ts := time.Unix(0, r.Timestamp).UTC().Format(time.RFC3339Nano)
			fmt.Fprintf(w, "Owner      : %v\n", r.Owner)
			fmt.Fprintf(w, "Digest     : %v\n", r.Digest)
			fmt.Fprintf(w, "Timestamp  : %v -> %v\n", r.Timestamp, ts)
			continue
		}

		err := e.Encode(RecordType{
			Version: RecordTypeVersion,
			Type:    RecordTypeProof,
		})
		if err != nil {
			return err
		}
		if err = e.Encode(r); err != nil {
			return err
		}
	}

	return nil
}

// Restore replays a journal produced by Dump into an empty backend and
// persists the result once.  It returns the number of restored records.
func (l *Local) Restore(r io.Reader) (int, error) {
	l.Lock()
	defer l.Unlock()

	if len(l.records) != 0 {
		return 0, errNotEmpty
	}

	records := make(map[ledger.Owner][]ledger.ProofRecord)
	seen := make(map[ledger.Owner]map[ledger.Digest]struct{})
	count := 0
	d := json.NewDecoder(r)
	for {
		var rt RecordType
		err := d.Decode(&rt)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
		if rt.Version != RecordTypeVersion {
			return 0, fmt.Errorf("unsupported record version: %v",
				rt.Version)
		}
		if rt.Type != RecordTypeProof {
			return 0, fmt.Errorf("invalid record type: %v", rt.Type)
		}

		var pr ledger.ProofRecord
		if err = d.Decode(&pr); err != nil {
			return 0, err
		}
		if pr.Owner == "" || pr.Digest == "" {
			return 0, fmt.Errorf("incomplete record: %v", pr)
		}
		pr.Digest = ledger.NormalizeDigest(string(pr.Digest))
		if seen[pr.Owner] == nil {
			seen[pr.Owner] = make(map[ledger.Digest]struct{})
		}
		if _, ok := seen[pr.Owner][pr.Digest]; ok {
			return 0, fmt.Errorf("%w: %v %v",
				ledger.ErrDuplicateSubmission, pr.Owner, pr.Digest)
		}
		seen[pr.Owner][pr.Digest] = struct{}{}
		records[pr.Owner] = append(records[pr.Owner], pr)
		count++
	}

	if err := l.persist(records); err != nil {
		return 0, err
	}
	l.records = records

	log.Infof("Restored %v records", count)

	return count, nil
}
