// Copyright (c) 2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// RawMessage is a raw encoded JSON value.
type RawMessage = json.RawMessage

// ErrUnrecognizedProof is returned by DecodeProof for a proof in an unknown
// shape.
var ErrUnrecognizedProof = errors.New("unrecognized proof shape")

// ProofResult is the normalized verification answer of a ledger.
type ProofResult struct {
	Present   bool
	Timestamp int64 // Nanoseconds since the Unix epoch
	Owner     string
}

// MarshalJSON encodes a present proof as a bare [timestamp, owner] pair and
// an absent one as null.
func (p ProofResult) MarshalJSON() ([]byte, error) {
	if !p.Present {
		return []byte("null"), nil
	}
	return json.Marshal([]interface{}{p.Timestamp, p.Owner})
}

// UnmarshalJSON accepts every shape DecodeProof accepts.
func (p *ProofResult) UnmarshalJSON(b []byte) error {
	r, err := DecodeProof(b)
	if err != nil {
		return err
	}
	*p = r
	return nil
}

// DecodeProof normalizes the proof shapes that ledgers return:
//
//	[timestamp, owner]
//	{"Ok": [timestamp, owner]}
//	{"Some": [timestamp, owner]}
//
// Sibling keys next to Ok or Some are ignored and Ok wins over Some.  The
// timestamp may be a JSON number or a decimal string.  null, [],
// {"None": ...} and {"Err": ...} mean there is no proof.  Anything else
// returns ErrUnrecognizedProof.
func DecodeProof(b []byte) (ProofResult, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return ProofResult{}, nil
	}

	switch b[0] {
	case '[':
		return decodePair(b, true)
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(b, &m); err != nil {
			return ProofResult{}, fmt.Errorf("%w: %v",
				ErrUnrecognizedProof, err)
		}
		if v, ok := m["Ok"]; ok {
			return decodePair(v, false)
		}
		if v, ok := m["Some"]; ok {
			return decodePair(v, false)
		}
		if _, ok := m["None"]; ok {
			return ProofResult{}, nil
		}
		if _, ok := m["Err"]; ok {
			return ProofResult{}, nil
		}
	}

	return ProofResult{}, fmt.Errorf("%w: %s", ErrUnrecognizedProof, b)
}

// decodePair decodes a [timestamp, owner] pair.  An empty array is an
// absent proof only where allowEmpty is set.
func decodePair(b []byte, allowEmpty bool) (ProofResult, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return ProofResult{}, fmt.Errorf("%w: %v", ErrUnrecognizedProof,
			err)
	}
	if len(pair) == 0 && allowEmpty {
		return ProofResult{}, nil
	}
	if len(pair) != 2 {
		return ProofResult{}, fmt.Errorf("%w: %s", ErrUnrecognizedProof, b)
	}

	ts, err := decodeTimestamp(pair[0])
	if err != nil {
		return ProofResult{}, err
	}
	var owner string
	if err := json.Unmarshal(pair[1], &owner); err != nil {
		return ProofResult{}, fmt.Errorf("%w: owner: %v",
			ErrUnrecognizedProof, err)
	}

	return ProofResult{
		Present:   true,
		Timestamp: ts,
		Owner:     owner,
	}, nil
}

// decodeTimestamp decodes a nanosecond timestamp encoded either as a JSON
// number or as a decimal string.
func decodeTimestamp(b []byte) (int64, error) {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		s = string(bytes.TrimSpace(b))
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: timestamp: %v", ErrUnrecognizedProof,
			err)
	}
	return ts, nil
}
