// Copyright (c) 2017-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package util

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// DigestBytes returns the lowercase hex encoded SHA256 of b.
func DigestBytes(b []byte) string {
	d := sha256.Sum256(b)
	return hex.EncodeToString(d[:])
}

// DigestString returns the SHA256 of the UTF-8 encoding of s.
func DigestString(s string) string {
	return DigestBytes([]byte(s))
}

// DigestReader consumes r in full and returns the SHA256 of its content.
// The content is read into memory in one go before it is hashed.
func DigestReader(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return DigestBytes(b), nil
}

// DigestFile returns the SHA256 of a file.
func DigestFile(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return DigestReader(f)
}
