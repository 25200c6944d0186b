// Copyright (c) 2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet provides an ed25519 identity for the ledger.  The owner
// string of a wallet is the base58 encoding of its public key and the key
// file holds the 64 byte private key as a JSON array of numbers.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	v1 "github.com/vaultstamp/vaultstamp/api/v1"
	"github.com/vaultstamp/vaultstamp/ledger"
)

var (
	// ErrInvalidOwner is returned when an owner is not a base58 ed25519
	// public key.
	ErrInvalidOwner = errors.New("invalid owner key")

	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")

	_ ledger.Identity = (*Wallet)(nil)
)

// Wallet is a key file backed identity.  It is disconnected until Connect
// loads the key.
type Wallet struct {
	sync.RWMutex

	path string
	key  ed25519.PrivateKey
}

// New returns a disconnected wallet for the key file at path.
func New(path string) *Wallet {
	return &Wallet{path: path}
}

// Generate creates a new key file at path and returns the connected wallet.
// An existing key file is never overwritten.
func Generate(path string) (*Wallet, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(toInts(key))
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, err
	}
	if _, err = f.Write(b); err != nil {
		f.Close()
		return nil, err
	}
	if err = f.Close(); err != nil {
		return nil, err
	}

	return &Wallet{path: path, key: key}, nil
}

// toInts widens b so that it encodes as a JSON array of numbers.
func toInts(b []byte) []int {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return ints
}

// Connect loads the key file.
func (w *Wallet) Connect() error {
	b, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	var ints []int
	if err = json.Unmarshal(b, &ints); err != nil {
		return fmt.Errorf("%v: %w", w.path, err)
	}
	if len(ints) != ed25519.PrivateKeySize {
		return fmt.Errorf("%v: invalid key length %v", w.path, len(ints))
	}
	key := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("%v: invalid key byte %v", w.path, v)
		}
		key[i] = byte(v)
	}

	w.Lock()
	w.key = key
	w.Unlock()

	return nil
}

// Disconnect forgets the key.
func (w *Wallet) Disconnect() {
	w.Lock()
	w.key = nil
	w.Unlock()
}

// Connected satisfies the ledger.Identity interface.
func (w *Wallet) Connected() bool {
	w.RLock()
	defer w.RUnlock()
	return w.key != nil
}

// Owner satisfies the ledger.Identity interface.  It is empty while the
// wallet is disconnected.
func (w *Wallet) Owner() ledger.Owner {
	w.RLock()
	defer w.RUnlock()
	if w.key == nil {
		return ""
	}
	return ledger.Owner(base58.Encode(w.key.Public().(ed25519.PublicKey)))
}

// Sign signs msg with the wallet key.
func (w *Wallet) Sign(msg []byte) ([]byte, error) {
	w.RLock()
	defer w.RUnlock()
	if w.key == nil {
		return nil, ledger.ErrUnauthenticated
	}
	return ed25519.Sign(w.key, msg), nil
}

// PublicKey decodes the public key of owner.
func PublicKey(owner ledger.Owner) (ed25519.PublicKey, error) {
	b, err := base58.Decode(string(owner))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOwner, err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: length %v", ErrInvalidOwner, len(b))
	}
	return ed25519.PublicKey(b), nil
}

// VerifySignature verifies that owner signed msg.
func VerifySignature(owner ledger.Owner, msg, sig []byte) error {
	pk, err := PublicKey(owner)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pk, msg, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// MetadataMessage returns the bytes an owner signs for upload metadata.
func MetadataMessage(md *v1.Metadata) ([]byte, error) {
	if md == nil {
		return nil, fmt.Errorf("no metadata")
	}
	return json.Marshal(md)
}

// SignMetadata returns metadata describing the upload of digest and the
// wallet signature over it.  The result fits remote.MetadataSigner.
func (w *Wallet) SignMetadata(owner ledger.Owner, digest ledger.Digest) (*v1.Metadata, []byte, error) {
	if owner != w.Owner() {
		return nil, nil, fmt.Errorf("%w: not the wallet owner",
			ErrInvalidOwner)
	}

	now := time.Now()
	zone, _ := now.Zone()
	md := &v1.Metadata{
		Hash:      string(digest),
		Timestamp: now.UTC().Format(time.RFC3339),
		DeviceID:  deviceID(),
		Timezone:  zone,
		Locale:    os.Getenv("LANG"),
	}
	msg, err := MetadataMessage(md)
	if err != nil {
		return nil, nil, err
	}
	sig, err := w.Sign(msg)
	if err != nil {
		return nil, nil, err
	}
	return md, sig, nil
}

// VerifyMetadata verifies that owner signed md for digest.
func VerifyMetadata(owner ledger.Owner, digest ledger.Digest, md *v1.Metadata, sig []byte) error {
	if md == nil || ledger.NormalizeDigest(md.Hash) != digest {
		return fmt.Errorf("%w: metadata hash mismatch", ErrInvalidSignature)
	}
	msg, err := MetadataMessage(md)
	if err != nil {
		return err
	}
	return VerifySignature(owner, msg, sig)
}

func deviceID() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
