// Copyright (c) 2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vaultstamp/vaultstamp/ledger"
)

func TestGenerateConnect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet", "id.json")

	w, err := Generate(path)
	if err != nil {
		t.Fatal(err)
	}
	owner, err := ledger.OwnerOf(w)
	if err != nil {
		t.Fatal(err)
	}

	// Never overwrite an existing key.
	if _, err = Generate(path); !os.IsExist(err) {
		t.Fatalf("expected exists error got %v", err)
	}

	w2 := New(path)
	if w2.Connected() || w2.Owner() != "" {
		t.Fatalf("new wallet must start disconnected")
	}
	if _, err = ledger.OwnerOf(w2); !errors.Is(err,
		ledger.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated got %v", err)
	}
	if err = w2.Connect(); err != nil {
		t.Fatal(err)
	}
	if w2.Owner() != owner {
		t.Fatalf("got owner %v want %v", w2.Owner(), owner)
	}

	w2.Disconnect()
	if w2.Connected() {
		t.Fatalf("still connected")
	}
	if _, err = w2.Sign([]byte("x")); !errors.Is(err,
		ledger.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated got %v", err)
	}
}

func TestSignVerify(t *testing.T) {
	w, err := Generate(filepath.Join(t.TempDir(), "id.json"))
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte(`{"hash":"abc"}`)
	sig, err := w.Sign(msg)
	if err != nil {
		t.Fatal(err)
	}
	if err = VerifySignature(w.Owner(), msg, sig); err != nil {
		t.Fatal(err)
	}

	err = VerifySignature(w.Owner(), []byte(`{"hash":"abd"}`), sig)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature got %v", err)
	}

	other, err := Generate(filepath.Join(t.TempDir(), "other.json"))
	if err != nil {
		t.Fatal(err)
	}
	err = VerifySignature(other.Owner(), msg, sig)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature got %v", err)
	}

	for _, owner := range []ledger.Owner{"", "0OIl", "abc"} {
		err = VerifySignature(owner, msg, sig)
		if !errors.Is(err, ErrInvalidOwner) {
			t.Fatalf("%q: expected ErrInvalidOwner got %v", owner,
				err)
		}
	}
}

func TestConnectBadKeyFile(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"notjson": "{",
		"short":   "[1,2,3]",
	}
	for name, content := range tests {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
		if err := New(path).Connect(); err == nil {
			t.Fatalf("%v: expected error", name)
		}
	}
	if err := New(filepath.Join(dir, "missing")).Connect(); err == nil {
		t.Fatalf("expected error for missing key file")
	}
}

func TestSignMetadata(t *testing.T) {
	w, err := Generate(filepath.Join(t.TempDir(), "id.json"))
	if err != nil {
		t.Fatal(err)
	}
	digest := ledger.Digest("2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")

	md, sig, err := w.SignMetadata(w.Owner(), digest)
	if err != nil {
		t.Fatal(err)
	}
	if md.Hash != string(digest) {
		t.Fatalf("got hash %v", md.Hash)
	}
	if err = VerifyMetadata(w.Owner(), digest, md, sig); err != nil {
		t.Fatal(err)
	}

	// Metadata for another digest must not verify.
	err = VerifyMetadata(w.Owner(), ledger.Digest("00"), md, sig)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature got %v", err)
	}

	// Tampered metadata.
	md.DeviceID = "elsewhere"
	err = VerifyMetadata(w.Owner(), digest, md, sig)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature got %v", err)
	}

	if _, _, err = w.SignMetadata("someone", digest); !errors.Is(err,
		ErrInvalidOwner) {
		t.Fatalf("expected ErrInvalidOwner got %v", err)
	}
}
