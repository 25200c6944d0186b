// Copyright (c) 2017-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/vaultstamp/vaultstamp/ledger"
	"github.com/vaultstamp/vaultstamp/ledger/local"
	"github.com/vaultstamp/vaultstamp/util"
	"github.com/vaultstamp/vaultstamp/wallet"
)

// newTestClient returns a client over a memory store and the buffer it
// prints to.
func newTestClient(t *testing.T, id ledger.Identity) (*client, *bytes.Buffer) {
	t.Helper()

	l, err := local.New(local.NewMemoryKV(), 0)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	return &client{
		id:       id,
		store:    ledger.NewStore(l, 0),
		verifier: ledger.NewVerifier(l, 0),
		out:      &out,
	}, &out
}

func newTestWallet(t *testing.T, name string) *wallet.Wallet {
	t.Helper()

	w, err := wallet.Generate(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestFormatTimestamp(t *testing.T) {
	got := formatTimestamp(1767225600123456789)
	if got != "2026-01-01T00:00:00.123Z" {
		t.Fatalf("got %v", got)
	}
}

func TestResolve(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(filename, []byte("abc"), 0600); err != nil {
		t.Fatal(err)
	}
	abc := ledger.Digest(util.DigestString("abc"))

	d, err := resolve(filename)
	if err != nil {
		t.Fatal(err)
	}
	if d != abc {
		t.Fatalf("got %v want %v", d, abc)
	}

	d, err = resolve("  " + strings.ToUpper(string(abc)) + "\n")
	if err != nil {
		t.Fatal(err)
	}
	if d != abc {
		t.Fatalf("got %v want %v", d, abc)
	}

	for _, arg := range []string{"abc123", "", filepath.Dir(filename)} {
		if _, err = resolve(arg); err == nil {
			t.Fatalf("%q: expected error", arg)
		}
	}
}

func TestUploadWithoutWallet(t *testing.T) {
	c, out := newTestClient(t, wallet.New(filepath.Join(t.TempDir(),
		"missing.json")))

	err := c.upload(context.Background(), "abc123", "")
	if !errors.Is(err, ledger.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("unexpected output %q", out.String())
	}

	err = c.list(context.Background())
	if !errors.Is(err, ledger.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated got %v", err)
	}
}

func TestUploadVerifyList(t *testing.T) {
	w1 := newTestWallet(t, "w1.json")
	c, out := newTestClient(t, w1)
	ctx := context.Background()

	if err := c.upload(ctx, "abc123", "doc.txt"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "abc123 OK") {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	if err := c.upload(ctx, "abc123", "doc.txt"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "abc123 Exists") {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	if err := c.verify(ctx, "abc123", ""); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Verified (own upload)") {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	if err := c.verify(ctx, "zzz999", ""); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "zzz999 Not found") {
		t.Fatalf("unexpected output %q", out.String())
	}

	// A second wallet sees the proof of the first.
	w2 := newTestWallet(t, "w2.json")
	c.id = w2
	out.Reset()
	if err := c.verify(ctx, "abc123", ""); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "own upload") ||
		!strings.Contains(out.String(), string(w1.Owner())) {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	if err := c.list(ctx); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "No uploads found") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestJSONOutput(t *testing.T) {
	w := newTestWallet(t, "id.json")
	c, out := newTestClient(t, w)
	c.json = true
	ctx := context.Background()

	if err := c.upload(ctx, "abc123", ""); err != nil {
		t.Fatal(err)
	}
	var r ledger.ProofRecord
	if err := json.Unmarshal(out.Bytes(), &r); err != nil {
		t.Fatal(err)
	}
	if r.Digest != "abc123" || r.Owner != w.Owner() || r.Timestamp == 0 {
		t.Fatalf("unexpected record %v", spew.Sdump(r))
	}

	out.Reset()
	if err := c.list(ctx); err != nil {
		t.Fatal(err)
	}
	var records []ledger.ProofRecord
	if err := json.Unmarshal(out.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0] != r {
		t.Fatalf("unexpected records %v", spew.Sdump(records))
	}

	out.Reset()
	if err := c.verify(ctx, "zzz999", ""); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "null" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := loadConfig(filepath.Join(dir, "missing.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Wallet != defaultWalletFile {
		t.Fatalf("got wallet %v", cfg.Wallet)
	}

	filename := filepath.Join(dir, "vaultstamp.conf")
	content := "[Application Options]\nhost=ledger.example.com\n" +
		"wallet=/tmp/id.json\n"
	if err = os.WriteFile(filename, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadConfig(filename)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host != "ledger.example.com" || cfg.Wallet != "/tmp/id.json" {
		t.Fatalf("unexpected config %v", spew.Sdump(cfg))
	}

	if err = os.WriteFile(filename, []byte("nope=1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err = loadConfig(filename); err == nil {
		t.Fatalf("expected error for unknown option")
	}
}
