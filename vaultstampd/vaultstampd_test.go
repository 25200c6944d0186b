// Copyright (c) 2017-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	v1 "github.com/vaultstamp/vaultstamp/api/v1"
	"github.com/vaultstamp/vaultstamp/ledger"
	"github.com/vaultstamp/vaultstamp/ledger/local"
	"github.com/vaultstamp/vaultstamp/ledger/remote"
	"github.com/vaultstamp/vaultstamp/util"
	"github.com/vaultstamp/vaultstamp/wallet"
)

var (
	digestABC   = ledger.Digest(util.DigestString("abc"))
	digestHello = ledger.Digest(util.DigestString("hello"))
)

func newTestConfig(t *testing.T) *config {
	cfg := defaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Backend = backendMemory
	cfg.Timeout = 5 * time.Second
	return &cfg
}

// newTestServer starts vaultstampd over a memory store.
func newTestServer(t *testing.T, cfg *config) (*vaultstampd, *httptest.Server) {
	t.Helper()

	b, err := newBackend(cfg)
	if err != nil {
		t.Fatal(err)
	}
	d := newVaultstampd(cfg, b)
	s := httptest.NewServer(d.handler())
	t.Cleanup(func() {
		s.Close()
		d.close()
	})
	return d, s
}

func newTestClient(t *testing.T, s *httptest.Server, signer remote.MetadataSigner) *remote.Remote {
	t.Helper()

	r, err := remote.New(remote.Config{
		Host:    s.URL,
		Timeout: 5 * time.Second,
		Signer:  signer,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func post(t *testing.T, s *httptest.Server, route, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(s.URL+route, "application/json",
		strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatus(t *testing.T) {
	_, s := newTestServer(t, newTestConfig(t))
	r := newTestClient(t, s, nil)

	got, err := r.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != version() {
		t.Fatalf("got version %v want %v", got, version())
	}
}

func TestSubmitVerifyOverHTTP(t *testing.T) {
	_, s := newTestServer(t, newTestConfig(t))
	r := newTestClient(t, s, nil)
	store := ledger.NewStore(r, 0)
	verifier := ledger.NewVerifier(r, 0)
	ctx := context.Background()

	p1, err := store.Submit(ctx, "W1", digestABC)
	if err != nil {
		t.Fatal(err)
	}
	if p1.Timestamp == 0 || p1.Owner != "W1" || p1.Digest != digestABC {
		t.Fatalf("unexpected proof %v", spew.Sdump(p1))
	}

	// Same owner, same digest, different case.
	upper := ledger.Digest(strings.ToUpper(string(digestABC)))
	if _, err = store.Submit(ctx, "W1", upper); !errors.Is(err,
		ledger.ErrDuplicateSubmission) {
		t.Fatalf("expected ErrDuplicateSubmission got %v", err)
	}

	// Another owner may record the same digest.
	p2, err := store.Submit(ctx, "W2", digestABC)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = store.Submit(ctx, "W1", digestHello); err != nil {
		t.Fatal(err)
	}

	uploads, err := store.Uploads(ctx, "W1")
	if err != nil {
		t.Fatal(err)
	}
	if len(uploads) != 2 || uploads[0] != p1 {
		t.Fatalf("unexpected uploads %v", spew.Sdump(uploads))
	}

	// Own records win.
	got, found, err := verifier.Verify(ctx, digestABC, "W2")
	if err != nil {
		t.Fatal(err)
	}
	if !found || got != p2 {
		t.Fatalf("got %v want %v", spew.Sdump(got), spew.Sdump(p2))
	}

	// Global lookup returns the earliest record.
	got, found, err = verifier.Verify(ctx, digestABC, "")
	if err != nil {
		t.Fatal(err)
	}
	if !found || got != p1 {
		t.Fatalf("got %v want %v", spew.Sdump(got), spew.Sdump(p1))
	}

	_, found, err = verifier.Verify(ctx,
		ledger.Digest(util.DigestString("unknown")), "W1")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatalf("unexpected proof")
	}
}

func TestUploadUnauthenticated(t *testing.T) {
	_, s := newTestServer(t, newTestConfig(t))

	body, _ := json.Marshal(v1.Upload{ID: "t", Digest: string(digestABC)})
	resp := post(t, s, v1.UploadRoute, string(body))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %v", resp.Status)
	}
	var ur v1.UploadReply
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		t.Fatal(err)
	}
	if ur.Result != v1.ResultUnauthenticated || ur.Timestamp != 0 {
		t.Fatalf("unexpected reply %v", spew.Sdump(ur))
	}
}

func TestBadRequests(t *testing.T) {
	_, s := newTestServer(t, newTestConfig(t))

	tests := []struct {
		route string
		body  string
	}{
		{v1.UploadRoute, `{`},
		{v1.UploadRoute, `{"digest":"abc","owner":"W1"}`},
		{v1.UploadsRoute, `{"owner":""}`},
		{v1.UploadsRoute, `[`},
		{v1.VerifyRoute, `{"digest":"zz"}`},
		{v1.VerifyRoute, `nope`},
		{v1.StatusRoute, ``},
	}
	for _, test := range tests {
		resp := post(t, s, test.route, test.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%v %q: got status %v", test.route, test.body,
				resp.Status)
		}
		e, err := util.GetError(resp.Body)
		if err != nil || e == "" {
			t.Fatalf("%v %q: no error message: %v", test.route,
				test.body, err)
		}
	}
}

func TestVerifyProofShape(t *testing.T) {
	_, s := newTestServer(t, newTestConfig(t))
	r := newTestClient(t, s, nil)
	p, err := ledger.NewStore(r, 0).Submit(context.Background(), "W1",
		digestABC)
	if err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(v1.Verify{Digest: string(digestABC)})
	resp := post(t, s, v1.VerifyRoute, string(body))
	var vr v1.VerifyReply
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		t.Fatal(err)
	}
	var pair []interface{}
	if err := json.Unmarshal(vr.Proof, &pair); err != nil {
		t.Fatalf("proof is not a pair: %s", vr.Proof)
	}
	if vr.Result != v1.ResultOK || len(pair) != 2 || pair[1] != "W1" {
		t.Fatalf("unexpected reply %v", spew.Sdump(vr))
	}
	pr, err := v1.DecodeProof(vr.Proof)
	if err != nil {
		t.Fatal(err)
	}
	if pr.Timestamp != p.Timestamp {
		t.Fatalf("got timestamp %v want %v", pr.Timestamp, p.Timestamp)
	}

	body, _ = json.Marshal(v1.Verify{Digest: string(digestHello)})
	resp = post(t, s, v1.VerifyRoute, string(body))
	vr = v1.VerifyReply{}
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		t.Fatal(err)
	}
	if vr.Result != v1.ResultDoesntExistError || string(vr.Proof) != "null" {
		t.Fatalf("unexpected reply %v", spew.Sdump(vr))
	}
}

func TestUploadSignature(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.RequireSignature = true
	_, s := newTestServer(t, cfg)
	ctx := context.Background()

	w, err := wallet.Generate(filepath.Join(t.TempDir(), "id.json"))
	if err != nil {
		t.Fatal(err)
	}
	owner := w.Owner()

	signed := ledger.NewStore(newTestClient(t, s, w.SignMetadata), 0)
	if _, err = signed.Submit(ctx, owner, digestABC); err != nil {
		t.Fatal(err)
	}

	// Unsigned uploads are refused.
	unsigned := ledger.NewStore(newTestClient(t, s, nil), 0)
	_, err = unsigned.Submit(ctx, owner, digestHello)
	if !errors.Is(err, remote.ErrRejectedSignature) ||
		!errors.Is(err, ledger.ErrSubmitFailed) {
		t.Fatalf("expected ErrRejectedSignature got %v", err)
	}

	// A signature by another key is refused.
	other, err := wallet.Generate(filepath.Join(t.TempDir(), "other.json"))
	if err != nil {
		t.Fatal(err)
	}
	forged := ledger.NewStore(newTestClient(t, s,
		func(_ ledger.Owner, digest ledger.Digest) (*v1.Metadata, []byte, error) {
			return other.SignMetadata(other.Owner(), digest)
		}), 0)
	_, err = forged.Submit(ctx, owner, digestHello)
	if !errors.Is(err, remote.ErrRejectedSignature) {
		t.Fatalf("expected ErrRejectedSignature got %v", err)
	}

	uploads, err := signed.Uploads(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(uploads) != 1 || uploads[0].Digest != digestABC {
		t.Fatalf("unexpected uploads %v", spew.Sdump(uploads))
	}
}

func TestCORS(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	_, s := newTestServer(t, cfg)

	req, err := http.NewRequest(http.MethodPost, s.URL+v1.StatusRoute,
		bytes.NewReader([]byte(`{"id":"cors"}`)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	got := resp.Header.Get("Access-Control-Allow-Origin")
	if got != "https://app.example.com" {
		t.Fatalf("got allowed origin %q", got)
	}
}

func TestBackup(t *testing.T) {
	cfg := newTestConfig(t)
	d, s := newTestServer(t, cfg)
	store := ledger.NewStore(newTestClient(t, s, nil), 0)
	ctx := context.Background()
	for _, owner := range []ledger.Owner{"W1", "W2"} {
		if _, err := store.Submit(ctx, owner, digestABC); err != nil {
			t.Fatal(err)
		}
	}

	filename, err := d.backup()
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(filename) != filepath.Join(cfg.DataDir,
		defaultBackupDirname) {
		t.Fatalf("unexpected backup location %v", filename)
	}

	f, err := os.Open(filename)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	l, err := local.New(local.NewMemoryKV(), 0)
	if err != nil {
		t.Fatal(err)
	}
	n, err := l.Restore(f)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("restored %v records want 2", n)
	}
	r, found, err := l.LookupByDigest(ctx, digestABC)
	if err != nil || !found {
		t.Fatalf("lookup after restore: %v %v", found, err)
	}
	if r.Owner != "W1" {
		t.Fatalf("earliest owner %v", r.Owner)
	}
}

func TestBackupRemoteBackend(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Backend = backendRemote
	cfg.StoreHost = "localhost"
	b, err := newBackend(cfg)
	if err != nil {
		t.Fatal(err)
	}
	d := newVaultstampd(cfg, b)
	defer d.close()

	if _, err := d.backup(); err == nil {
		t.Fatalf("expected backup error")
	}
}

func TestProxy(t *testing.T) {
	_, upstream := newTestServer(t, newTestConfig(t))

	cfg := newTestConfig(t)
	cfg.Backend = backendRemote
	cfg.StoreHost = upstream.URL
	_, proxy := newTestServer(t, cfg)

	store := ledger.NewStore(newTestClient(t, proxy, nil), 0)
	p, err := store.Submit(context.Background(), "W1", digestABC)
	if err != nil {
		t.Fatal(err)
	}

	// The record lives upstream.
	got, found, err := ledger.NewVerifier(newTestClient(t, upstream, nil),
		0).Verify(context.Background(), digestABC, "")
	if err != nil {
		t.Fatal(err)
	}
	if !found || got != p {
		t.Fatalf("got %v want %v", spew.Sdump(got), spew.Sdump(p))
	}
}

func TestProxyRejectedSignature(t *testing.T) {
	upCfg := newTestConfig(t)
	upCfg.RequireSignature = true
	_, upstream := newTestServer(t, upCfg)

	cfg := newTestConfig(t)
	cfg.Backend = backendRemote
	cfg.StoreHost = upstream.URL
	_, proxy := newTestServer(t, cfg)

	// The proxy forwards without metadata so upstream refuses it.
	store := ledger.NewStore(newTestClient(t, proxy, nil), 0)
	_, err := store.Submit(context.Background(), "W1", digestABC)
	if !errors.Is(err, remote.ErrRejectedSignature) {
		t.Fatalf("expected ErrRejectedSignature got %v", err)
	}

	_, found, err := ledger.NewVerifier(newTestClient(t, upstream, nil),
		0).Verify(context.Background(), digestABC, "")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatalf("rejected upload was recorded")
	}
}

func TestLevelDBBackend(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Backend = backendLevelDB
	b, err := newBackend(cfg)
	if err != nil {
		t.Fatal(err)
	}
	p, err := ledger.NewStore(b, 0).Submit(context.Background(), "W1",
		digestABC)
	if err != nil {
		t.Fatal(err)
	}
	if err = b.Close(); err != nil {
		t.Fatal(err)
	}

	b, err = newBackend(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	got, found, err := b.LookupByDigest(context.Background(), digestABC)
	if err != nil {
		t.Fatal(err)
	}
	if !found || got != p {
		t.Fatalf("got %v want %v", spew.Sdump(got), spew.Sdump(p))
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		apply func(*config)
		valid bool
	}{
		{"defaults", func(*config) {}, true},
		{"unknown backend", func(c *config) { c.Backend = "tape" }, false},
		{"remote without host", func(c *config) {
			c.Backend = backendRemote
		}, false},
		{"remote", func(c *config) {
			c.Backend = backendRemote
			c.StoreHost = "ledger.example.com"
		}, true},
		{"storehost without remote", func(c *config) {
			c.StoreHost = "ledger.example.com"
		}, false},
		{"postgres without host", func(c *config) {
			c.Backend = backendPostgres
		}, false},
		{"negative latency", func(c *config) {
			c.Latency = -time.Second
		}, false},
		{"zero timeout", func(c *config) { c.Timeout = 0 }, false},
		{"backup schedule", func(c *config) {
			c.BackupSchedule = "0 0 * * * *"
		}, true},
		{"bad backup schedule", func(c *config) {
			c.BackupSchedule = "whenever"
		}, false},
		{"backup of postgres", func(c *config) {
			c.Backend = backendPostgres
			c.PostgresHost = "localhost:5432"
			c.BackupSchedule = "0 0 * * * *"
		}, false},
	}
	for _, test := range tests {
		cfg := defaultConfig()
		test.apply(&cfg)
		err := cfg.validate()
		if test.valid != (err == nil) {
			t.Fatalf("%v: got %v", test.name, err)
		}
	}
}

func TestConfigListeners(t *testing.T) {
	cfg := defaultConfig()
	cfg.Backend = backendRemote
	cfg.StoreHost = "ledger.example.com"
	cfg.Listeners = []string{"127.0.0.1", "127.0.0.1:49155", "[::1]:8000"}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	want := []string{"127.0.0.1:49155", "[::1]:8000"}
	if len(cfg.Listeners) != len(want) {
		t.Fatalf("got %v", cfg.Listeners)
	}
	for i := range want {
		if cfg.Listeners[i] != want[i] {
			t.Fatalf("got %v want %v", cfg.Listeners, want)
		}
	}
	if cfg.StoreHost != "ledger.example.com:49155" {
		t.Fatalf("got storehost %v", cfg.StoreHost)
	}

	cfg = defaultConfig()
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if len(cfg.Listeners) != 1 || cfg.Listeners[0] != ":49155" {
		t.Fatalf("got default listeners %v", cfg.Listeners)
	}
}

func TestParseAndSetDebugLevels(t *testing.T) {
	for _, level := range []string{"info", "debug", "VSTD=trace,LDGR=warn"} {
		if err := parseAndSetDebugLevels(level); err != nil {
			t.Fatalf("%v: %v", level, err)
		}
	}
	for _, level := range []string{"loud", "VSTD", "NOPE=info",
		"VSTD=loud"} {
		if err := parseAndSetDebugLevels(level); err == nil {
			t.Fatalf("%v: expected error", level)
		}
	}
	setLogLevels("off")
}
