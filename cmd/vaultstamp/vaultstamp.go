// Copyright (c) 2017-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	v1 "github.com/vaultstamp/vaultstamp/api/v1"
	"github.com/vaultstamp/vaultstamp/ledger"
	"github.com/vaultstamp/vaultstamp/ledger/local"
	"github.com/vaultstamp/vaultstamp/ledger/remote"
	"github.com/vaultstamp/vaultstamp/util"
	"github.com/vaultstamp/vaultstamp/wallet"
)

const (
	vaultstampClientID = "vaultstamp cli"

	// isoMillis matches the millisecond ISO 8601 form used for display.
	isoMillis = "2006-01-02T15:04:05.000Z07:00"
)

var (
	configFile = flag.String("C", defaultConfigFile, "Configuration file")
	host       = flag.String("h", "", "Ledger host")
	cert       = flag.String("cert", "", "Ledger host https certificate")
	skipVerify = flag.Bool("skipverify", false, "Skip TLS verification")
	localDir   = flag.String("local", "", "Use the leveldb store in "+
		"this directory instead of a ledger host")
	walletFile = flag.String("wallet", "", "Wallet key file")
	newWallet  = flag.Bool("newwallet", false, "Create a new wallet key "+
		"file and exit")
	digest = flag.String("digest", "", "Submit or verify a raw 256 bit "+
		"digest instead of hashing a file")
	verifyMode = flag.Bool("verify", false, "Verify arguments instead of "+
		"uploading them")
	list      = flag.Bool("list", false, "List the uploads of the wallet")
	unsigned  = flag.Bool("unsigned", false, "Do not sign upload metadata")
	printJSON = flag.Bool("json", false, "Print JSON results")
	verbose   = flag.Bool("v", false, "Verbose")
	timeout   = flag.Duration("timeout", ledger.DefaultTimeout,
		"Bound on every ledger operation")
)

// client ties the ledger operations to the terminal.
type client struct {
	id       ledger.Identity
	store    *ledger.Store
	verifier *ledger.Verifier
	out      io.Writer
	json     bool
	verbose  bool
}

// formatTimestamp renders a nanosecond timestamp at millisecond precision.
func formatTimestamp(ns int64) string {
	return time.UnixMilli(ns / int64(time.Millisecond)).UTC().Format(isoMillis)
}

// normalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.
func normalizeAddress(addr, defaultPort string) string {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// isFile determines if the provided filename points to a valid file.
func isFile(filename string) bool {
	fi, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular()
}

// isDigest determines if a string is a valid SHA256 digest.
func isDigest(digest string) bool {
	return v1.RegexpSHA256.MatchString(digest)
}

// resolve returns the digest of a file argument or the normalized digest
// argument itself.
func resolve(arg string) (ledger.Digest, error) {
	if isFile(arg) {
		d, err := util.DigestFile(arg)
		if err != nil {
			return "", err
		}
		return ledger.Digest(d), nil
	}
	n := ledger.NormalizeDigest(arg)
	if isDigest(string(n)) {
		return n, nil
	}
	return "", fmt.Errorf("%v is not a digest or valid file", arg)
}

func (c *client) printRecord(r ledger.ProofRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, string(b))
	return nil
}

// upload submits digest on behalf of the wallet owner.
func (c *client) upload(ctx context.Context, digest ledger.Digest, name string) error {
	owner, err := ledger.OwnerOf(c.id)
	if err != nil {
		return fmt.Errorf("please connect a wallet to upload "+
			"(vaultstamp -newwallet): %w", err)
	}

	r, err := c.store.Submit(ctx, owner, digest)
	switch {
	case errors.Is(err, ledger.ErrDuplicateSubmission):
		fmt.Fprintf(c.out, "%v Exists %v\n", digest, name)
		return nil
	case err != nil:
		return fmt.Errorf("upload %v: %w", digest, err)
	}

	if c.json {
		return c.printRecord(r)
	}
	fmt.Fprintf(c.out, "%v OK     %v\n", digest, name)
	if c.verbose {
		fmt.Fprintf(c.out, "  %-15v: %v\n", "Timestamp",
			formatTimestamp(r.Timestamp))
		fmt.Fprintf(c.out, "  %-15v: %v\n", "Owner", r.Owner)
	}
	return nil
}

// verify looks up digest, preferring the uploads of the wallet owner.
func (c *client) verify(ctx context.Context, digest ledger.Digest, name string) error {
	var requester ledger.Owner
	if c.id != nil && c.id.Connected() {
		requester = c.id.Owner()
	}

	r, found, err := c.verifier.Verify(ctx, digest, requester)
	if err != nil {
		return fmt.Errorf("verify %v: %w", digest, err)
	}
	if !found {
		if c.json {
			fmt.Fprintln(c.out, "null")
			return nil
		}
		fmt.Fprintf(c.out, "%v Not found %v\n", digest, name)
		return nil
	}

	if c.json {
		return c.printRecord(r)
	}
	result := "Verified"
	if requester != "" && r.Owner == requester {
		result = "Verified (own upload)"
	}
	fmt.Fprintf(c.out, "%v %v %v\n", digest, result, name)
	fmt.Fprintf(c.out, "  %-15v: %v\n", "Timestamp",
		formatTimestamp(r.Timestamp))
	fmt.Fprintf(c.out, "  %-15v: %v\n", "Owner", r.Owner)
	if c.verbose {
		fmt.Fprintf(c.out, "  %-15v: %v\n", "Nanoseconds",
			r.Timestamp)
	}
	return nil
}

// list prints the uploads of the wallet owner.
func (c *client) list(ctx context.Context) error {
	owner, err := ledger.OwnerOf(c.id)
	if err != nil {
		return fmt.Errorf("please connect a wallet to list uploads: %w",
			err)
	}

	records, err := c.store.Uploads(ctx, owner)
	if err != nil {
		return err
	}

	if c.json {
		b, err := json.Marshal(records)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, string(b))
		return nil
	}
	if len(records) == 0 {
		fmt.Fprintf(c.out, "No uploads found for %v\n", owner)
		return nil
	}
	for _, r := range records {
		fmt.Fprintf(c.out, "%v %v\n", r.Digest,
			formatTimestamp(r.Timestamp))
	}
	return nil
}

// newBackend opens the local store or connects to the ledger host.
func newBackend(cfg *config, w *wallet.Wallet) (ledger.Backend, error) {
	if cfg.Local != "" {
		kv, err := local.OpenLevelDB(cfg.Local, true)
		if err != nil {
			return nil, err
		}
		l, err := local.New(kv, 0)
		if err != nil {
			kv.Close()
			return nil, err
		}
		return l, nil
	}

	h := cfg.Host
	if h == "" {
		h = v1.DefaultHost
	}
	if !strings.Contains(h, "://") {
		h = "https://" + normalizeAddress(h, v1.DefaultPort)
	}
	rc := remote.Config{
		Host:       h,
		CertFile:   cfg.Cert,
		SkipVerify: cfg.SkipVerify,
		Timeout:    *timeout,
		ClientID:   vaultstampClientID,
	}
	if !*unsigned && w.Connected() {
		rc.Signer = w.SignMetadata
	}
	return remote.New(rc)
}

func _main() error {
	flag.Parse()

	err := initHomeDirectory(defaultHomeDir)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("Could not load configuration file: %v", err)
	}

	// Command line flags take precedence.
	if *host != "" {
		cfg.Host = *host
	}
	if *cert != "" {
		cfg.Cert = *cert
	}
	if *skipVerify {
		cfg.SkipVerify = true
	}
	if *localDir != "" {
		cfg.Local = *localDir
	}
	if *walletFile != "" {
		cfg.Wallet = *walletFile
	}

	if *newWallet {
		w, err := wallet.Generate(cfg.Wallet)
		if err != nil {
			return err
		}
		fmt.Printf("Wallet created: %v\n", cfg.Wallet)
		fmt.Printf("Owner         : %v\n", w.Owner())
		return nil
	}

	// A missing wallet is fine for verification.
	w := wallet.New(cfg.Wallet)
	if err := w.Connect(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if *verbose {
			fmt.Printf("No wallet at %v\n", cfg.Wallet)
		}
	}

	b, err := newBackend(cfg, w)
	if err != nil {
		return err
	}
	defer b.Close()

	c := &client{
		id:       w,
		store:    ledger.NewStore(b, *timeout),
		verifier: ledger.NewVerifier(b, *timeout),
		out:      os.Stdout,
		json:     *printJSON,
		verbose:  *verbose,
	}
	ctx := context.Background()

	if *list {
		return c.list(ctx)
	}

	type job struct {
		digest ledger.Digest
		name   string
	}
	var jobs []job
	seen := make(map[ledger.Digest]string)
	if *digest != "" {
		n := ledger.NormalizeDigest(*digest)
		if !isDigest(string(n)) {
			return fmt.Errorf("invalid digest: %v", *digest)
		}
		seen[n] = "-digest"
		jobs = append(jobs, job{digest: n})
	}
	for _, a := range flag.Args() {
		d, err := resolve(a)
		if err != nil {
			return err
		}

		// Skip dups.
		if old, ok := seen[d]; ok {
			fmt.Printf("warning: duplicate digest skipped: %v  %v "+
				"-> %v\n", d, old, a)
			continue
		}
		seen[d] = a
		jobs = append(jobs, job{digest: d, name: a})
	}
	if len(jobs) == 0 {
		return fmt.Errorf("nothing to do")
	}

	for _, j := range jobs {
		if *verifyMode {
			err = c.verify(ctx, j.digest, j.name)
		} else {
			err = c.upload(ctx, j.digest, j.name)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
