// Copyright (c) 2017-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package remote implements a ledger backend that delegates every operation
// to a remote ledger speaking the v1 API.
package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	v1 "github.com/vaultstamp/vaultstamp/api/v1"
	"github.com/vaultstamp/vaultstamp/ledger"
	"github.com/vaultstamp/vaultstamp/util"
)

const defaultClientID = "vaultstamp remote"

var (
	_ ledger.Backend = (*Remote)(nil)

	// ErrRejectedSignature is returned when the ledger refuses the upload
	// metadata signature.
	ErrRejectedSignature = errors.New("ledger rejected metadata signature")
)

// MetadataSigner returns the metadata of an upload and its signature.
type MetadataSigner func(owner ledger.Owner, digest ledger.Digest) (*v1.Metadata, []byte, error)

// Config describes how to reach the remote ledger.
type Config struct {
	Host       string         // URL of the ledger, https is assumed without a scheme
	CertFile   string         // Optional PEM certificate to trust
	SkipVerify bool           // Skip TLS verification
	Timeout    time.Duration  // Bound on every call, zero selects ledger.DefaultTimeout
	ClientID   string         // ID sent along every request
	Signer     MetadataSigner // Optional metadata signer for uploads
}

// Remote is a ledger backend reached over HTTPS.  The remote ledger enforces
// atomicity of inserts and assigns timestamps.
type Remote struct {
	host    string
	id      string
	timeout time.Duration
	signer  MetadataSigner
	client  *http.Client
}

// New returns a Remote for cfg.
func New(cfg Config) (*Remote, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("remote host not set")
	}
	host := strings.TrimSuffix(cfg.Host, "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.SkipVerify,
	}
	if cfg.CertFile != "" {
		cert, err := os.ReadFile(cfg.CertFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read cert %v: %v",
				cfg.CertFile, err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(cert) {
			return nil, fmt.Errorf("unable to load cert %v",
				cfg.CertFile)
		}
		tlsConfig.RootCAs = certPool
	}

	r := &Remote{
		host:    host,
		id:      cfg.ClientID,
		timeout: cfg.Timeout,
		signer:  cfg.Signer,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		},
	}
	if r.id == "" {
		r.id = defaultClientID
	}
	if r.timeout <= 0 {
		r.timeout = ledger.DefaultTimeout
	}

	return r, nil
}

// post sends request to route and decodes the answer into reply.
func (r *Remote) post(ctx context.Context, route string, request, reply interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	b, err := json.Marshal(request)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.host+route, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e, err := util.GetError(resp.Body)
		if err != nil {
			return fmt.Errorf("%v", resp.Status)
		}
		return fmt.Errorf("%v: %v", resp.Status, e)
	}

	return json.NewDecoder(resp.Body).Decode(reply)
}

// Insert satisfies the ledger.Backend interface.  It maps to a single
// uploadDesign call; the remote side checks for duplicates atomically.
func (r *Remote) Insert(ctx context.Context, owner ledger.Owner, digest ledger.Digest) (ledger.ProofRecord, error) {
	u := v1.Upload{
		ID:     r.id,
		Digest: string(digest),
		Owner:  string(owner),
	}
	if r.signer != nil {
		md, sig, err := r.signer(owner, digest)
		if err != nil {
			return ledger.ProofRecord{}, fmt.Errorf("sign metadata: %w",
				err)
		}
		u.Metadata = md
		u.Signature = hex.EncodeToString(sig)
	}

	var ur v1.UploadReply
	if err := r.post(ctx, v1.UploadRoute, u, &ur); err != nil {
		return ledger.ProofRecord{}, err
	}

	switch ur.Result {
	case v1.ResultOK:
	case v1.ResultExistsError:
		return ledger.ProofRecord{}, ledger.ErrDuplicateSubmission
	case v1.ResultUnauthenticated:
		return ledger.ProofRecord{}, ledger.ErrUnauthenticated
	case v1.ResultInvalidSignature:
		return ledger.ProofRecord{}, ErrRejectedSignature
	default:
		return ledger.ProofRecord{}, fmt.Errorf("unexpected result: %v",
			ur.Result)
	}

	log.Debugf("Insert %v %v: %v", owner, digest, ur.Timestamp)

	return ledger.ProofRecord{
		Digest:    digest,
		Owner:     owner,
		Timestamp: ur.Timestamp,
	}, nil
}

// ListByOwner satisfies the ledger.Backend interface (getUploadsByWallet).
func (r *Remote) ListByOwner(ctx context.Context, owner ledger.Owner) ([]ledger.ProofRecord, error) {
	var ur v1.UploadsReply
	err := r.post(ctx, v1.UploadsRoute, v1.Uploads{
		ID:    r.id,
		Owner: string(owner),
	}, &ur)
	if err != nil {
		return nil, err
	}

	records := make([]ledger.ProofRecord, 0, len(ur.Uploads))
	for _, v := range ur.Uploads {
		records = append(records, ledger.ProofRecord{
			Digest:    ledger.NormalizeDigest(v.Digest),
			Owner:     owner,
			Timestamp: v.Timestamp,
		})
	}

	return records, nil
}

// LookupByDigest satisfies the ledger.Backend interface (verifyDesign).  A
// proof in a shape we do not understand is logged and reported as absent.
func (r *Remote) LookupByDigest(ctx context.Context, digest ledger.Digest) (ledger.ProofRecord, bool, error) {
	var vr v1.VerifyReply
	err := r.post(ctx, v1.VerifyRoute, v1.Verify{
		ID:     r.id,
		Digest: string(digest),
	}, &vr)
	if err != nil {
		return ledger.ProofRecord{}, false, err
	}

	p, err := v1.DecodeProof(vr.Proof)
	if err != nil {
		log.Errorf("LookupByDigest %v: %v", digest, err)
		return ledger.ProofRecord{}, false, nil
	}
	if !p.Present {
		return ledger.ProofRecord{}, false, nil
	}

	return ledger.ProofRecord{
		Digest:    digest,
		Owner:     ledger.Owner(p.Owner),
		Timestamp: p.Timestamp,
	}, true, nil
}

// Status asks the remote ledger for its version.
func (r *Remote) Status(ctx context.Context) (string, error) {
	var sr v1.StatusReply
	err := r.post(ctx, v1.StatusRoute, v1.Status{ID: r.id}, &sr)
	if err != nil {
		return "", err
	}
	return sr.Version, nil
}

// Close satisfies the ledger.Backend interface.
func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
