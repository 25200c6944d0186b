// Copyright (c) 2017-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package v1

import (
	"fmt"
	"regexp"
)

const (
	// APIVersion defines the version number for this code.
	APIVersion = 1

	// ResultOK indicates the operation completed successfully.
	ResultOK = 0

	// ResultExistsError indicates the owner already submitted the digest
	// and it was rejected.
	ResultExistsError = 1

	// ResultDoesntExistError indiciates the digest does not exist.
	ResultDoesntExistError = 2

	// ResultUnauthenticated indicates no owner was provided.
	ResultUnauthenticated = 3

	// ResultInvalidSignature indicates the upload metadata signature does
	// not match the owner.
	ResultInvalidSignature = 4

	// DefaultHost indicates the default ledger host.
	DefaultHost = "localhost"

	// DefaultPort indicates the default ledger port.
	DefaultPort = "49155"
)

var (
	// RoutePrefix is the route url prefix for this version.
	RoutePrefix = fmt.Sprintf("/v%v", APIVersion)

	// StatusRoute defines the API route for retrieving
	// the server status.
	StatusRoute = RoutePrefix + "/status/"

	// UploadRoute defines the API route for submitting a digest on behalf
	// of an owner.
	UploadRoute = RoutePrefix + "/upload/"

	// UploadsRoute defines the API route for listing the digests of an
	// owner.
	UploadsRoute = RoutePrefix + "/uploads/"

	// VerifyRoute defines the API route for digest verification.
	VerifyRoute = RoutePrefix + "/verify/"

	// Result defines legible string messages to a submission/query
	// result code.
	Result = map[int]string{
		ResultOK:               "OK",
		ResultExistsError:      "Exists",
		ResultDoesntExistError: "Doesn't exist",
		ResultUnauthenticated:  "Unauthenticated",
		ResultInvalidSignature: "Invalid signature",
	}

	// RegexpSHA256 is the valid text representation of a sha256 digest.
	RegexpSHA256 = regexp.MustCompile("^[A-Fa-f0-9]{64}$")
)

// Status is used to ask the server if everything is running properly.
// ID is user settable and can be used as a unique identifier by the client.
type Status struct {
	ID string `json:"id"`
}

// StatusReply is returned by the server if everything is running properly.
type StatusReply struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// Metadata describes the circumstances of an upload.  It is signed by the
// owner's wallet; Timestamp is the client's RFC3339 wall clock and carries
// no authority.
type Metadata struct {
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
	DeviceID  string `json:"deviceId"`
	Timezone  string `json:"timezone"`
	Locale    string `json:"locale"`
}

// Upload asks the ledger to record Digest for Owner.  Metadata and Signature
// are optional; when present Signature is the hex encoded signature of the
// JSON encoding of Metadata by Owner.
type Upload struct {
	ID        string    `json:"id"`
	Digest    string    `json:"digest"`
	Owner     string    `json:"owner"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	Signature string    `json:"signature,omitempty"`
}

// UploadReply is returned after an Upload.  Timestamp is the authoritative
// ledger time in nanoseconds since the Unix epoch and is only set when Result
// is ResultOK.
type UploadReply struct {
	ID        string `json:"id"`
	Digest    string `json:"digest"`
	Owner     string `json:"owner"`
	Timestamp int64  `json:"timestamp"`
	Result    int    `json:"result"`
}

// Uploads asks for all digests of Owner.
type Uploads struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
}

// UploadedDigest is a digest and the time, in nanoseconds, it was recorded.
type UploadedDigest struct {
	Digest    string `json:"digest"`
	Timestamp int64  `json:"timestamp"`
}

type UploadsReply struct {
	ID      string           `json:"id"`
	Owner   string           `json:"owner"`
	Uploads []UploadedDigest `json:"uploads"`
}

// Verify asks who recorded Digest and when.  Owner is optional.
type Verify struct {
	ID     string `json:"id"`
	Digest string `json:"digest"`
	Owner  string `json:"owner,omitempty"`
}

// VerifyReply carries the proof as raw JSON since ledgers have answered in
// several shapes over time; use DecodeProof to interpret it.
type VerifyReply struct {
	ID     string     `json:"id"`
	Digest string     `json:"digest"`
	Result int        `json:"result"`
	Proof  RawMessage `json:"proof"`
}
