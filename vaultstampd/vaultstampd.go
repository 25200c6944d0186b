// Copyright (c) 2017-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/robfig/cron"
	v1 "github.com/vaultstamp/vaultstamp/api/v1"
	"github.com/vaultstamp/vaultstamp/ledger"
	"github.com/vaultstamp/vaultstamp/ledger/local"
	"github.com/vaultstamp/vaultstamp/ledger/postgres"
	"github.com/vaultstamp/vaultstamp/ledger/remote"
	"github.com/vaultstamp/vaultstamp/util"
	"github.com/vaultstamp/vaultstamp/wallet"
)

const (
	fStr = "20060102.150405"

	forward = "X-Forwarded-For"

	proxyClientID = "vaultstampd proxy"
)

// vaultstampd application context.
type vaultstampd struct {
	cfg      *config
	backend  ledger.Backend
	local    *local.Local // Set for the memory and leveldb backends
	store    *ledger.Store
	verifier *ledger.Verifier
	router   *mux.Router
	cron     *cron.Cron
}

// recoveryLogger routes panics caught by the recovery handler to the log.
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	log.Critical(v...)
}

// newBackend opens the proof store selected by cfg.
func newBackend(cfg *config) (ledger.Backend, error) {
	switch cfg.Backend {
	case backendMemory:
		return local.New(local.NewMemoryKV(), cfg.Latency)
	case backendLevelDB:
		kv, err := local.OpenLevelDB(filepath.Join(cfg.DataDir,
			"proofs.db"), true)
		if err != nil {
			return nil, err
		}
		l, err := local.New(kv, cfg.Latency)
		if err != nil {
			kv.Close()
			return nil, err
		}
		return l, nil
	case backendPostgres:
		return postgres.New(cfg.PostgresUser, cfg.PostgresHost,
			cfg.PostgresDB, cfg.PostgresRootCert, cfg.PostgresCert,
			cfg.PostgresKey)
	case backendRemote:
		return remote.New(remote.Config{
			Host:     cfg.StoreHost,
			CertFile: cfg.StoreCert,
			Timeout:  cfg.Timeout,
			ClientID: proxyClientID,
		})
	}
	return nil, fmt.Errorf("invalid backend %q", cfg.Backend)
}

// newVaultstampd returns the application context serving backend.
func newVaultstampd(cfg *config, backend ledger.Backend) *vaultstampd {
	d := &vaultstampd{
		cfg:      cfg,
		backend:  backend,
		store:    ledger.NewStore(backend, cfg.Timeout),
		verifier: ledger.NewVerifier(backend, cfg.Timeout),
		router:   mux.NewRouter(),
	}
	if l, ok := backend.(*local.Local); ok {
		d.local = l
	}

	d.router.HandleFunc(v1.StatusRoute, d.status).Methods("POST")
	d.router.HandleFunc(v1.UploadRoute, d.upload).Methods("POST")
	d.router.HandleFunc(v1.UploadsRoute, d.uploads).Methods("POST")
	d.router.HandleFunc(v1.VerifyRoute, d.verify).Methods("POST")

	return d
}

// handler returns the router wrapped in panic recovery and, when origins are
// configured, CORS.
func (d *vaultstampd) handler() http.Handler {
	var h http.Handler = d.router
	if len(d.cfg.AllowedOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(d.cfg.AllowedOrigins),
			handlers.AllowedMethods([]string{"POST"}),
			handlers.AllowedHeaders([]string{"Content-Type"}),
		)(h)
	}
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
		handlers.PrintRecoveryStack(true),
	)(h)
}

// via returns the remote address of r including the forwarding host.
func via(r *http.Request) string {
	xff := r.Header.Get(forward)
	if xff != "" {
		return fmt.Sprintf("%v via %v", xff, r.RemoteAddr)
	}
	return r.RemoteAddr
}

// respondWithStoreError tells the client that the proof store failed.  Busy
// stores are reported as transient; everything else gets an error code that
// can be matched against the log.
func respondWithStoreError(w http.ResponseWriter, r *http.Request, action string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		log.Errorf("%v %v timeout: %v", via(r), action, err)
		util.RespondWithError(w, http.StatusServiceUnavailable,
			"Server busy, please try again later.")
		return
	}

	// Generic internal error.
	errorCode := time.Now().Unix()
	log.Errorf("%v %v error code %v: %v", via(r), action, errorCode, err)
	util.RespondWithError(w, http.StatusInternalServerError,
		fmt.Sprintf("Could not %v, contact administrator and provide "+
			"the following error code: %v", action, errorCode))
}

// checkSignature verifies the optional metadata signature of u.
func (d *vaultstampd) checkSignature(u *v1.Upload, digest ledger.Digest) error {
	if u.Metadata == nil && u.Signature == "" {
		if d.cfg.RequireSignature {
			return fmt.Errorf("signature required")
		}
		return nil
	}
	sig, err := hex.DecodeString(u.Signature)
	if err != nil {
		return err
	}
	return wallet.VerifyMetadata(ledger.Owner(u.Owner), digest,
		u.Metadata, sig)
}

func (d *vaultstampd) status(w http.ResponseWriter, r *http.Request) {
	var s v1.Status
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&s); err != nil {
		util.RespondWithError(w, http.StatusBadRequest,
			"Invalid request payload")
		return
	}
	defer r.Body.Close()

	util.RespondWithJSON(w, http.StatusOK, v1.StatusReply{
		ID:      s.ID,
		Version: version(),
	})
}

// upload records a digest for an owner.
func (d *vaultstampd) upload(w http.ResponseWriter, r *http.Request) {
	var u v1.Upload
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&u); err != nil {
		util.RespondWithError(w, http.StatusBadRequest,
			"Invalid request payload")
		return
	}
	defer r.Body.Close()

	if !v1.RegexpSHA256.MatchString(u.Digest) {
		util.RespondWithError(w, http.StatusBadRequest,
			"Invalid digest")
		return
	}
	digest := ledger.NormalizeDigest(u.Digest)
	reply := v1.UploadReply{
		ID:     u.ID,
		Digest: string(digest),
		Owner:  u.Owner,
	}

	if u.Owner != "" {
		if err := d.checkSignature(&u, digest); err != nil {
			log.Infof("Upload %v: rejected signature %v %v: %v",
				via(r), u.Owner, digest, err)
			reply.Result = v1.ResultInvalidSignature
			util.RespondWithJSON(w, http.StatusOK, reply)
			return
		}
	}

	pr, err := d.store.Submit(r.Context(), ledger.Owner(u.Owner), digest)
	var verb string
	switch {
	case err == nil:
		verb = "accepted"
		reply.Result = v1.ResultOK
		reply.Timestamp = pr.Timestamp
	case errors.Is(err, ledger.ErrDuplicateSubmission):
		verb = "rejected"
		reply.Result = v1.ResultExistsError
	case errors.Is(err, ledger.ErrUnauthenticated):
		verb = "unauthenticated"
		reply.Result = v1.ResultUnauthenticated
	case errors.Is(err, remote.ErrRejectedSignature):
		// Upstream ledger refused the signature in proxy mode.
		verb = "rejected signature"
		reply.Result = v1.ResultInvalidSignature
	default:
		respondWithStoreError(w, r, "store payload", err)
		return
	}

	// Log for audit trail.
	tsS := time.Unix(0, pr.Timestamp).UTC().Format(fStr)
	log.Infof("Upload %v: %v %v %v %v", via(r), verb, u.Owner, tsS, digest)

	util.RespondWithJSON(w, http.StatusOK, reply)
}

// uploads lists the digests of an owner.
func (d *vaultstampd) uploads(w http.ResponseWriter, r *http.Request) {
	var u v1.Uploads
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&u); err != nil {
		util.RespondWithError(w, http.StatusBadRequest,
			"Invalid request payload")
		return
	}
	defer r.Body.Close()

	records, err := d.store.Uploads(r.Context(), ledger.Owner(u.Owner))
	if errors.Is(err, ledger.ErrUnauthenticated) {
		util.RespondWithError(w, http.StatusBadRequest,
			"Invalid owner")
		return
	} else if err != nil {
		respondWithStoreError(w, r, "retrieve uploads", err)
		return
	}

	log.Infof("Uploads %v: %v %v", via(r), u.Owner, len(records))

	reply := v1.UploadsReply{
		ID:      u.ID,
		Owner:   u.Owner,
		Uploads: make([]v1.UploadedDigest, 0, len(records)),
	}
	for _, v := range records {
		reply.Uploads = append(reply.Uploads, v1.UploadedDigest{
			Digest:    string(v.Digest),
			Timestamp: v.Timestamp,
		})
	}
	util.RespondWithJSON(w, http.StatusOK, reply)
}

// verify looks up the proof of a digest, preferring the requester's own.
func (d *vaultstampd) verify(w http.ResponseWriter, r *http.Request) {
	var v v1.Verify
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&v); err != nil {
		util.RespondWithError(w, http.StatusBadRequest,
			"Invalid request payload")
		return
	}
	defer r.Body.Close()

	if !v1.RegexpSHA256.MatchString(v.Digest) {
		util.RespondWithError(w, http.StatusBadRequest,
			"Invalid digest")
		return
	}
	digest := ledger.NormalizeDigest(v.Digest)

	pr, found, err := d.verifier.Verify(r.Context(), digest,
		ledger.Owner(v.Owner))
	if err != nil {
		respondWithStoreError(w, r, "retrieve proof", err)
		return
	}

	proof, err := json.Marshal(v1.ProofResult{
		Present:   found,
		Timestamp: pr.Timestamp,
		Owner:     string(pr.Owner),
	})
	if err != nil {
		respondWithStoreError(w, r, "encode proof", err)
		return
	}

	reply := v1.VerifyReply{
		ID:     v.ID,
		Digest: string(digest),
		Result: v1.ResultOK,
		Proof:  proof,
	}
	if !found {
		reply.Result = v1.ResultDoesntExistError
	}

	log.Infof("Verify %v: %v %v", via(r), digest, v1.Result[reply.Result])

	util.RespondWithJSON(w, http.StatusOK, reply)
}

// backup writes a JSON dump of the local store into the backup directory and
// returns the file name.
func (d *vaultstampd) backup() (string, error) {
	if d.local == nil {
		return "", fmt.Errorf("backend %v can not be backed up",
			d.cfg.Backend)
	}

	dir := filepath.Join(d.cfg.DataDir, defaultBackupDirname)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	filename := filepath.Join(dir, fmt.Sprintf("proofs.%v.json",
		time.Now().UTC().Format(fStr)))
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL,
		0600)
	if err != nil {
		return "", err
	}
	err = d.local.Dump(f, false)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(filename)
		return "", err
	}

	return filename, nil
}

// startBackups runs backup on the configured cron schedule.
func (d *vaultstampd) startBackups() error {
	d.cron = cron.New()
	err := d.cron.AddFunc(d.cfg.BackupSchedule, func() {
		filename, err := d.backup()
		if err != nil {
			log.Errorf("Backup: %v", err)
			return
		}
		log.Infof("Backup: %v", filename)
	})
	if err != nil {
		return err
	}
	d.cron.Start()
	return nil
}

// close stops the backups and the backend.
func (d *vaultstampd) close() {
	if d.cron != nil {
		d.cron.Stop()
	}
	if err := d.backend.Close(); err != nil {
		log.Errorf("Close backend: %v", err)
	}
}

func _main() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	loadedCfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("Could not load configuration file: %v", err)
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	mode := "Store"
	if loadedCfg.Backend == backendRemote {
		mode = "Proxy"
	}
	log.Infof("Version : %v", version())
	log.Infof("Mode    : %v", mode)
	log.Infof("Backend : %v", loadedCfg.Backend)
	log.Infof("Home dir: %v", loadedCfg.HomeDir)

	// Create the data directory in case it does not exist.
	err = os.MkdirAll(loadedCfg.DataDir, 0700)
	if err != nil {
		return err
	}

	// Generate the TLS cert and key file if both don't already
	// exist.
	if !util.FileExists(loadedCfg.HTTPSKey) &&
		!util.FileExists(loadedCfg.HTTPSCert) {
		log.Infof("Generating HTTPS keypair...")

		err := util.GenCertPair("vaultstampd", loadedCfg.HTTPSCert,
			loadedCfg.HTTPSKey)
		if err != nil {
			return fmt.Errorf("unable to create https keypair: %v",
				err)
		}

		log.Infof("HTTPS keypair created...")
	}

	// Setup backend.
	b, err := newBackend(loadedCfg)
	if err != nil {
		return err
	}

	// Setup application context
	d := newVaultstampd(loadedCfg, b)
	defer d.close()

	if loadedCfg.BackupSchedule != "" {
		if err := d.startBackups(); err != nil {
			return err
		}
		log.Infof("Backups : %v", loadedCfg.BackupSchedule)
	}

	// Bind to a port and pass our router in
	h := d.handler()
	listenC := make(chan error)
	for _, listener := range loadedCfg.Listeners {
		listen := listener
		go func() {
			log.Infof("Listen: %v", listen)
			listenC <- http.ListenAndServeTLS(listen,
				loadedCfg.HTTPSCert, loadedCfg.HTTPSKey, h)
		}()
	}

	// Tell user we are ready to go.
	log.Infof("Start of day")

	// Setup OS signals
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigs:
		log.Infof("Terminating with %v", sig)
	case err := <-listenC:
		log.Errorf("%v", err)
	}

	log.Infof("Exiting")

	return nil
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
