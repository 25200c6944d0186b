// Copyright (c) 2017-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package local

import (
	"errors"
	"os"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// KV is the persistence surface of the local backend.
type KV interface {
	// Get returns the value stored under key.  The boolean is false if
	// there is none.
	Get(key string) (string, bool, error)

	// Set durably stores value under key.
	Set(key, value string) error

	// Close releases the underlying resources.
	Close() error
}

var (
	_ KV = (*MemoryKV)(nil)
	_ KV = (*LevelDB)(nil)
)

// MemoryKV is a KV that lives and dies with the process.
type MemoryKV struct {
	sync.RWMutex
	m map[string]string
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: make(map[string]string)}
}

func (m *MemoryKV) Get(key string) (string, bool, error) {
	m.RLock()
	defer m.RUnlock()
	v, ok := m.m[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(key, value string) error {
	m.Lock()
	defer m.Unlock()
	m.m[key] = value
	return nil
}

func (m *MemoryKV) Close() error {
	return nil
}

// LevelDB is a KV backed by a leveldb database on disk.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens, or creates when create is set, the leveldb database in
// path.
func OpenLevelDB(path string, create bool) (*LevelDB, error) {
	if create {
		err := os.MkdirAll(path, 0700)
		if err != nil {
			return nil, err
		}
	} else {
		// Stat path first so that we don't create a database by
		// accident.  Leveldb WILL create a directory even if
		// ErrorIfMissing = true.
		fi, err := os.Stat(path)
		if err != nil {
			return nil, os.ErrNotExist
		}
		if !fi.Mode().IsDir() {
			return nil, errInvalidDB
		}
	}

	db, err := leveldb.OpenFile(path, &opt.Options{
		ErrorIfMissing: !create,
	})
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key string) (string, bool, error) {
	v, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

// Set writes synchronously so that value survives a crash once Set returns.
func (l *LevelDB) Set(key, value string) error {
	return l.db.Put([]byte(key), []byte(value), &opt.WriteOptions{
		Sync: true,
	})
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
