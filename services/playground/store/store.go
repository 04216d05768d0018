// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists snippets in an embedded BadgerDB.
//
// BadgerDB gives the playground low-latency local storage without a
// server process. Each snippet is stored as JSON under "snip:<id>"; a
// "name:<name>" index entry maps the lowercased snippet name back to the
// id and enforces unique names. The two keys are written in one Badger
// transaction, so the index cannot drift from the record.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/breadboard/pkg/logging"
	"github.com/AleutianAI/breadboard/pkg/validation"
)

// Key prefixes. The snippet namespace is validated, so user input can
// never smuggle a prefix.
const (
	snippetPrefix = "snip:"
	namePrefix    = "name:"
)

var (
	// ErrNotFound is returned when no snippet exists for an id or name.
	ErrNotFound = errors.New("snippet not found")

	// ErrNameTaken is returned when a Put or Rename would reuse a name
	// owned by a different snippet.
	ErrNameTaken = errors.New("snippet name already in use")
)

// Snippet is a saved playground program.
type Snippet struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Config holds configuration for a snippet store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required for persistent stores. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC
	// runs. Default: 0.5.
	GCDiscardRatio float64

	// Logger receives store and Badger diagnostics. If nil, the package
	// default logger is used.
	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults for a persistent store.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration for testing: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
	}
}

// badgerLogger adapts the house logger to BadgerDB's Logger interface.
// Badger's Info/Debug output is operational noise at playground scale,
// so both are dropped; warnings and errors pass through.
type badgerLogger struct {
	log *logging.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(string, ...interface{})  {}
func (l *badgerLogger) Debugf(string, ...interface{}) {}

// Store is a snippet store backed by BadgerDB.
//
// Thread Safety: safe for concurrent use; Badger transactions provide
// the isolation.
type Store struct {
	db  *badger.DB
	log *logging.Logger

	gcStop chan struct{}
	gcDone chan struct{}
}

// Open opens a snippet store with the given configuration, creating the
// directory when needed, and starts the GC runner if one is configured.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	log = log.With("component", "store")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	opts = opts.WithLogger(&badgerLogger{log: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{db: db, log: log}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 0.5
		}
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, ratio)
	}
	return s, nil
}

// Close stops the GC runner and closes the database. Safe to call once.
func (s *Store) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
	}
	return s.db.Close()
}

// runGC triggers Badger value log GC on a ticker until Close.
func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				// ErrNoRewrite just means nothing to collect.
				s.log.Warn("badger value log GC error", "error", err)
			}
		}
	}
}

// =============================================================================
// CRUD
// =============================================================================

// Put saves a snippet. A snippet without an ID is created (the store
// mints a UUID and sets CreatedAt); one with an ID is replaced, keeping
// its CreatedAt. The name is sanitized and must not belong to another
// snippet; sn is updated in place with the stored ID, name, and
// timestamps.
func (s *Store) Put(ctx context.Context, sn *Snippet) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	name, err := validation.SanitizeSnippetName(sn.Name)
	if err != nil {
		return err
	}
	sn.Name = name

	now := time.Now().UTC()
	isNew := sn.ID == ""
	if isNew {
		sn.ID = uuid.NewString()
		sn.CreatedAt = now
	} else if err := validation.ValidateSnippetID(sn.ID); err != nil {
		return err
	}
	sn.UpdatedAt = now

	return s.update(func(txn *badger.Txn) error {
		if !isNew {
			prev, err := getSnippet(txn, sn.ID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if prev != nil {
				sn.CreatedAt = prev.CreatedAt
				if prev.Name != name {
					if err := txn.Delete(nameKey(prev.Name)); err != nil {
						return err
					}
				}
			}
		}

		if owner, err := nameOwner(txn, name); err != nil {
			return err
		} else if owner != "" && owner != sn.ID {
			return fmt.Errorf("%w: %q", ErrNameTaken, name)
		}

		data, err := json.Marshal(sn)
		if err != nil {
			return fmt.Errorf("marshal snippet: %w", err)
		}
		if err := txn.Set(snippetKey(sn.ID), data); err != nil {
			return err
		}
		return txn.Set(nameKey(name), []byte(sn.ID))
	})
}

// Get returns the snippet with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Snippet, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	if err := validation.ValidateSnippetID(id); err != nil {
		return nil, err
	}
	var sn *Snippet
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		sn, err = getSnippet(txn, id)
		return err
	})
	return sn, err
}

// GetByName resolves a name through the index and returns its snippet.
func (s *Store) GetByName(ctx context.Context, name string) (*Snippet, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	name, err := validation.SanitizeSnippetName(name)
	if err != nil {
		return nil, err
	}
	var sn *Snippet
	err = s.db.View(func(txn *badger.Txn) error {
		id, err := nameOwner(txn, name)
		if err != nil {
			return err
		}
		if id == "" {
			return fmt.Errorf("%w: name %q", ErrNotFound, name)
		}
		sn, err = getSnippet(txn, id)
		return err
	})
	return sn, err
}

// Delete removes the snippet and its name index entry. Deleting a
// missing snippet returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if err := validation.ValidateSnippetID(id); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		sn, err := getSnippet(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(nameKey(sn.Name)); err != nil {
			return err
		}
		return txn.Delete(snippetKey(id))
	})
}

// Rename changes a snippet's name, updating both index entries in one
// transaction.
func (s *Store) Rename(ctx context.Context, id, newName string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if err := validation.ValidateSnippetID(id); err != nil {
		return err
	}
	name, err := validation.SanitizeSnippetName(newName)
	if err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		sn, err := getSnippet(txn, id)
		if err != nil {
			return err
		}
		if sn.Name == name {
			return nil
		}
		if owner, err := nameOwner(txn, name); err != nil {
			return err
		} else if owner != "" {
			return fmt.Errorf("%w: %q", ErrNameTaken, name)
		}
		if err := txn.Delete(nameKey(sn.Name)); err != nil {
			return err
		}
		sn.Name = name
		sn.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(sn)
		if err != nil {
			return fmt.Errorf("marshal snippet: %w", err)
		}
		if err := txn.Set(snippetKey(id), data); err != nil {
			return err
		}
		return txn.Set(nameKey(name), []byte(id))
	})
}

// List returns all snippets ordered by name. Sources are included; at
// playground scale a full scan is cheaper than maintaining projections.
func (s *Store) List(ctx context.Context) ([]*Snippet, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	var out []*Snippet
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(snippetPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var sn Snippet
				if err := json.Unmarshal(val, &sn); err != nil {
					return fmt.Errorf("unmarshal snippet %s: %w", it.Item().Key(), err)
				}
				out = append(out, &sn)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Backup streams a full Badger backup to w. Used by the GCS snapshot
// uploader; the stream format is Badger's own.
func (s *Store) Backup(ctx context.Context, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if _, err := s.db.Backup(w, 0); err != nil {
		return fmt.Errorf("badger backup: %w", err)
	}
	return nil
}

// =============================================================================
// Transaction helpers
// =============================================================================

// update runs fn in a read-write transaction, committing on nil.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

func getSnippet(txn *badger.Txn, id string) (*Snippet, error) {
	item, err := txn.Get(snippetKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var sn Snippet
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &sn)
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshal snippet %s: %w", id, err)
	}
	return &sn, nil
}

// nameOwner returns the id owning name, or "" when the name is free.
func nameOwner(txn *badger.Txn, name string) (string, error) {
	item, err := txn.Get(nameKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var id string
	err = item.Value(func(val []byte) error {
		id = string(val)
		return nil
	})
	return id, err
}

func snippetKey(id string) []byte { return []byte(snippetPrefix + id) }
func nameKey(name string) []byte  { return []byte(namePrefix + name) }
