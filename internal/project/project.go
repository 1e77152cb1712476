// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package project owns the on-disk layout and persisted state of one
// research project: ingested papers, the chat log, analyst records and
// their contexts, and extraction trackers. All state lives in the
// project's document store; the Manager serializes every mutation
// through the store's session discipline.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/elias-jhsph/scienceai/internal/store"
)

// dbDirName is the directory under the storage root holding one
// subdirectory per project.
const dbDirName = "scienceai_db"

const (
	papersKey   = "papers"
	chatKey     = "chat"
	analystsKey = "analysts"
)

func paperDataKey(id string) string    { return "paper_data/" + id }
func contextKey(analyst string) string { return "context/" + analyst }

// Manager is the single mutating owner of one project's persisted state.
type Manager struct {
	store *store.Store
	name  string
	dir   string
	log   zerolog.Logger
}

// Open opens or creates the project named name under storageRoot. A
// read-only Manager serves UI readers while the background worker holds
// the writable one.
func Open(storageRoot, name string, readOnly bool, log zerolog.Logger) (*Manager, error) {
	if strings.ContainsAny(name, "/\\") {
		return nil, fmt.Errorf("invalid project name %q", name)
	}
	dir := filepath.Join(storageRoot, dbDirName, name)
	if !readOnly {
		for _, sub := range []string{papersDirName, csvDirName} {
			if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
				return nil, fmt.Errorf("creating project directory: %w", err)
			}
		}
	}
	st, err := store.Open(dir, name, readOnly)
	if err != nil {
		return nil, err
	}
	return &Manager{
		store: st,
		name:  name,
		dir:   dir,
		log:   log.With().Str("project", name).Logger(),
	}, nil
}

// Close releases the underlying store.
func (m *Manager) Close() error { return m.store.Close() }

// Name returns the project name.
func (m *Manager) Name() string { return m.name }

// Dir returns the project directory.
func (m *Manager) Dir() string { return m.dir }

// Store exposes the underlying document store for long-poll waiters.
func (m *Manager) Store() *store.Store { return m.store }

// Projects lists the project names under storageRoot, checkpoints
// excluded, sorted.
func Projects(storageRoot string) ([]string, error) {
	root := filepath.Join(storageRoot, dbDirName)
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.Contains(entry.Name(), checkpointInfix) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
