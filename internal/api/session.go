// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package api

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/elias-jhsph/scienceai/internal/extraction"
	"github.com/elias-jhsph/scienceai/internal/ingest"
	"github.com/elias-jhsph/scienceai/internal/investigator"
	"github.com/elias-jhsph/scienceai/internal/llm"
	"github.com/elias-jhsph/scienceai/internal/project"
	"github.com/elias-jhsph/scienceai/internal/worker"
	"github.com/elias-jhsph/scienceai/pkg/types"
)

// queueDepth bounds the inbound message queue per open project. The UI
// sends one message per user turn, so depth matters only when a user
// hammers send while a long turn runs.
const queueDepth = 16

// session is one open project: the writable manager owned by its
// worker goroutine, a read-only manager serving API reads, and the
// queue connecting them.
type session struct {
	name   string
	db     *project.Manager
	reader *project.Manager
	queue  chan types.Message
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	runErr  error
	started bool
}

// newSession opens the project and starts its worker. Construction of
// the investigator (which may ingest and process many papers) happens
// on the worker goroutine so the open call returns promptly.
func (s *Server) newSession(name string) (*session, error) {
	db, err := project.Open(s.cfg.Project.StorageDir, name, false, s.log)
	if err != nil {
		return nil, err
	}
	reader, err := project.Open(s.cfg.Project.StorageDir, name, true, s.log)
	if err != nil {
		db.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		name:   name,
		db:     db,
		reader: reader,
		queue:  make(chan types.Message, queueDepth),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sess.run(ctx, s.deps(db))
	return sess, nil
}

// deps assembles the investigator's collaborators over the writable
// manager.
func (s *Server) deps(db *project.Manager) investigator.Deps {
	oracle := s.oracle
	if oracle == nil {
		oracle = llm.NewClient(s.cfg.Model)
	}
	gw := llm.NewGateway(oracle, llm.NewBudget(s.cfg.Model.CallBudget), s.log)

	processor := s.processor
	if processor == nil {
		processor = ingest.NewModelProcessor(gw,
			&ingest.PopplerRasterizer{},
			ingest.NewCrossref(s.crossrefEmail, nil),
			s.cfg.Model.Model, s.log)
	}

	return investigator.Deps{
		DB:         db,
		Gateway:    gw,
		Pipeline:   extraction.NewPipeline(gw, s.cfg.Model.Model, filepath.Join(db.Dir(), "cache"), s.log),
		Processor:  processor,
		Model:      s.cfg.Model.Model,
		IngestDir:  s.cfg.Project.IngestDir,
		Attempts:   s.cfg.Project.Attempts,
		CallBudget: s.cfg.Model.CallBudget,
		Log:        s.log,
	}
}

func (sess *session) run(ctx context.Context, deps investigator.Deps) {
	defer close(sess.done)
	defer sess.db.Close()

	log := deps.Log.With().Str("project", sess.name).Logger()
	pi, err := investigator.New(ctx, deps)
	if err != nil {
		sess.fail(log, fmt.Errorf("opening investigator: %w", err))
		return
	}
	sess.mu.Lock()
	sess.started = true
	sess.mu.Unlock()

	w := worker.New(pi, sess.db, sess.queue, deps.Log)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		sess.fail(log, err)
	}
}

func (sess *session) fail(log zerolog.Logger, err error) {
	log.Error().Err(err).Msg("project session failed")
	sess.mu.Lock()
	sess.runErr = err
	sess.mu.Unlock()
}

// status returns whether the startup sequence has finished and any
// fatal worker error.
func (sess *session) status() (bool, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.started, sess.runErr
}

// send enqueues one user message without blocking the HTTP handler.
func (sess *session) send(msg types.Message) error {
	select {
	case sess.queue <- msg:
		return nil
	default:
		return fmt.Errorf("project %s is busy, try again shortly", sess.name)
	}
}

// close stops the worker and releases both managers.
func (sess *session) close() error {
	sess.cancel()
	<-sess.done
	return sess.reader.Close()
}
