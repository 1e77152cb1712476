// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package worker runs the single writer process for one open project. A
// worker pulls user messages from its queue, hands them to the
// principal investigator, and checkpoints the project after every
// message so a crash never loses a processed turn.
package worker

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/elias-jhsph/scienceai/internal/investigator"
	"github.com/elias-jhsph/scienceai/internal/project"
	"github.com/elias-jhsph/scienceai/pkg/types"
)

// Worker drives one project's conversation loop. It is the only writer
// of the project store; the API layer reads and enqueues.
type Worker struct {
	pi    *investigator.Investigator
	db    *project.Manager
	queue <-chan types.Message
	log   zerolog.Logger
}

// New builds a worker over an already-constructed investigator. The
// investigator's constructor has run the startup or replay sequence by
// the time the worker starts pulling.
func New(pi *investigator.Investigator, db *project.Manager, queue <-chan types.Message, log zerolog.Logger) *Worker {
	return &Worker{
		pi:    pi,
		db:    db,
		queue: queue,
		log:   log.With().Str("component", "worker").Logger(),
	}
}

// Run pulls messages until the context is cancelled or the queue is
// closed. Precondition violations on an inbound message are logged and
// skipped; any other error is fatal to the worker.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-w.queue:
			if !ok {
				w.log.Info().Msg("queue closed, worker exiting")
				return nil
			}
			if err := w.handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg types.Message) error {
	err := w.pi.ProcessMessage(ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrNotPending), errors.Is(err, types.ErrNotUser):
		w.log.Warn().Err(err).Msg("dropping malformed inbound message")
		return nil
	default:
		w.log.Error().Err(err).Msg("message processing failed")
		return err
	}

	if _, err := w.db.SaveCheckpoint(ctx); err != nil {
		w.log.Warn().Err(err).Msg("checkpoint failed")
	}
	return nil
}
