// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm wraps calls to the external model oracle. The Gateway
// enforces the cooperative-cancellation contract and absorbs transient
// provider failures; all retry policy lives in callers.
package llm

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/elias-jhsph/scienceai/pkg/types"
)

// Oracle abstracts the model API so tests can supply a mock.
type Oracle interface {
	Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error)
}

// Budget caps the number of oracle calls made on behalf of one user
// turn. Nested retry loops in the schema and analyst components would
// otherwise amplify without a single bound.
type Budget struct {
	remaining int
}

// NewBudget returns a budget of n calls. n <= 0 means unlimited.
func NewBudget(n int) *Budget {
	b := &Budget{}
	b.Reset(n)
	return b
}

// Reset restores the budget to n calls. n <= 0 means unlimited.
func (b *Budget) Reset(n int) {
	if n <= 0 {
		n = -1
	}
	b.remaining = n
}

// take consumes one call. It reports false once the budget is spent.
func (b *Budget) take() bool {
	if b.remaining == 0 {
		return false
	}
	if b.remaining > 0 {
		b.remaining--
	}
	return true
}

// Gateway fronts an Oracle. Chat checks the context before and after
// every call; cancellation is returned as the context error so the
// worker can terminate. Any transport or provider failure is logged and
// swallowed: callers receive a nil response and must treat it as "no
// content, no tool calls" and drive their own retry loop.
type Gateway struct {
	oracle Oracle
	budget *Budget
	log    zerolog.Logger
}

// NewGateway wraps oracle. budget may be nil for unlimited calls.
func NewGateway(oracle Oracle, budget *Budget, log zerolog.Logger) *Gateway {
	if budget == nil {
		budget = NewBudget(0)
	}
	return &Gateway{oracle: oracle, budget: budget, log: log}
}

// Budget returns the gateway's call budget so the owning agent can reset
// it at the start of each user turn.
func (g *Gateway) Budget() *Budget {
	return g.budget
}

// Chat issues one oracle request. The only non-nil error it returns is
// the context's own error; every other failure mode yields (nil, nil).
func (g *Gateway) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !g.budget.take() {
		g.log.Warn().Str("model", req.Model).Msg("call budget exhausted, degrading to empty response")
		return nil, nil
	}

	resp, err := g.oracle.Chat(ctx, req)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		g.log.Warn().Err(err).Str("model", req.Model).Msg("oracle request failed")
		return nil, nil
	}
	return resp, nil
}
