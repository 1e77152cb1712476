// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elias-jhsph/scienceai/internal/extraction"
	"github.com/elias-jhsph/scienceai/internal/investigator"
	"github.com/elias-jhsph/scienceai/internal/llm"
	"github.com/elias-jhsph/scienceai/internal/project"
	"github.com/elias-jhsph/scienceai/pkg/types"
)

type scriptedOracle struct {
	resps []*types.ChatResponse
}

func (o *scriptedOracle) Chat(context.Context, types.ChatRequest) (*types.ChatResponse, error) {
	if len(o.resps) == 0 {
		return nil, nil
	}
	resp := o.resps[0]
	o.resps = o.resps[1:]
	return resp, nil
}

type fakePipeline struct{}

func (fakePipeline) GenerateSchema(context.Context, string) (extraction.Schema, error) {
	return nil, nil
}

func (fakePipeline) Taxonomy() *extraction.Taxonomy { return extraction.DefaultTaxonomy() }

func (fakePipeline) Extract(context.Context, *extraction.ToolContract, string) (map[string]any, error) {
	return nil, nil
}

func testWorker(t *testing.T, oracle llm.Oracle, queue <-chan types.Message) (*Worker, *project.Manager) {
	t.Helper()
	ctx := context.Background()
	m, err := project.Open(t.TempDir(), "testproj", false, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	pi, err := investigator.New(ctx, investigator.Deps{
		DB:       m,
		Gateway:  llm.NewGateway(oracle, llm.NewBudget(0), zerolog.Nop()),
		Pipeline: fakePipeline{},
		Model:    "test-model",
		Log:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return New(pi, m, queue, zerolog.Nop()), m
}

func TestRun_ProcessesQueueAndCheckpoints(t *testing.T) {
	ctx := context.Background()
	queue := make(chan types.Message, 2)
	w, m := testWorker(t, &scriptedOracle{resps: []*types.ChatResponse{
		{Content: "Hello back."},
	}}, queue)

	queue <- types.Message{Role: types.RoleUser, Content: "Hello there.", Status: types.StatusPending}
	close(queue)
	require.NoError(t, w.Run(ctx))

	chat, err := m.Chat(ctx)
	require.NoError(t, err)
	last := chat[len(chat)-1]
	assert.Equal(t, types.RoleAssistant, last.Role)
	assert.Equal(t, "Hello back.", last.Content)
	assert.Equal(t, types.StatusProcessed, last.Status)

	checkpoint, err := m.LastCheckpoint()
	require.NoError(t, err)
	assert.NotEmpty(t, checkpoint)
}

func TestRun_DropsMalformedMessages(t *testing.T) {
	ctx := context.Background()
	queue := make(chan types.Message, 2)
	w, m := testWorker(t, &scriptedOracle{}, queue)

	queue <- types.Message{Role: types.RoleAssistant, Content: "not a user message", Status: types.StatusPending}
	queue <- types.Message{Role: types.RoleUser, Content: "processed already", Status: types.StatusProcessed}
	close(queue)
	require.NoError(t, w.Run(ctx))

	chat, err := m.Chat(ctx)
	require.NoError(t, err)
	for _, msg := range chat {
		assert.NotEqual(t, "not a user message", msg.Content)
		assert.NotEqual(t, "processed already", msg.Content)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	queue := make(chan types.Message)
	w, _ := testWorker(t, &scriptedOracle{}, queue)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop on cancellation")
	}
}
