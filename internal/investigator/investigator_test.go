// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package investigator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elias-jhsph/scienceai/internal/extraction"
	"github.com/elias-jhsph/scienceai/internal/llm"
	"github.com/elias-jhsph/scienceai/internal/project"
	"github.com/elias-jhsph/scienceai/pkg/types"
)

type scriptedOracle struct {
	calls []types.ChatRequest
	resps []*types.ChatResponse
}

func (o *scriptedOracle) Chat(_ context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	i := len(o.calls)
	o.calls = append(o.calls, req)
	if i >= len(o.resps) {
		return nil, nil
	}
	return o.resps[i], nil
}

func toolResp(name string, args any) *types.ChatResponse {
	raw, _ := json.Marshal(args)
	return &types.ChatResponse{ToolCalls: []types.ToolCallRef{{
		ID:       "call-1",
		Type:     "function",
		Function: types.FunctionCall{Name: name, Arguments: string(raw)},
	}}}
}

func textResp(content string) *types.ChatResponse {
	return &types.ChatResponse{Content: content}
}

type fakePipeline struct{}

func (fakePipeline) GenerateSchema(context.Context, string) (extraction.Schema, error) {
	return nil, nil
}

func (fakePipeline) Taxonomy() *extraction.Taxonomy { return extraction.DefaultTaxonomy() }

func (fakePipeline) Extract(context.Context, *extraction.ToolContract, string) (map[string]any, error) {
	return nil, nil
}

type fakeProcessor struct{}

func (fakeProcessor) Process(context.Context, string) (types.ProcessedPaper, error) {
	return types.ProcessedPaper{CleanedText: "text", Summary: "summary"}, nil
}

func testDeps(t *testing.T, oracle llm.Oracle) Deps {
	t.Helper()
	m, err := project.Open(t.TempDir(), "testproj", false, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return Deps{
		DB:        m,
		Gateway:   llm.NewGateway(oracle, llm.NewBudget(0), zerolog.Nop()),
		Pipeline:  fakePipeline{},
		Processor: fakeProcessor{},
		Model:     "test-model",
		Attempts:  2,
		Log:       zerolog.Nop(),
	}
}

// delegation is the oracle script for one successful analyst run: the
// investigator delegates, the analyst submits a completion, the critique
// accepts it.
func delegation(name, question string) []*types.ChatResponse {
	return []*types.ChatResponse{
		toolResp(toolDelegate, map[string]string{"name": name, "question": question}),
		toolResp("complete_goal_by_answering_question_with_evidence",
			map[string]string{"answer": "The answer.", "evidence": "The evidence."}),
		textResp("The evidence supports the answer."),
		toolResp("check_completed_goal", map[string]bool{"resolved": true}),
	}
}

func ingestPaper(t *testing.T, m *project.Manager, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "p.pdf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	id, err := m.IngestPaper(context.Background(), path)
	require.NoError(t, err)
	return id
}

func pendingCount(chat []types.Message) int {
	n := 0
	for _, msg := range chat {
		if msg.Status == types.StatusPending {
			n++
		}
	}
	return n
}

func TestNew_FirstRunEmitsBanners(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, &scriptedOracle{})

	_, err := New(ctx, deps)
	require.NoError(t, err)

	chat, err := deps.DB.Chat(ctx)
	require.NoError(t, err)
	require.Len(t, chat, 2)
	assert.Equal(t, loadingMessage, chat[0].Content)
	assert.Equal(t, readyMessage, chat[1].Content)
	assert.Equal(t, types.StatusProcessed, chat[0].Status)
	assert.Equal(t, types.StatusProcessed, chat[1].Status)
}

// Reopening a project drops the stale banner pair and greets again
// instead of stacking banners.
func TestNew_ReopenDoesNotStackBanners(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, &scriptedOracle{})

	_, err := New(ctx, deps)
	require.NoError(t, err)
	_, err = New(ctx, deps)
	require.NoError(t, err)

	chat, err := deps.DB.Chat(ctx)
	require.NoError(t, err)
	assert.Len(t, chat, 2)
}

func TestProcessMessage_Preconditions(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, &scriptedOracle{})
	p, err := New(ctx, deps)
	require.NoError(t, err)

	err = p.ProcessMessage(ctx, types.Message{
		Role: types.RoleUser, Content: "hello", Status: types.StatusProcessed,
	})
	assert.ErrorIs(t, err, types.ErrNotPending)

	err = p.ProcessMessage(ctx, types.Message{
		Role: types.RoleAssistant, Content: "hello", Status: types.StatusPending,
	})
	assert.ErrorIs(t, err, types.ErrNotUser)
}

// A delegated question spins up one analyst, and repeating the same
// delegation returns the cached answer without a second analyst or any
// further analyst model calls.
func TestProcessMessage_DelegationIdempotence(t *testing.T) {
	ctx := context.Background()
	question := "What is the mean systolic blood pressure reported across the papers?"

	script := delegation("Blood Pressure Analyst", question)
	script = append(script, textResp("The mean systolic pressure is summarized above."))
	// Second turn repeats the delegation; the cached answer comes back
	// without any analyst calls in between.
	script = append(script,
		toolResp(toolDelegate, map[string]string{"name": "Blood Pressure Analyst", "question": question}),
		textResp("Here is the summary again."))

	oracle := &scriptedOracle{resps: script}
	deps := testDeps(t, oracle)
	p, err := New(ctx, deps)
	require.NoError(t, err)

	err = p.ProcessMessage(ctx, types.Message{
		Role: types.RoleUser, Content: "Summarize blood pressure findings.", Status: types.StatusPending,
	})
	require.NoError(t, err)
	require.Len(t, p.Analysts(), 1)
	assert.Equal(t, "The answer.", p.Analysts()[0].Answer())
	firstTurnCalls := len(oracle.calls)

	err = p.ProcessMessage(ctx, types.Message{
		Role: types.RoleUser, Content: "Run that analysis again please.", Status: types.StatusPending,
	})
	require.NoError(t, err)

	assert.Len(t, p.Analysts(), 1)
	assert.Equal(t, firstTurnCalls+2, len(oracle.calls))

	chat, err := deps.DB.Chat(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pendingCount(chat))
	last := chat[len(chat)-1]
	assert.Equal(t, types.RoleAssistant, last.Role)
	assert.Equal(t, "Here is the summary again.", last.Content)

	// The cached tool result carries the analyst's answer verbatim.
	var cached types.Message
	for _, msg := range chat {
		if msg.Role == types.RoleTool && msg.Name == toolDelegate {
			cached = msg
		}
	}
	assert.Contains(t, cached.Content, "Response from Blood Pressure Analyst:\nThe answer.")
	assert.Contains(t, cached.Content, "Evidence provided by Blood Pressure Analyst:\nThe evidence.")
}

// Delegating a different question to an analyst that already answered
// runs it as a follow-up in the analyst's conversation instead of
// returning the stale answer or spinning up a second analyst.
func TestProcessMessage_FollowUpDelegation(t *testing.T) {
	ctx := context.Background()
	question := "What is the mean systolic blood pressure reported across the papers?"
	followUp := "Which of those papers measured pressure in a pediatric population?"

	script := delegation("Blood Pressure Analyst", question)
	script = append(script, textResp("The mean systolic pressure is summarized above."))
	script = append(script,
		toolResp(toolDelegate, map[string]string{"name": "Blood Pressure Analyst", "question": followUp}),
		toolResp("answer_followup_question",
			map[string]string{"answer": "Two pediatric papers.", "evidence": "Papers A and B enrolled children."}),
		textResp("The follow-up evidence holds up."),
		toolResp("check_completed_goal", map[string]bool{"resolved": true}),
		textResp("Two of the papers covered pediatric populations."))

	oracle := &scriptedOracle{resps: script}
	deps := testDeps(t, oracle)
	p, err := New(ctx, deps)
	require.NoError(t, err)

	err = p.ProcessMessage(ctx, types.Message{
		Role: types.RoleUser, Content: "Summarize blood pressure findings.", Status: types.StatusPending,
	})
	require.NoError(t, err)
	require.Len(t, p.Analysts(), 1)

	err = p.ProcessMessage(ctx, types.Message{
		Role: types.RoleUser, Content: "Were any of those pediatric studies?", Status: types.StatusPending,
	})
	require.NoError(t, err)
	assert.Len(t, p.Analysts(), 1)

	chat, err := deps.DB.Chat(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pendingCount(chat))

	var result types.Message
	for _, msg := range chat {
		if msg.Role == types.RoleTool && msg.Name == toolDelegate {
			result = msg
		}
	}
	assert.Contains(t, result.Content, "Response from Blood Pressure Analyst:\nTwo pediatric papers.")
	assert.Contains(t, result.Content, "Papers A and B enrolled children.")

	// The original answer stays on the analyst record.
	record, err := deps.DB.AnalystRecord(ctx, "Blood Pressure Analyst")
	require.NoError(t, err)
	assert.Equal(t, "The answer.", record.Answer)

	// The follow-up exchange is hidden from user-facing views of the
	// analyst's conversation.
	visible, err := deps.DB.AnalystContext(ctx, "Blood Pressure Analyst", false)
	require.NoError(t, err)
	for _, msg := range visible {
		assert.NotContains(t, msg.Content, "pediatric")
	}
}

func TestDelegateResearch_Validation(t *testing.T) {
	tests := []struct {
		name     string
		question string
	}{
		{"ab", "a sufficiently detailed question"},
		{"a name well over the fifty character maximum for analyst names", "a sufficiently detailed question"},
		{"Valid Name", "too short"},
	}
	for _, tt := range tests {
		err := validateDelegation(tt.name, tt.question)
		assert.ErrorIs(t, err, types.ErrBadDelegation)
	}
	assert.NoError(t, validateDelegation("Valid Name", "a sufficiently detailed question"))
}

// A crash that persisted an assistant tool-call entry as Pending is
// replayed on construction: the stored calls are dispatched and the
// turn continues to the same Processed end state.
func TestNew_ReplaysPendingToolCalls(t *testing.T) {
	ctx := context.Background()
	question := "What outcome measures are reported across the uploaded trials?"

	raw, _ := json.Marshal(map[string]string{"name": "Outcomes Analyst", "question": question})
	seed := []types.Message{
		{Role: types.RoleUser, Content: "What outcomes are reported?", Status: types.StatusProcessed},
		{Role: types.RoleAssistant, Content: placeholderContent, Status: types.StatusPending,
			ToolCalls: []types.ToolCallRef{{
				ID:       "call-9",
				Type:     "function",
				Function: types.FunctionCall{Name: toolDelegate, Arguments: string(raw)},
			}}},
	}

	script := []*types.ChatResponse{
		toolResp("complete_goal_by_answering_question_with_evidence",
			map[string]string{"answer": "Mortality and readmission.", "evidence": "Tables 1 and 2."}),
		textResp("The evidence supports the answer."),
		toolResp("check_completed_goal", map[string]bool{"resolved": true}),
		textResp("The trials report mortality and readmission outcomes."),
	}
	oracle := &scriptedOracle{resps: script}
	deps := testDeps(t, oracle)
	for _, msg := range seed {
		require.NoError(t, deps.DB.AddChat(ctx, msg))
	}

	p, err := New(ctx, deps)
	require.NoError(t, err)
	require.Len(t, p.Analysts(), 1)
	assert.Equal(t, "Mortality and readmission.", p.Analysts()[0].Answer())

	chat, err := deps.DB.Chat(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pendingCount(chat))

	// Stored order: user, assistant intent, tool result, final reply.
	require.Len(t, chat, 4)
	assert.Equal(t, types.RoleTool, chat[2].Role)
	assert.Equal(t, toolDelegate, chat[2].Name)
	assert.Contains(t, chat[2].Content, "Response from Outcomes Analyst:")
	assert.Equal(t, types.RoleAssistant, chat[3].Role)
	assert.Equal(t, "The trials report mortality and readmission outcomes.", chat[3].Content)
}

// Papers present at startup are processed before the ready banner, and
// the single-Pending discipline holds across the startup writes.
func TestNew_ProcessesPapersOnFirstRun(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, &scriptedOracle{})

	paper := ingestPaper(t, deps.DB, "pdf-bytes")
	_, err := New(ctx, deps)
	require.NoError(t, err)

	processed, err := deps.DB.ProcessedPaper(ctx, paper)
	require.NoError(t, err)
	assert.Equal(t, "text", processed.CleanedText)

	chat, err := deps.DB.Chat(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pendingCount(chat))
}
