// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elias-jhsph/scienceai/internal/llm"
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

type fakeRasterizer struct {
	pages []string
}

func (f *fakeRasterizer) Rasterize(context.Context, string) ([]string, error) {
	return f.pages, nil
}

func crossrefServer(t *testing.T, work map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"message": work})
	}))
	t.Cleanup(srv.Close)
	prev := crossrefAPIBase
	crossrefAPIBase = srv.URL + "/"
	t.Cleanup(func() { crossrefAPIBase = prev })
	return srv
}

func TestCrossrefWork(t *testing.T) {
	crossrefServer(t, map[string]any{
		"DOI":             "10.1000/xyz",
		"title":           []string{"The Study"},
		"container-title": []string{"Journal of Tests"},
		"author": []map[string]string{
			{"given": "Jane", "family": "Doe"},
			{"name": "The Consortium"},
		},
		"issued":    map[string]any{"date-parts": [][]int{{2021, 6, 3}}},
		"reference": []map[string]string{{"DOI": "10.1/ref1"}, {}, {"DOI": "10.1/ref2"}},
	})

	c := NewCrossref("test@example.org", nil)
	bib, refs, err := c.Work(context.Background(), "10.1000/xyz")
	require.NoError(t, err)
	assert.Equal(t, "10.1000/xyz", bib.DOI)
	assert.Equal(t, "The Study", bib.Title)
	assert.Equal(t, "Journal of Tests", bib.Venue)
	assert.Equal(t, []string{"Jane Doe", "The Consortium"}, bib.Authors)
	assert.Equal(t, 2021, bib.Date.Year())
	assert.Equal(t, []string{"10.1/ref1", "10.1/ref2"}, refs)
}

func testProcessor(t *testing.T, oracle llm.Oracle, pages []string) *ModelProcessor {
	t.Helper()
	gw := llm.NewGateway(oracle, llm.NewBudget(0), zerolog.Nop())
	return NewModelProcessor(gw, &fakeRasterizer{pages: pages}, NewCrossref("", nil), "test-model", zerolog.Nop())
}

func TestProcess(t *testing.T) {
	crossrefServer(t, map[string]any{
		"DOI":       "10.1000/xyz",
		"title":     []string{"The Study"},
		"author":    []map[string]string{{"given": "Jane", "family": "Doe"}},
		"reference": []map[string]string{{"DOI": "10.1/ref1"}},
	})
	oracle := &scriptedOracle{resps: []*types.ChatResponse{
		toolResp("store_doi", map[string]string{"doi": "10.1000/xyz"}),
		toolResp("store_title", map[string]string{"title": "The Study"}),
		toolResp("store_title_similar", map[string]bool{"titles_similar": true}),
		textResp("Body text of page one. **PAGE_COMPLETE**"),
		toolResp("store_figure_table_count", map[string]int{"figure_count": 0, "table_count": 0}),
		textResp("A one paragraph summary."),
	}}
	p := testProcessor(t, oracle, []string{"data:image/png;base64,AAA"})

	processed, err := p.Process(context.Background(), "ignored.pdf")
	require.NoError(t, err)
	assert.Len(t, oracle.calls, 6)
	assert.Equal(t, "10.1000/xyz", processed.Metadata.DOI)
	assert.Equal(t, "A one paragraph summary.", processed.Summary)
	assert.Contains(t, processed.CleanedText, "The Study")
	assert.Contains(t, processed.CleanedText, "Body text of page one.")
	assert.NotContains(t, processed.CleanedText, "**PAGE_COMPLETE**")
	assert.Contains(t, processed.CleanedText, "## REFERENCES")
	assert.Contains(t, processed.CleanedText, "10.1/ref1")
	assert.Equal(t, []string{"data:image/png;base64,AAA"}, processed.PageImages)
}

func TestProcess_FigurePassRuns(t *testing.T) {
	crossrefServer(t, map[string]any{
		"DOI":   "10.1000/xyz",
		"title": []string{"The Study"},
	})
	oracle := &scriptedOracle{resps: []*types.ChatResponse{
		toolResp("store_doi", map[string]string{"doi": "10.1000/xyz"}),
		toolResp("store_title", map[string]string{"title": "The Study"}),
		toolResp("store_title_similar", map[string]bool{"titles_similar": true}),
		textResp("Body text. **PAGE_COMPLETE**"),
		toolResp("store_figure_table_count", map[string]int{"figure_count": 1, "table_count": 0}),
		textResp("**Figure/Table Description:** a bar chart. **FIGURES_AND_TABLES_COMPLETE**"),
		textResp("Summary."),
	}}
	p := testProcessor(t, oracle, []string{"data:image/png;base64,AAA"})

	processed, err := p.Process(context.Background(), "ignored.pdf")
	require.NoError(t, err)
	assert.Len(t, oracle.calls, 7)
	assert.Contains(t, processed.CleanedText, "a bar chart.")
	assert.NotContains(t, processed.CleanedText, "**FIGURES_AND_TABLES_COMPLETE**")
}

func TestProcess_NoIdentifierFound(t *testing.T) {
	oracle := &scriptedOracle{resps: []*types.ChatResponse{
		toolResp("keep_searching_for_doi", map[string]any{}),
		toolResp("keep_searching_for_doi", map[string]any{}),
		toolResp("keep_searching_for_doi", map[string]any{}),
	}}
	p := testProcessor(t, oracle, []string{"data:image/png;base64,AAA"})

	_, err := p.Process(context.Background(), "ignored.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no bibliographic identifier")
	assert.Len(t, oracle.calls, 3)
}

func TestProcess_WrongDOIGoesOnIncorrectList(t *testing.T) {
	crossrefServer(t, map[string]any{
		"DOI":   "10.1000/wrong",
		"title": []string{"A Different Paper"},
	})
	oracle := &scriptedOracle{resps: []*types.ChatResponse{
		toolResp("store_doi", map[string]string{"doi": "10.1000/wrong"}),
		toolResp("store_title", map[string]string{"title": "The Actual Paper"}),
		toolResp("store_title_similar", map[string]bool{"titles_similar": false}),
		// Second attempt sees the incorrect list and gives up.
		toolResp("keep_searching_for_doi", map[string]any{}),
		toolResp("keep_searching_for_doi", map[string]any{}),
	}}
	p := testProcessor(t, oracle, []string{"data:image/png;base64,AAA"})

	_, err := p.Process(context.Background(), "ignored.pdf")
	require.Error(t, err)

	// The retry prompt names the rejected DOI.
	last := oracle.calls[len(oracle.calls)-1]
	assert.Contains(t, last.Messages[1].Content, "10.1000/wrong")
}
