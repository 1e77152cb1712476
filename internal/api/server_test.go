// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elias-jhsph/scienceai/pkg/types"
)

type cannedOracle struct {
	reply string
}

func (o *cannedOracle) Chat(context.Context, types.ChatRequest) (*types.ChatResponse, error) {
	return &types.ChatResponse{Content: o.reply}, nil
}

type fakeProcessor struct{}

func (fakeProcessor) Process(context.Context, string) (types.ProcessedPaper, error) {
	return types.ProcessedPaper{CleanedText: "text", Summary: "summary"}, nil
}

func testServer(t *testing.T, reply string) *Server {
	t.Helper()
	cfg := types.Config{}
	cfg.Project.StorageDir = t.TempDir()
	cfg.Server.PollTimeout = 2 * time.Second
	s := New(cfg, zerolog.Nop(),
		WithOracle(&cannedOracle{reply: reply}),
		WithProcessor(fakeProcessor{}))
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s
}

func doJSON(t *testing.T, h http.Handler, method, target, body string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func openAndAwait(t *testing.T, h http.Handler, name string) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/projects/"+name+"/", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var status projectStatus
		doJSON(t, h, http.MethodGet, "/api/projects/"+name+"/", "", &status)
		require.Empty(t, status.Error)
		if status.Ready {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("project never became ready")
}

func TestProjectLifecycle(t *testing.T) {
	s := testServer(t, "Here is my reply.")
	h := s.Routes()

	openAndAwait(t, h, "demo")

	var list projectList
	doJSON(t, h, http.MethodGet, "/api/projects", "", &list)
	assert.Equal(t, []string{"demo"}, list.Projects)

	rec := doJSON(t, h, http.MethodDelete, "/api/projects/demo/", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSendMessageAndChat(t *testing.T) {
	s := testServer(t, "Here is my reply.")
	h := s.Routes()
	openAndAwait(t, h, "demo")

	rec := doJSON(t, h, http.MethodPost, "/api/projects/demo/messages",
		`{"content": "What do the papers say?"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var page chatPage
		doJSON(t, h, http.MethodGet, "/api/projects/demo/chat", "", &page)
		if n := len(page.Messages); n > 0 {
			last := page.Messages[n-1]
			if last.Role == types.RoleAssistant && last.Status == types.StatusProcessed {
				assert.Equal(t, "Here is my reply.", last.Content)
				assert.NotEmpty(t, page.Stamp)
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("assistant reply never arrived")
}

func TestSendMessage_RequiresContent(t *testing.T) {
	s := testServer(t, "ok")
	h := s.Routes()
	openAndAwait(t, h, "demo")

	rec := doJSON(t, h, http.MethodPost, "/api/projects/demo/messages", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnopenedProjectIsNotFound(t *testing.T) {
	s := testServer(t, "ok")
	h := s.Routes()

	rec := doJSON(t, h, http.MethodGet, "/api/projects/ghost/chat", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBrowseData(t *testing.T) {
	s := testServer(t, "ok")
	h := s.Routes()
	openAndAwait(t, h, "demo")

	var names []any
	rec := doJSON(t, h, http.MethodGet, "/api/projects/demo/data?path=/", "", &names)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, names)
}

func TestExportArchive(t *testing.T) {
	s := testServer(t, "ok")
	h := s.Routes()
	openAndAwait(t, h, "demo")

	req := httptest.NewRequest(http.MethodGet, "/api/projects/demo/export", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.NotZero(t, rec.Body.Len())
}
