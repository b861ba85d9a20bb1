package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"docpipe/internal/journal"
	"docpipe/internal/models"
	"docpipe/internal/pipeline"
)

type fakePipeline struct {
	lastInlet pipeline.InletRequest
	inletOut  []models.Message
	chunks    []string
	reply     string
}

func (f *fakePipeline) Inlet(_ context.Context, req pipeline.InletRequest) ([]models.Message, error) {
	f.lastInlet = req
	if f.inletOut != nil {
		return f.inletOut, nil
	}
	return req.Messages, nil
}

func (f *fakePipeline) Complete(_ context.Context, _ []models.Message, stream bool, callback func(chunk string) error) (string, error) {
	if !stream {
		return f.reply, nil
	}
	var full string
	for _, c := range f.chunks {
		full += c
		if callback != nil {
			if err := callback(c); err != nil {
				return full, err
			}
		}
	}
	return full, nil
}

type fakeAuditor struct {
	entries []journal.Entry
}

func (f *fakeAuditor) ListRecent(_ context.Context, _ models.SessionKey, _ int) ([]journal.Entry, error) {
	return f.entries, nil
}

func newTestRouter(p Pipeline, auditor Auditor, apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(p, auditor, apiKey).RegisterRoutes(router)
	return router
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(&fakePipeline{}, nil, "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestInletMapsHostFiles(t *testing.T) {
	p := &fakePipeline{}
	router := newTestRouter(p, nil, "")

	body := `{
		"user": {"id": "u1"},
		"chat_id": "c1",
		"id": "m1",
		"messages": [{"id": "m1", "role": "user", "content": "summarize"}],
		"files": [{"url": "/api/v1/files/f1", "name": "report.pdf", "file": {"id": "f1", "meta": {"content_type": "application/pdf"}}}]
	}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/inlet", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body %s", rec.Code, rec.Body.String())
	}
	if p.lastInlet.Key.UserID != "u1" || p.lastInlet.Key.ChatID != "c1" {
		t.Fatalf("session key not mapped: %+v", p.lastInlet.Key)
	}
	if len(p.lastInlet.Files) != 1 {
		t.Fatalf("expected 1 file, got %+v", p.lastInlet.Files)
	}
	f := p.lastInlet.Files[0]
	if f.FileID != "f1" || f.DisplayName != "report.pdf" || f.ContentType != "application/pdf" {
		t.Fatalf("file descriptor not mapped: %+v", f)
	}

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Messages) != 1 {
		t.Fatalf("expected echoed messages, got %+v", resp.Messages)
	}
}

func TestInletPrefersMetadataEnvelope(t *testing.T) {
	p := &fakePipeline{}
	router := newTestRouter(p, nil, "")

	body := `{
		"metadata": {"user_id": "meta-u", "chat_id": "meta-c", "message_id": "meta-m"},
		"user": {"id": "flat-u"},
		"chat_id": "flat-c",
		"id": "flat-m",
		"messages": []
	}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/inlet", strings.NewReader(body))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if p.lastInlet.Key.UserID != "meta-u" || p.lastInlet.Key.ChatID != "meta-c" || p.lastInlet.MessageID != "meta-m" {
		t.Fatalf("metadata envelope not preferred: %+v", p.lastInlet)
	}
}

func TestInletRejectsBadBody(t *testing.T) {
	router := newTestRouter(&fakePipeline{}, nil, "")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/inlet", bytes.NewReader([]byte("{")))
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestAPIKeyGuard(t *testing.T) {
	router := newTestRouter(&fakePipeline{}, nil, "secret")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/inlet", strings.NewReader(`{"user":{"id":"u"},"chat_id":"c","messages":[]}`))
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/inlet", strings.NewReader(`{"user":{"id":"u"},"chat_id":"c","messages":[]}`))
	req.Header.Set("Authorization", "Bearer secret")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", rec.Code)
	}

	// Health stays open.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz should not require auth, got %d", rec.Code)
	}
}

func TestChatCompletionsNonStreaming(t *testing.T) {
	p := &fakePipeline{reply: "the revenue is 100"}
	router := newTestRouter(p, nil, "")

	body := `{"user":{"id":"u1"},"chat_id":"c1","model":"gpt-4o","messages":[{"role":"user","content":"q"}]}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Model   string `json:"model"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Message.Role != string(models.RoleAssistant) || resp.Message.Content != "the revenue is 100" {
		t.Fatalf("unexpected completion: %+v", resp)
	}
}

func TestChatCompletionsStreaming(t *testing.T) {
	p := &fakePipeline{chunks: []string{"rev", "enue"}}
	router := newTestRouter(p, nil, "")

	body := `{"user":{"id":"u1"},"chat_id":"c1","stream":true,"messages":[{"role":"user","content":"q"}]}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", ct)
	}
	out := rec.Body.String()
	if !strings.Contains(out, "event: stream") {
		t.Fatalf("missing stream events: %s", out)
	}
	if !strings.Contains(out, "event: done") {
		t.Fatalf("missing done event: %s", out)
	}
	if !strings.Contains(out, `"content":"rev"`) || !strings.Contains(out, `"content":"enue"`) {
		t.Fatalf("chunks missing from stream: %s", out)
	}
}

func TestListExtractions(t *testing.T) {
	auditor := &fakeAuditor{entries: []journal.Entry{{FileID: "f1", Method: "engine"}}}
	router := newTestRouter(&fakePipeline{}, auditor, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/u1/c1/extractions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Extractions []journal.Entry `json:"extractions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Extractions) != 1 || resp.Extractions[0].FileID != "f1" {
		t.Fatalf("unexpected entries: %+v", resp.Extractions)
	}
}

func TestListExtractionsDisabled(t *testing.T) {
	router := newTestRouter(&fakePipeline{}, nil, "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/u1/c1/extractions", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when journal disabled, got %d", rec.Code)
	}
}
