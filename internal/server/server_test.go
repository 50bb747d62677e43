package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dataplane-ai/dbrag-go/internal/answer"
	"github.com/dataplane-ai/dbrag-go/internal/intent"
	"github.com/dataplane-ai/dbrag-go/internal/rag"
	"github.com/dataplane-ai/dbrag-go/internal/rewrite"
	"github.com/dataplane-ai/dbrag-go/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeAsker is a test double for the asker interface. It records every call
// and serves a canned result.
type fakeAsker struct {
	mu        sync.Mutex
	result    *answer.Result
	cands     []answer.Candidate
	intents   []intent.Intent
	questions []string
	params    []rewrite.EntityParams
	opts      []answer.AskOptions
}

func (f *fakeAsker) AskWith(_ context.Context, question string, params rewrite.EntityParams, opts answer.AskOptions) *answer.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, question)
	f.params = append(f.params, params)
	f.opts = append(f.opts, opts)
	if f.result != nil {
		return f.result
	}
	return &answer.Result{Answer: answer.NotFoundMessage}
}

func (f *fakeAsker) Collect(_ context.Context, question string, params rewrite.EntityParams) ([]answer.Candidate, []intent.Intent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, question)
	f.params = append(f.params, params)
	return f.cands, f.intents
}

// fakeHistory is a test double for store.HistoryStore.
type fakeHistory struct {
	mu        sync.Mutex
	entries   []store.Entry
	recentN   []int
	appendErr error
	recentErr error
}

func (f *fakeHistory) Append(_ context.Context, e store.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeHistory) Recent(_ context.Context, n int) ([]store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recentN = append(f.recentN, n)
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	if n > len(f.entries) {
		n = len(f.entries)
	}
	return f.entries[:n], nil
}

func (f *fakeHistory) Close() error { return nil }

// newTestServer builds a Server with fake dependencies and an isolated
// metrics registry.
func newTestServer() *Server {
	s, err := newServer(&fakeAsker{}, &Config{Registry: prometheus.NewRegistry()})
	if err != nil {
		panic(err)
	}
	return s
}

// newAskTestServer builds a Server around the given fake asker.
func newAskTestServer(t *testing.T, fa *fakeAsker, mutate func(*Config)) *Server {
	t.Helper()
	cfg := &Config{Registry: prometheus.NewRegistry()}
	if mutate != nil {
		mutate(cfg)
	}
	s, err := newServer(fa, cfg)
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}

func askBody(t *testing.T, v any) *strings.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return strings.NewReader(string(raw))
}

// ---------------------------------------------------------------------------
// POST /api/ask
// ---------------------------------------------------------------------------

func TestHandleAsk_OK(t *testing.T) {
	t.Parallel()

	fa := &fakeAsker{result: &answer.Result{
		Answer: "orders has 14 columns",
		Sections: []answer.Section{{
			Label:  "Schema Information",
			Family: intent.FamilyMetadata,
			Text:   "orders has 14 columns",
			Status: answer.StatusOK,
		}},
		Intents:      []intent.Intent{{Name: "schema-lookup", Family: intent.FamilyMetadata}},
		Confidence:   0.8,
		RetrievalMs:  12,
		GenerationMs: 34,
	}}
	s := newAskTestServer(t, fa, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/ask",
		askBody(t, map[string]string{"question": "what columns does orders have"}))
	w := httptest.NewRecorder()

	s.handleAsk(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp askResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "orders has 14 columns" {
		t.Errorf("answer: got %q", resp.Answer)
	}
	if len(resp.Sections) != 1 || resp.Sections[0].Label != "Schema Information" {
		t.Errorf("sections: got %+v", resp.Sections)
	}
	if len(resp.Intents) != 1 || resp.Intents[0] != "schema-lookup" {
		t.Errorf("intents: got %v", resp.Intents)
	}
	if resp.Confidence != 0.8 {
		t.Errorf("confidence: got %v", resp.Confidence)
	}
	if resp.RetrievalMs != 12 || resp.GenerationMs != 34 {
		t.Errorf("timings: got %d/%d", resp.RetrievalMs, resp.GenerationMs)
	}
}

func TestHandleAsk_InvalidBody(t *testing.T) {
	t.Parallel()

	s := newAskTestServer(t, &fakeAsker{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader("{not json"))
	w := httptest.NewRecorder()

	s.handleAsk(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", w.Code)
	}
}

func TestHandleAsk_MissingQuestion(t *testing.T) {
	t.Parallel()

	s := newAskTestServer(t, &fakeAsker{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/ask",
		askBody(t, map[string]string{"cluster": "prod"}))
	w := httptest.NewRecorder()

	s.handleAsk(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "question is required") {
		t.Errorf("body: got %q", w.Body.String())
	}
}

func TestHandleAsk_ForwardsScopeAndOverrides(t *testing.T) {
	t.Parallel()

	fa := &fakeAsker{result: &answer.Result{Answer: "ok"}}
	s := newAskTestServer(t, fa, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/ask", askBody(t, map[string]any{
		"question":    "schema of orders",
		"cluster":     "prod-west",
		"keyspace":    "sales",
		"table":       "orders",
		"topK":        3,
		"maxTokens":   512,
		"temperature": 0.7,
	}))
	w := httptest.NewRecorder()

	s.handleAsk(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	fa.mu.Lock()
	defer fa.mu.Unlock()
	if len(fa.params) != 1 || len(fa.opts) != 1 {
		t.Fatalf("expected 1 call, got params=%d opts=%d", len(fa.params), len(fa.opts))
	}
	p := fa.params[0]
	if p.Cluster != "prod-west" || p.Keyspace != "sales" || p.Table != "orders" {
		t.Errorf("entity params: got %+v", p)
	}
	o := fa.opts[0]
	if o.TopK != 3 || o.TotalMaxTokens != 512 || o.Temperature != 0.7 {
		t.Errorf("overrides: got %+v", o)
	}
}

func TestHandleAsk_NotFoundOutcomeMetric(t *testing.T) {
	t.Parallel()

	var reg *prometheus.Registry
	s := newAskTestServer(t, &fakeAsker{}, func(cfg *Config) {
		reg = cfg.Registry
	})

	req := httptest.NewRequest(http.MethodPost, "/api/ask",
		askBody(t, map[string]string{"question": "anything"}))
	s.handleAsk(httptest.NewRecorder(), req)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() != "dbrag_ask_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" && lp.GetValue() == "not_found" {
					if m.GetCounter().GetValue() != 1 {
						t.Errorf("want counter=1, got %v", m.GetCounter().GetValue())
					}
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("dbrag_ask_requests_total{outcome=\"not_found\"} not found in gathered metrics")
	}
}

func TestHandleAsk_RecordsHistory(t *testing.T) {
	t.Parallel()

	hist := &fakeHistory{}
	fa := &fakeAsker{result: &answer.Result{
		Answer:     "lineage answer",
		Intents:    []intent.Intent{{Name: "lineage-kafka", Family: intent.FamilyLineage}},
		Confidence: 0.75,
	}}
	s := newAskTestServer(t, fa, func(cfg *Config) {
		cfg.History = hist
	})

	req := httptest.NewRequest(http.MethodPost, "/api/ask", askBody(t, map[string]string{
		"question": "what kafka topic feeds orders",
		"cluster":  "prod-east",
	}))
	s.handleAsk(httptest.NewRecorder(), req)

	hist.mu.Lock()
	defer hist.mu.Unlock()
	if len(hist.entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(hist.entries))
	}
	e := hist.entries[0]
	if e.Question != "what kafka topic feeds orders" {
		t.Errorf("question: got %q", e.Question)
	}
	if e.Answer != "lineage answer" {
		t.Errorf("answer: got %q", e.Answer)
	}
	if len(e.Intents) != 1 || e.Intents[0] != "lineage-kafka" {
		t.Errorf("intents: got %v", e.Intents)
	}
	if e.Confidence != 0.75 {
		t.Errorf("confidence: got %v", e.Confidence)
	}
	if e.Cluster != "prod-east" {
		t.Errorf("cluster: got %q", e.Cluster)
	}
}

func TestHandleAsk_HistoryAppendFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	hist := &fakeHistory{appendErr: errors.New("disk full")}
	fa := &fakeAsker{result: &answer.Result{Answer: "still served"}}
	s := newAskTestServer(t, fa, func(cfg *Config) {
		cfg.History = hist
	})

	req := httptest.NewRequest(http.MethodPost, "/api/ask",
		askBody(t, map[string]string{"question": "schema of orders"}))
	w := httptest.NewRecorder()

	s.handleAsk(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("history failure must not fail the request: got %d", w.Code)
	}
	var resp askResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "still served" {
		t.Errorf("answer: got %q", resp.Answer)
	}
}

// ---------------------------------------------------------------------------
// POST /api/rca
// ---------------------------------------------------------------------------

func TestHandleRca_FindsRootCause(t *testing.T) {
	t.Parallel()

	fa := &fakeAsker{
		cands: []answer.Candidate{{
			Document: rag.Document{
				ID:      "log-1",
				Family:  intent.FamilyLogs,
				Source:  "cassandra/system.log",
				Content: "node 10.0.0.4 reported connection refused while streaming",
			},
			Similarity: 0.9,
		}},
		intents: []intent.Intent{{Name: "logs-recent", Family: intent.FamilyLogs}},
	}
	s := newAskTestServer(t, fa, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/rca",
		askBody(t, map[string]string{"question": "why are writes failing"}))
	w := httptest.NewRecorder()

	s.handleRca(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Question  string `json:"question"`
		RootCause *struct {
			Description string  `json:"description"`
			Confidence  float32 `json:"confidence"`
		} `json:"rootCause"`
		Signals []json.RawMessage `json:"signals"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Question != "why are writes failing" {
		t.Errorf("question: got %q", resp.Question)
	}
	if resp.RootCause == nil {
		t.Fatal("expected a root cause for an error-bearing candidate")
	}
	if !strings.Contains(resp.RootCause.Description, "error") {
		t.Errorf("description: got %q", resp.RootCause.Description)
	}
	if len(resp.Signals) == 0 {
		t.Error("expected at least one signal")
	}
}

func TestHandleRca_NoSignals(t *testing.T) {
	t.Parallel()

	fa := &fakeAsker{
		cands: []answer.Candidate{{
			Document: rag.Document{
				ID:      "meta-1",
				Family:  intent.FamilyMetadata,
				Content: "orders table with 14 columns, partitioned by order_id",
			},
			Similarity: 0.9,
		}},
	}
	s := newAskTestServer(t, fa, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/rca",
		askBody(t, map[string]string{"question": "describe the orders table"}))
	w := httptest.NewRecorder()

	s.handleRca(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		RootCause *struct {
			Description string `json:"description"`
		} `json:"rootCause"`
		Confidence float32 `json:"confidence"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RootCause == nil {
		t.Fatal("expected the no-root-cause sentinel, got nil")
	}
	if !strings.Contains(resp.RootCause.Description, "No root cause identified") {
		t.Errorf("description: got %q", resp.RootCause.Description)
	}
	if resp.Confidence != 0 {
		t.Errorf("confidence: got %v, want 0", resp.Confidence)
	}
}

func TestHandleRca_MissingQuestion(t *testing.T) {
	t.Parallel()

	s := newAskTestServer(t, &fakeAsker{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/rca", askBody(t, map[string]string{}))
	w := httptest.NewRecorder()

	s.handleRca(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// GET /api/history
// ---------------------------------------------------------------------------

func TestHandleHistory_NotConfigured(t *testing.T) {
	t.Parallel()

	s := newAskTestServer(t, &fakeAsker{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w := httptest.NewRecorder()

	s.handleHistory(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a history store, got %d", w.Code)
	}
}

func TestHandleHistory_ReturnsEntries(t *testing.T) {
	t.Parallel()

	askedAt := time.Date(2026, 8, 30, 9, 15, 0, 0, time.UTC)
	hist := &fakeHistory{entries: []store.Entry{{
		Question:   "any errors today?",
		Answer:     "two timeouts on node 3",
		Intents:    []string{"logs-recent"},
		Confidence: 0.7,
		Cluster:    "prod-west",
		CreatedAt:  askedAt,
	}}}
	s := newAskTestServer(t, &fakeAsker{}, func(cfg *Config) {
		cfg.History = hist
	})

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w := httptest.NewRecorder()

	s.handleHistory(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var entries []historyEntry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Question != "any errors today?" || e.Answer != "two timeouts on node 3" {
		t.Errorf("entry: got %+v", e)
	}
	if e.Cluster != "prod-west" || e.Confidence != 0.7 {
		t.Errorf("entry: got %+v", e)
	}
	if e.AskedAt != "2026-08-30T09:15:00Z" {
		t.Errorf("askedAt: got %q", e.AskedAt)
	}

	hist.mu.Lock()
	defer hist.mu.Unlock()
	if len(hist.recentN) != 1 || hist.recentN[0] != historyDefaultLimit {
		t.Errorf("default limit: got %v, want [%d]", hist.recentN, historyDefaultLimit)
	}
}

func TestHandleHistory_LimitValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		query    string
		wantCode int
		wantN    int
	}{
		{"explicit", "?n=5", http.StatusOK, 5},
		{"capped", "?n=5000", http.StatusOK, historyMaxLimit},
		{"zero", "?n=0", http.StatusBadRequest, 0},
		{"negative", "?n=-3", http.StatusBadRequest, 0},
		{"garbage", "?n=lots", http.StatusBadRequest, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			hist := &fakeHistory{}
			s := newAskTestServer(t, &fakeAsker{}, func(cfg *Config) {
				cfg.History = hist
			})

			req := httptest.NewRequest(http.MethodGet, "/api/history"+tc.query, nil)
			w := httptest.NewRecorder()
			s.handleHistory(w, req)

			if w.Code != tc.wantCode {
				t.Fatalf("code: got %d, want %d", w.Code, tc.wantCode)
			}
			if tc.wantCode != http.StatusOK {
				return
			}
			hist.mu.Lock()
			defer hist.mu.Unlock()
			if len(hist.recentN) != 1 || hist.recentN[0] != tc.wantN {
				t.Errorf("limit: got %v, want [%d]", hist.recentN, tc.wantN)
			}
		})
	}
}

func TestHandleHistory_StoreError(t *testing.T) {
	t.Parallel()

	hist := &fakeHistory{recentErr: errors.New("database is locked")}
	s := newAskTestServer(t, &fakeAsker{}, func(cfg *Config) {
		cfg.History = hist
	})

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w := httptest.NewRecorder()

	s.handleHistory(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on store failure, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

func TestRouting_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/ask", nil)
	w := httptest.NewRecorder()

	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/ask: expected 405, got %d", w.Code)
	}
}

func TestRouting_HealthIsUnprotected(t *testing.T) {
	t.Parallel()

	fa := &fakeAsker{}
	s := newAskTestServer(t, fa, func(cfg *Config) {
		cfg.APIKey = "secret"
	})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("/api/health must not require auth: got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/ask",
		askBody(t, map[string]string{"question": "schema"}))
	w = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("/api/ask without token: expected 401, got %d", w.Code)
	}
}
