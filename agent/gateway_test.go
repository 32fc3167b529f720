package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexusai/orchestrator/core"
)

func TestHTTPGateway_Complete_ParsesChoiceAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization header = %q, want Bearer test-key", got)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"42"}}],"usage":{"total_tokens":7}}`)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "test-key", core.NoOpLogger{})
	resp, err := gw.Complete(context.Background(), core.CompletionRequest{
		ModelID: "m1", Messages: []core.ChatMessage{{Role: "user", Content: "2+2?"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "42" || resp.TokensUsed != 7 {
		t.Errorf("Complete() = %+v, want content 42 tokens 7", resp)
	}
}

func TestHTTPGateway_Complete_NonOKStatusIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "k", core.NoOpLogger{})
	_, err := gw.Complete(context.Background(), core.CompletionRequest{ModelID: "m1"})
	if err == nil {
		t.Fatal("Complete() error = nil, want failure on 429")
	}
	var taskErr *core.TaskError
	if !castTaskErr(err, &taskErr) {
		t.Fatalf("Complete() error type = %T, want *core.TaskError", err)
	}
	if taskErr.Code != core.CodeRateLimit {
		t.Errorf("Complete() error code = %v, want %v", taskErr.Code, core.CodeRateLimit)
	}
}

func castTaskErr(err error, out **core.TaskError) bool {
	te, ok := err.(*core.TaskError)
	if !ok {
		return false
	}
	*out = te
	return true
}

func TestHTTPGateway_Stream_InvokesOnChunkPerDeltaAndAggregates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hello \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"world\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "k", core.NoOpLogger{})
	var chunks []core.Chunk
	resp, err := gw.Stream(context.Background(), core.CompletionRequest{ModelID: "m1"}, func(c core.Chunk) {
		chunks = append(chunks, c)
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if resp.Content != "hello world" {
		t.Errorf("Stream() aggregated content = %q, want %q", resp.Content, "hello world")
	}
	if len(chunks) != 3 { // two deltas + one Done marker
		t.Errorf("received %d chunks, want 3", len(chunks))
	}
	if !chunks[len(chunks)-1].Done {
		t.Error("last chunk should have Done=true")
	}
}

func TestHTTPGateway_ListModels_DecodesCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"id":"anthropic/claude-3.5-sonnet","context_length":200000,"pricing":{"prompt":3,"completion":15}}]}`)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "k", core.NoOpLogger{})
	models, err := gw.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 1 || models[0].ID != "anthropic/claude-3.5-sonnet" || models[0].ContextLength != 200000 {
		t.Errorf("ListModels() = %+v, unexpected", models)
	}
}

func TestNewHTTPGateway_DefaultsBaseURL(t *testing.T) {
	gw := NewHTTPGateway("", "k", core.NoOpLogger{})
	if gw.baseURL != "https://api.openai.com/v1" {
		t.Errorf("baseURL = %q, want default", gw.baseURL)
	}
}
