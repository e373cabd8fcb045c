package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClientWithConfig(Config{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "test-model",
		Timeout: 5 * time.Second,
	})
}

func completionResponse(content string) string {
	return `{"choices":[{"message":{"content":` + mustJSON(content) + `}}]}`
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestCompleteMessages(t *testing.T) {
	var gotAuth string
	var gotReq openAIRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Write([]byte(completionResponse("  hello there  ")))
	})

	got, err := client.CompleteMessages(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("CompleteMessages failed: %v", err)
	}
	if got != "hello there" {
		t.Errorf("Expected trimmed content, got %q", got)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Unexpected auth header: %q", gotAuth)
	}
	if gotReq.Model != "test-model" || len(gotReq.Messages) != 2 {
		t.Errorf("Unexpected request body: %+v", gotReq)
	}
}

func TestCompleteWithSystemSkipsEmptySystem(t *testing.T) {
	var gotReq openAIRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(completionResponse("ok")))
	})

	if _, err := client.CompleteWithSystem(context.Background(), "   ", "hi"); err != nil {
		t.Fatalf("CompleteWithSystem failed: %v", err)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != "user" {
		t.Errorf("Blank system prompt should be dropped, got %+v", gotReq.Messages)
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	attempts := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(completionResponse("recovered")))
	})

	got, err := client.Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "recovered" {
		t.Errorf("Expected retried response, got %q", got)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestNonRetryableStatusFailsFast(t *testing.T) {
	attempts := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad model"}}`))
	})

	_, err := client.Complete(context.Background(), "hi")
	if err == nil {
		t.Fatal("Expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("Expected status in error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("400 must not be retried, got %d attempts", attempts)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"quota exhausted","type":"insufficient_quota"}}`))
	})

	_, err := client.Complete(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "quota exhausted") {
		t.Fatalf("Expected API error to surface, got %v", err)
	}
}

func TestEmptyChoicesIsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})

	if _, err := client.Complete(context.Background(), "hi"); err == nil {
		t.Fatal("Expected error for empty choices")
	}
}

func TestMissingAPIKey(t *testing.T) {
	client := NewOpenAIClientWithConfig(Config{Model: "m"})

	if _, err := client.Complete(context.Background(), "hi"); err == nil {
		t.Fatal("Expected error without API key")
	}
}

func TestNoMessages(t *testing.T) {
	client := NewOpenAIClientWithConfig(Config{APIKey: "sk", Model: "m"})

	if _, err := client.CompleteMessages(context.Background(), nil); err == nil {
		t.Fatal("Expected error for empty message list")
	}
}
