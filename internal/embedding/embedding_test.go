package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"docflow/internal/config"
)

func TestOpenAI_EmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req openAIEmbeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 2 || req.Model != "text-embedding-3-small" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Embedding.Provider = "openai"
	cfg.Embedding.OpenAI.APIKey = "sk-test"
	cfg.Embedding.OpenAI.BaseURL = srv.URL + "/v1"
	e, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig error: %v", err)
	}

	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed error: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("expected vectors in input order, got %v", vecs)
	}
}

func TestOpenAI_StatusClassification(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := &openAIClient{apiKey: "k", baseURL: srv.URL, model: "m", http: srv.Client()}

	_, err := c.Embed(context.Background(), []string{"x"})
	var se *StatusError
	if !errors.As(err, &se) || !se.Transient() {
		t.Fatalf("expected transient StatusError for 503, got %v", err)
	}

	status = http.StatusBadRequest
	_, err = c.Embed(context.Background(), []string{"x"})
	if !errors.As(err, &se) || se.Transient() {
		t.Fatalf("expected permanent StatusError for 400, got %v", err)
	}

	status = http.StatusTooManyRequests
	_, err = c.Embed(context.Background(), []string{"x"})
	if !errors.As(err, &se) || !se.Transient() {
		t.Fatalf("expected transient StatusError for 429, got %v", err)
	}
}

func TestNewFromConfig_Unconfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Embedding.Provider = "openai"
	if _, err := NewFromConfig(cfg); err == nil {
		t.Fatalf("expected error for openai without api key")
	}
	cfg.Embedding.Provider = "nope"
	if _, err := NewFromConfig(cfg); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestHash_DeterministicAndNormalized(t *testing.T) {
	h := NewHash(64)
	a, _ := h.Embed(context.Background(), []string{"Go channels and goroutines"})
	b, _ := h.Embed(context.Background(), []string{"go CHANNELS, and goroutines!"})
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("expected identical vectors for equivalent text")
		}
	}
	var norm float64
	for _, x := range a[0] {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Fatalf("expected unit vector, got norm %v", norm)
	}
	empty, _ := h.Embed(context.Background(), []string{"   "})
	if len(empty[0]) != 64 {
		t.Fatalf("expected zero vector of full size, got %d", len(empty[0]))
	}
}
