package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"docflow/internal/config"
)

// Provider identifies which embedding backend to use.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGoogle Provider = "google"
	ProviderHash   Provider = "hash"
)

// Embedder turns texts into vectors. The returned slice has one vector per
// input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	Provider   Provider
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s embeddings failed with status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s embeddings failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Transient reports whether retrying the same request may succeed.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= 500
}

// ErrCountMismatch is returned when a provider returns a different number
// of vectors than texts sent.
var ErrCountMismatch = errors.New("embedding count does not match input count")

// NewFromConfig constructs an Embedder from the global config.
func NewFromConfig(cfg *config.Config) (Embedder, error) {
	ec := cfg.Embedding
	timeout := time.Duration(ec.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch Provider(ec.Provider) {
	case ProviderOpenAI:
		if ec.OpenAI.APIKey == "" || ec.OpenAI.Model == "" {
			return nil, errors.New("openai embedding provider is not fully configured")
		}
		return &openAIClient{
			apiKey:  ec.OpenAI.APIKey,
			baseURL: ec.OpenAI.BaseURL,
			model:   ec.OpenAI.Model,
			http:    &http.Client{Timeout: timeout},
		}, nil
	case ProviderGoogle:
		if ec.Google.APIKey == "" || ec.Google.Model == "" {
			return nil, errors.New("google embedding provider is not fully configured")
		}
		return &googleClient{
			apiKey: ec.Google.APIKey,
			model:  ec.Google.Model,
			http:   &http.Client{Timeout: timeout},
		}, nil
	case ProviderHash:
		return NewHash(ec.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", ec.Provider)
	}
}
