package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoText is returned when a document yields no usable text. It is a
// permanent failure; retrying the same bytes gives the same result.
var ErrNoText = errors.New("no text could be extracted from the document")

// ErrUnsupportedType is returned for file types without an extractor.
var ErrUnsupportedType = errors.New("unsupported file type")

// Extractor turns document bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, data []byte) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, data []byte) (string, error) {
	return f(ctx, data)
}

// Registry maps lower-case file types (extensions without the dot) to
// extractors.
type Registry struct {
	byType map[string]Extractor
}

// NewRegistry returns a registry with every built-in extractor.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Extractor)}
	r.Register("pdf", PDF{})
	r.Register("pptx", PPTX{})
	r.Register("html", HTML{})
	r.Register("htm", HTML{})
	r.Register("txt", Plain{})
	r.Register("md", Plain{})
	return r
}

func (r *Registry) Register(fileType string, e Extractor) {
	r.byType[strings.ToLower(fileType)] = e
}

// Types lists the registered file types in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Extract runs the extractor for fileType and enforces that the result
// contains non-whitespace text.
func (r *Registry) Extract(ctx context.Context, fileType string, data []byte) (string, error) {
	e, ok := r.byType[strings.ToLower(fileType)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
	}
	text, err := e.Extract(ctx, data)
	if err != nil {
		if errors.Is(err, ErrNoText) {
			return "", err
		}
		return "", fmt.Errorf("extract %s: %w", fileType, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}

// Plain passes UTF-8 text and markdown through unchanged.
type Plain struct{}

func (Plain) Extract(_ context.Context, data []byte) (string, error) {
	return strings.ToValidUTF8(string(data), ""), nil
}
