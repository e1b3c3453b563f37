package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// googleClient uses the Gemini batchEmbedContents API.
type googleClient struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

type googleEmbedRequest struct {
	Requests []googleEmbedContent `json:"requests"`
}

type googleEmbedContent struct {
	Model   string        `json:"model"`
	Content googleContent `json:"content"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

func (c *googleClient) Name() string { return string(ProviderGoogle) + ":" + c.model }

func (c *googleClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := "models/" + strings.TrimPrefix(c.model, "models/")
	body := googleEmbedRequest{Requests: make([]googleEmbedContent, len(texts))}
	for i, t := range texts {
		body.Requests[i] = googleEmbedContent{Model: model, Content: googleContent{Parts: []googlePart{{Text: t}}}}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	base := c.baseURL
	if base == "" {
		base = "https://generativelanguage.googleapis.com/v1beta"
	}
	endpoint := fmt.Sprintf("%s/%s:batchEmbedContents?key=%s", strings.TrimRight(base, "/"), model, url.QueryEscape(c.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Provider: ProviderGoogle, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var parsed googleEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, ErrCountMismatch
	}
	out := make([][]float32, len(parsed.Embeddings))
	for i, e := range parsed.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}
