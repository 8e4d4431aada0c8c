package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/vidscribe/vidscribe/internal/apperr"
)

const (
	geminiService    = "gemini"
	geminiDefaultURL = "https://generativelanguage.googleapis.com"
	geminiModel      = "gemini-2.5-flash"
)

type GeminiProvider struct {
	client *http.Client
	apiKey string
	apiURL string
	model  string
}

func NewGeminiProvider(cfg Config) *GeminiProvider {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = geminiDefaultURL
	}
	model := cfg.Model
	if model == "" {
		model = geminiModel
	}
	return &GeminiProvider{
		client: httpClient(cfg.Timeout),
		apiKey: cfg.APIKey,
		apiURL: apiURL,
		model:  model,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (p *GeminiProvider) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.apiURL, url.PathEscape(p.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &apperr.UpstreamError{Service: geminiService, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", statusError(geminiService, resp)
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &apperr.UpstreamError{Service: geminiService, Message: "decode response", Err: err}
	}

	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return "", &apperr.UpstreamError{Service: geminiService, Message: "prompt blocked: " + out.PromptFeedback.BlockReason}
	}
	if len(out.Candidates) == 0 {
		return "", &apperr.UpstreamError{Service: geminiService, Message: "no candidates", Err: errors.New("empty completion")}
	}

	var b strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String()), nil
}
