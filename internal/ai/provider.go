// Package ai wraps text-completion services behind a single-prompt interface.
package ai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vidscribe/vidscribe/internal/apperr"
)

// Completer turns one prompt into one text completion.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Config struct {
	Provider string
	Model    string
	APIKey   string
	APIURL   string
	Timeout  time.Duration
}

func NewCompleter(cfg Config) (Completer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "gemini":
		return NewGeminiProvider(cfg), nil
	case "openai":
		return NewOpenAIProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}

func httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// statusError reads a failed response into an upstream error.
func statusError(service string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &apperr.UpstreamError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}
