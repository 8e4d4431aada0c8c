package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vidscribe/vidscribe/internal/apperr"
)

func TestNewCompleter(t *testing.T) {
	c, err := NewCompleter(Config{Provider: "Gemini"})
	require.NoError(t, err)
	require.IsType(t, &GeminiProvider{}, c)

	c, err = NewCompleter(Config{Provider: "openai", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	require.IsType(t, &OpenAIProvider{}, c)

	_, err = NewCompleter(Config{Provider: "parrot"})
	require.Error(t, err)
}

func TestGeminiComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		require.Equal(t, "key-123", r.Header.Get("x-goog-api-key"))

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "Summarize: hi", req.Contents[0].Parts[0].Text)

		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"A short "},{"text":"summary.\n"}]}}]}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider(Config{APIKey: "key-123", APIURL: srv.URL})
	out, err := p.Complete(context.Background(), "Summarize: hi")
	require.NoError(t, err)
	require.Equal(t, "A short summary.", out)
}

func TestGeminiComplete_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":{}}`, retryable: true},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, retryable: true},
		{name: "bad key", status: http.StatusForbidden, body: `{}`},
		{name: "blocked", status: http.StatusOK, body: `{"promptFeedback":{"blockReason":"SAFETY"}}`},
		{name: "no candidates", status: http.StatusOK, body: `{"candidates":[]}`, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewGeminiProvider(Config{APIURL: srv.URL})
			_, err := p.Complete(context.Background(), "x")
			require.True(t, apperr.IsUpstream(err))
			require.Equal(t, tt.retryable, apperr.IsRetryable(err))
		})
	}
}

func TestOpenAIComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "gpt-4o-mini", req.Model)
		require.Equal(t, "user", req.Messages[0].Role)

		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" Done. "}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{APIKey: "sk-test", APIURL: srv.URL, Model: "gpt-4o-mini"})
	out, err := p.Complete(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "Done.", out)
}

func TestOpenAIComplete_RequiresModel(t *testing.T) {
	p := NewOpenAIProvider(Config{})
	_, err := p.Complete(context.Background(), "hello")
	require.Error(t, err)
}
