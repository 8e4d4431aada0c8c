package ingest

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vidscribe/vidscribe/internal/ai"
	"github.com/vidscribe/vidscribe/internal/apperr"
	"github.com/vidscribe/vidscribe/internal/logging"
	"github.com/vidscribe/vidscribe/internal/metrics"
)

const (
	summaryPrompt = "Provide ONE concise summary (2-3 sentences) of this video transcript. " +
		"Do not provide options or a list. Output only the summary: \n\n"

	descriptionPrompt = "Write ONE catchy, high-conversion video description based on this transcript. " +
		"Include 3-4 bullet points of key takeaways and relevant hashtags. " +
		"Do not provide multiple versions or choices. Output the final text only: \n\n"
)

// Engine produces the summary and description for a transcript.
type Engine struct {
	completer ai.Completer
	service   string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewEngine(completer ai.Completer, service string, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if service == "" {
		service = "ai"
	}
	return &Engine{
		completer: completer,
		service:   service,
		metrics:   m,
		logger:    logging.WithComponent(logger, "enrichment"),
	}
}

// Enrich runs both completions concurrently. Either failing, or returning
// empty text, fails the whole call.
func (e *Engine) Enrich(ctx context.Context, assetID, transcript string) (summary, description string, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		out, err := e.complete(gctx, "summary", summaryPrompt+transcript)
		summary = out
		return err
	})
	g.Go(func() error {
		out, err := e.complete(gctx, "description", descriptionPrompt+transcript)
		description = out
		return err
	})

	if err := g.Wait(); err != nil {
		return "", "", err
	}

	e.logger.Info("enrichment generated",
		"asset_id", assetID,
		"summary_chars", len(summary),
		"description_chars", len(description),
	)
	return summary, description, nil
}

func (e *Engine) complete(ctx context.Context, operation, prompt string) (string, error) {
	start := time.Now()
	out, err := e.completer.Complete(ctx, prompt)
	e.metrics.ObserveUpstream(e.service, operation, start)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", &apperr.UpstreamError{Service: e.service, Message: "empty " + operation}
	}
	return out, nil
}
