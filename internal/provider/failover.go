package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"relaybot/internal/domain"
)

// Failover tries multiple completion backends in order, falling back to
// the next one when the current fails or returns nothing.
type Failover struct {
	backends []domain.Completer
	logger   *slog.Logger
}

// NewFailover creates a failover chain from the given backends.
// At least one backend is required.
func NewFailover(backends []domain.Completer, logger *slog.Logger) *Failover {
	return &Failover{
		backends: backends,
		logger:   logger,
	}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.backends))
	for i, b := range f.backends {
		names[i] = b.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

func (f *Failover) Healthy(ctx context.Context) error {
	for _, b := range f.backends {
		if err := b.Healthy(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy backend in failover chain")
}

// Complete tries each backend in order. Returns the first non-empty
// reply; an empty reply counts as a failure.
func (f *Failover) Complete(ctx context.Context, req domain.ReplyRequest) (string, error) {
	var lastErr error
	for i, b := range f.backends {
		text, err := complete(ctx, b, req)
		if err == nil && strings.TrimSpace(text) != "" {
			if i > 0 {
				f.logger.Info("failover: used fallback backend",
					"backend", b.Name(),
					"attempt", i+1,
				)
			}
			return text, nil
		}
		if err == nil {
			err = fmt.Errorf("empty reply")
		}
		lastErr = err
		f.logger.Warn("failover: backend failed, trying next",
			"backend", b.Name(),
			"attempt", i+1,
			"error", err,
		)
	}
	return "", &domain.BackendError{Backend: f.Name(), Err: fmt.Errorf("all backends failed: %w", lastErr)}
}

// complete calls a backend, preferring its streaming path when it has
// one. Streamed increments are buffered into a single assembled reply;
// the rest of the pipeline never sees partial text.
func complete(ctx context.Context, b domain.Completer, req domain.ReplyRequest) (string, error) {
	sc, ok := b.(domain.StreamingCompleter)
	if !ok {
		return b.Complete(ctx, req)
	}
	if t, hasToggle := b.(interface{ streamingEnabled() bool }); hasToggle && !t.streamingEnabled() {
		return b.Complete(ctx, req)
	}

	out := make(chan string, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- sc.CompleteStream(ctx, req, out)
	}()

	var sb strings.Builder
	for chunk := range out {
		sb.WriteString(chunk)
	}
	if err := <-errCh; err != nil {
		return "", err
	}
	return sb.String(), nil
}
