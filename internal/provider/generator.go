package provider

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// Generator produces the reply for one inbound message. It wraps the
// completion backend with the reply policy: whitespace is trimmed, an
// empty or failed completion becomes the fixed fallback text, and when
// voice replies are on the reply is also synthesized to an audio
// artifact. Generate never fails; every inbound message gets a reply.
type Generator struct {
	completer    domain.Completer
	tts          *TTS
	fallbackText string
	logger       *slog.Logger
}

type GeneratorConfig struct {
	Completer    domain.Completer
	TTS          *TTS // nil disables voice replies
	FallbackText string
	Logger       *slog.Logger
}

func NewGenerator(cfg GeneratorConfig) *Generator {
	return &Generator{
		completer:    cfg.Completer,
		tts:          cfg.TTS,
		fallbackText: cfg.FallbackText,
		logger:       cfg.Logger,
	}
}

// Generate assembles the reply for req. The fallback apology is sent as
// plain text; speech synthesis only runs for a real completion.
func (g *Generator) Generate(ctx context.Context, req domain.ReplyRequest) domain.ReplyResult {
	metrics.BackendRequests.Add(1)
	start := time.Now()
	text, err := complete(ctx, g.completer, req)
	metrics.BackendLatency.Observe(time.Since(start).Seconds())

	text = strings.TrimSpace(text)
	usedFallback := err != nil || text == ""
	if usedFallback {
		if err != nil {
			g.logger.Error("completion failed, using fallback reply",
				"backend", g.completer.Name(),
				"error", err,
			)
		} else {
			g.logger.Warn("backend returned empty reply, using fallback reply",
				"backend", g.completer.Name(),
			)
		}
		metrics.BackendFallbacks.Add(1)
		text = g.fallbackText
	}

	res := domain.ReplyResult{Text: text}
	if g.tts != nil && !usedFallback {
		path, ttsErr := g.tts.Synthesize(ctx, text)
		if ttsErr != nil {
			g.logger.Warn("speech synthesis failed, sending text only", "error", ttsErr)
		} else {
			res.AudioPath = path
		}
	}
	return res
}
