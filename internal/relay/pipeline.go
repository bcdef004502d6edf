package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// Generator produces the reply for one inbound message. It never
// fails; on backend trouble it substitutes the fallback text.
type Generator interface {
	Generate(ctx context.Context, req domain.ReplyRequest) domain.ReplyResult
}

// Dispatcher routes an outbound reply to its channel's send API.
type Dispatcher interface {
	Dispatch(ctx context.Context, reply domain.OutboundReply) error
}

// Pipeline consumes normalized inbound messages from the bus and runs
// each through generate and dispatch. Runs are independent: one
// message failing never affects its siblings, and no state survives
// the run.
type Pipeline struct {
	bus        domain.MessageBus
	generator  Generator
	dispatcher Dispatcher
	notifier   domain.Notifier
	logger     *slog.Logger

	sem        chan struct{}
	runTimeout time.Duration
	wg         sync.WaitGroup
}

type PipelineConfig struct {
	Bus           domain.MessageBus
	Generator     Generator
	Dispatcher    Dispatcher
	Notifier      domain.Notifier
	MaxConcurrent int
	RunTimeout    time.Duration // ceiling for one generate+dispatch run
	Logger        *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Minute
	}
	return &Pipeline{
		bus:        cfg.Bus,
		generator:  cfg.Generator,
		dispatcher: cfg.Dispatcher,
		notifier:   cfg.Notifier,
		logger:     cfg.Logger,
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		runTimeout: cfg.RunTimeout,
	}
}

// Run consumes the bus until ctx is cancelled or the bus closes, then
// waits for in-flight runs to drain.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.Info("pipeline started", "max_concurrent", cap(p.sem))
	inbound := p.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			p.logger.Info("pipeline stopped")
			return
		case msg, ok := <-inbound:
			if !ok {
				p.wg.Wait()
				p.logger.Info("pipeline stopped, bus closed")
				return
			}
			select {
			case p.sem <- struct{}{}:
			case <-ctx.Done():
				p.wg.Wait()
				p.logger.Info("pipeline stopped")
				return
			}
			p.wg.Add(1)
			go func(msg domain.InboundMessage) {
				defer p.wg.Done()
				defer func() { <-p.sem }()
				p.process(ctx, msg)
			}(msg)
		}
	}
}

// process runs one message to completion. The run either ends with a
// delivered reply or a logged terminal failure; nothing is retried.
func (p *Pipeline) process(ctx context.Context, msg domain.InboundMessage) {
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	runCtx, cancel := context.WithTimeout(ctx, p.runTimeout)
	defer cancel()

	logger := p.logger.With(
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"request_id", msg.Routing[domain.RouteRequestID],
	)
	logger.Info("processing message", "text_len", len(msg.Text))

	res := p.generator.Generate(runCtx, domain.ReplyRequest{
		Text:     msg.Text,
		SenderID: msg.SenderID,
	})
	reply := domain.BuildReply(msg, res)

	if err := p.dispatcher.Dispatch(runCtx, reply); err != nil {
		logger.Error("delivery failed", "error", err)
		if p.notifier != nil {
			p.notifier.Alert(runCtx, fmt.Sprintf(
				"delivery failed on %s for sender %s: %v", msg.Channel, msg.SenderID, err,
			))
		}
		return
	}
	logger.Info("reply delivered",
		"reply_len", len(reply.Text),
		"audio", reply.AudioPath != "",
		"elapsed", time.Since(msg.ReceivedAt).Round(time.Millisecond),
	)
}
