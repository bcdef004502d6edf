package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// Dispatcher routes an outbound reply to the sender registered for its
// channel. Delivery failures are terminal: the error is returned for
// logging and alerting, the reply is not retried.
type Dispatcher struct {
	senders map[domain.Channel]domain.Sender
	logger  *slog.Logger
}

func NewDispatcher(logger *slog.Logger, senders ...domain.Sender) *Dispatcher {
	m := make(map[domain.Channel]domain.Sender, len(senders))
	for _, s := range senders {
		m[s.Channel()] = s
	}
	return &Dispatcher{senders: m, logger: logger}
}

// Dispatch sends reply through its channel's sender.
func (d *Dispatcher) Dispatch(ctx context.Context, reply domain.OutboundReply) error {
	sender, ok := d.senders[reply.Channel]
	if !ok {
		metrics.DeliveryFailures.Add(1)
		return &domain.DeliveryError{
			Channel: reply.Channel,
			Err:     fmt.Errorf("no sender registered for channel %q", reply.Channel),
		}
	}

	start := time.Now()
	err := sender.Send(ctx, reply)
	metrics.DispatchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DeliveryFailures.Add(1)
		return err
	}
	metrics.Deliveries.Add(1)
	return nil
}
