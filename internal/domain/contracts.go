package domain

import "context"

// Completer is the reply backend: message text in, reply text out.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req ReplyRequest) (string, error)
	Healthy(ctx context.Context) error
}

// StreamingCompleter is an optional extension for backends that deliver
// the reply as incremental tokens. Implementations must close out when
// the stream ends. Callers buffer the increments: the rest of the
// pipeline only ever sees an assembled reply.
type StreamingCompleter interface {
	Completer
	CompleteStream(ctx context.Context, req ReplyRequest, out chan<- string) error
}

// Sender delivers an OutboundReply through one platform's send API.
type Sender interface {
	Channel() Channel
	Send(ctx context.Context, reply OutboundReply) error
}

// MessageBus queues normalized inbound events between the webhook
// handler and the relay pipeline.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}

// Notifier alerts an operator about terminal failures. Implementations
// must be non-blocking from the caller's perspective and never return
// delivery-of-the-alert errors into the pipeline.
type Notifier interface {
	Alert(ctx context.Context, text string)
}
