package domain

import "fmt"

// NormalizeReason classifies why a raw webhook event could not be
// turned into an InboundMessage.
type NormalizeReason string

const (
	ReasonMissingEntry           NormalizeReason = "missing_entry"
	ReasonUnsupportedObjectType  NormalizeReason = "unsupported_object_type"
	ReasonUnsupportedMessageType NormalizeReason = "unsupported_message_type"
	ReasonMalformedEvent         NormalizeReason = "malformed_event"
)

// NormalizationError reports a malformed or unsupported payload.
// Recoverable: the pipeline drops the event silently so the platform
// never sees an error and never re-delivers.
type NormalizationError struct {
	Reason NormalizeReason
	Detail string
}

func (e *NormalizationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("normalize: %s", e.Reason)
	}
	return fmt.Sprintf("normalize: %s: %s", e.Reason, e.Detail)
}

// BackendError reports a failed or timed-out completion call.
// Recoverable: the generator absorbs it and substitutes the fallback text.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// DeliveryError reports a failed outbound send. Terminal for the event:
// logged, no retry, no dead-letter queue.
type DeliveryError struct {
	Channel    Channel
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("deliver via %s: status %d: %v", e.Channel, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("deliver via %s: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ConfigurationError reports a missing required secret or an invalid
// setting. Fatal at process startup: the server must not take traffic.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Msg)
}
