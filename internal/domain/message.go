package domain

import "time"

// Channel identifies the platform a message arrived on and must be
// answered through.
type Channel string

const (
	ChannelMessenger Channel = "messenger"
	ChannelWhatsApp  Channel = "whatsapp"
)

// Routing context keys. The normalizer fills these from the raw event;
// the dispatch channels read them back when building the send URL.
const (
	RoutePhoneNumberID = "phone_number_id" // WhatsApp business number the event arrived on
	RoutePageID        = "page_id"         // Messenger page the event arrived on
	RouteMessageID     = "message_id"      // platform message ID, for log correlation
	RouteRequestID     = "request_id"      // ID stamped by the webhook handler, for log correlation
)

// InboundMessage is one normalized webhook event. It is built once by
// the normalizer, owned by exactly one pipeline run, and never persisted.
type InboundMessage struct {
	Channel    Channel
	SenderID   string
	Text       string
	MediaRef   string            // platform media ID when the event carried media
	Routing    map[string]string // channel-specific routing data for dispatch
	ReceivedAt time.Time
}

// ReplyRequest is the generator's input: the current message text only.
// Conversation history is a backend-side concern, not carried here.
type ReplyRequest struct {
	Text     string
	SenderID string
}

// ReplyResult is the generator's output. Text is always non-empty: on
// backend failure the generator substitutes the fixed apology string.
// AudioPath is set only when a synthesized audio artifact exists.
type ReplyResult struct {
	Text      string
	AudioPath string
}

// OutboundReply joins the inbound routing context with the generated
// reply. It is what the dispatch channels consume.
type OutboundReply struct {
	Channel     Channel
	RecipientID string
	Text        string
	AudioPath   string
	Routing     map[string]string
}

// BuildReply joins an inbound message with a generated result.
func BuildReply(in InboundMessage, res ReplyResult) OutboundReply {
	return OutboundReply{
		Channel:     in.Channel,
		RecipientID: in.SenderID,
		Text:        res.Text,
		AudioPath:   res.AudioPath,
		Routing:     in.Routing,
	}
}
