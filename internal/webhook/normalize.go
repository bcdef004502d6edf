package webhook

import (
	"encoding/json"
	"fmt"

	"relaybot/internal/domain"
)

// Platform discriminators carried in the payload's "object" field.
const (
	objectPage     = "page"                      // Messenger
	objectWhatsApp = "whatsapp_business_account" // WhatsApp Cloud API
)

// Normalize parses the root JSON body of a webhook POST into canonical
// inbound messages. It is a pure transform: no side effects, identical
// output for identical input. ReceivedAt is left zero; the HTTP handler
// stamps it at publish time.
//
// Each message-bearing element normalizes independently; elements that
// are malformed or not text (audio, image, status updates, delivery
// receipts) are recognized-but-ignored, never aborting siblings. An
// error is returned only for an unusable top-level shape.
func Normalize(body []byte) ([]domain.InboundMessage, error) {
	var probe struct {
		Object string          `json:"object"`
		Entry  json.RawMessage `json:"entry"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, &domain.NormalizationError{Reason: domain.ReasonMalformedEvent, Detail: err.Error()}
	}

	switch probe.Object {
	case objectPage:
		return normalizeMessenger(body)
	case objectWhatsApp:
		return normalizeWhatsApp(body)
	default:
		return nil, &domain.NormalizationError{
			Reason: domain.ReasonUnsupportedObjectType,
			Detail: fmt.Sprintf("object %q", probe.Object),
		}
	}
}

// --- Messenger payload shapes ---

type messengerPayload struct {
	Object string           `json:"object"`
	Entry  []messengerEntry `json:"entry"`
}

type messengerEntry struct {
	ID        string           `json:"id"`
	Messaging []messengerEvent `json:"messaging"`
}

type messengerEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Message *struct {
		MID         string `json:"mid"`
		Text        string `json:"text"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				URL string `json:"url"`
			} `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
}

func normalizeMessenger(body []byte) ([]domain.InboundMessage, error) {
	var payload messengerPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &domain.NormalizationError{Reason: domain.ReasonMalformedEvent, Detail: err.Error()}
	}
	if len(payload.Entry) == 0 {
		return nil, &domain.NormalizationError{Reason: domain.ReasonMissingEntry}
	}

	var msgs []domain.InboundMessage
	for _, entry := range payload.Entry {
		for _, ev := range entry.Messaging {
			msg, err := normalizeMessengerEvent(entry.ID, ev)
			if err != nil {
				continue
			}
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

// normalizeMessengerEvent converts one messaging element. Delivery
// receipts, read events, and attachment-only messages are rejected with
// a NormalizationError the caller treats as "ignore".
func normalizeMessengerEvent(pageID string, ev messengerEvent) (domain.InboundMessage, error) {
	if ev.Sender.ID == "" || ev.Message == nil {
		return domain.InboundMessage{}, &domain.NormalizationError{Reason: domain.ReasonMalformedEvent}
	}
	if ev.Message.Text == "" {
		return domain.InboundMessage{}, &domain.NormalizationError{Reason: domain.ReasonUnsupportedMessageType}
	}

	mediaRef := ""
	if len(ev.Message.Attachments) > 0 {
		mediaRef = ev.Message.Attachments[0].Payload.URL
	}

	return domain.InboundMessage{
		Channel:  domain.ChannelMessenger,
		SenderID: ev.Sender.ID,
		Text:     ev.Message.Text,
		MediaRef: mediaRef,
		Routing: map[string]string{
			domain.RoutePageID:    pageID,
			domain.RouteMessageID: ev.Message.MID,
		},
	}, nil
}

// --- WhatsApp payload shapes ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Field string  `json:"field"`
	Value waValue `json:"value"`
}

type waValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Messages []waMessage `json:"messages"`
}

type waMessage struct {
	From  string `json:"from"`
	ID    string `json:"id"`
	Type  string `json:"type"`
	Text  *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Audio *struct {
		ID string `json:"id"`
	} `json:"audio,omitempty"`
}

func normalizeWhatsApp(body []byte) ([]domain.InboundMessage, error) {
	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &domain.NormalizationError{Reason: domain.ReasonMalformedEvent, Detail: err.Error()}
	}
	if len(payload.Entry) == 0 {
		return nil, &domain.NormalizationError{Reason: domain.ReasonMissingEntry}
	}

	var msgs []domain.InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			// Status updates and account events arrive on other fields.
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			for _, wm := range change.Value.Messages {
				msg, err := normalizeWhatsAppMessage(change.Value.Metadata.PhoneNumberID, wm)
				if err != nil {
					continue
				}
				msgs = append(msgs, msg)
			}
		}
	}
	return msgs, nil
}

// normalizeWhatsAppMessage converts one message element. Non-text types
// (audio, image, sticker, reactions) are rejected with a
// NormalizationError the caller treats as "ignore".
func normalizeWhatsAppMessage(phoneNumberID string, wm waMessage) (domain.InboundMessage, error) {
	if wm.From == "" {
		return domain.InboundMessage{}, &domain.NormalizationError{Reason: domain.ReasonMalformedEvent}
	}
	if wm.Type != "text" || wm.Text == nil {
		return domain.InboundMessage{}, &domain.NormalizationError{
			Reason: domain.ReasonUnsupportedMessageType,
			Detail: fmt.Sprintf("type %q", wm.Type),
		}
	}

	return domain.InboundMessage{
		Channel:  domain.ChannelWhatsApp,
		SenderID: wm.From,
		Text:     wm.Text.Body,
		Routing: map[string]string{
			domain.RoutePhoneNumberID: phoneNumberID,
			domain.RouteMessageID:     wm.ID,
		},
	}, nil
}
