package webhook

import (
	"errors"
	"reflect"
	"testing"

	"relaybot/internal/domain"
)

const whatsAppTextPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA_ID",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"phone_number_id": "999"},
        "messages": [{"from": "123", "id": "wamid.1", "type": "text", "text": {"body": "hi"}}]
      }
    }]
  }]
}`

func TestNormalize_WhatsAppText(t *testing.T) {
	msgs, err := Normalize([]byte(whatsAppTextPayload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	m := msgs[0]
	if m.Channel != domain.ChannelWhatsApp {
		t.Errorf("expected whatsapp channel, got %q", m.Channel)
	}
	if m.SenderID != "123" {
		t.Errorf("expected sender 123, got %q", m.SenderID)
	}
	if m.Text != "hi" {
		t.Errorf("expected text 'hi', got %q", m.Text)
	}
	if m.Routing[domain.RoutePhoneNumberID] != "999" {
		t.Errorf("expected phone_number_id 999, got %q", m.Routing[domain.RoutePhoneNumberID])
	}
	if m.Routing[domain.RouteMessageID] != "wamid.1" {
		t.Errorf("expected message id wamid.1, got %q", m.Routing[domain.RouteMessageID])
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	first, err := Normalize([]byte(whatsAppTextPayload))
	if err != nil {
		t.Fatal(err)
	}
	second, err := Normalize([]byte(whatsAppTextPayload))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("same payload produced different results:\n%v\n%v", first, second)
	}
}

func TestNormalize_MessengerText(t *testing.T) {
	payload := `{
	  "object": "page",
	  "entry": [{
	    "id": "PAGE_1",
	    "messaging": [{"sender": {"id": "user-9"}, "message": {"mid": "m.1", "text": "hola"}}]
	  }]
	}`
	msgs, err := Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	m := msgs[0]
	if m.Channel != domain.ChannelMessenger {
		t.Errorf("expected messenger channel, got %q", m.Channel)
	}
	if m.SenderID != "user-9" {
		t.Errorf("expected sender user-9, got %q", m.SenderID)
	}
	if m.Text != "hola" {
		t.Errorf("expected text 'hola', got %q", m.Text)
	}
	if m.Routing[domain.RoutePageID] != "PAGE_1" {
		t.Errorf("expected page id PAGE_1, got %q", m.Routing[domain.RoutePageID])
	}
}

func TestNormalize_SkipsNonTextSiblings(t *testing.T) {
	// One text message alongside an audio message and a status-update
	// change; only the text survives.
	payload := `{
	  "object": "whatsapp_business_account",
	  "entry": [{
	    "changes": [
	      {"field": "messages", "value": {
	        "metadata": {"phone_number_id": "999"},
	        "messages": [
	          {"from": "123", "id": "wamid.a", "type": "audio", "audio": {"id": "media-1"}},
	          {"from": "456", "id": "wamid.b", "type": "text", "text": {"body": "still here"}}
	        ]
	      }},
	      {"field": "message_template_status_update", "value": {}}
	    ]
	  }]
	}`
	msgs, err := Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].SenderID != "456" || msgs[0].Text != "still here" {
		t.Errorf("wrong survivor: %+v", msgs[0])
	}
}

func TestNormalize_MultipleEntries(t *testing.T) {
	payload := `{
	  "object": "page",
	  "entry": [
	    {"id": "P1", "messaging": [{"sender": {"id": "a"}, "message": {"text": "one"}}]},
	    {"id": "P2", "messaging": [{"sender": {"id": "b"}, "message": {"text": "two"}}]}
	  ]
	}`
	msgs, err := Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Text != "one" || msgs[1].Text != "two" {
		t.Errorf("order not preserved: %q, %q", msgs[0].Text, msgs[1].Text)
	}
}

func TestNormalize_MalformedJSON(t *testing.T) {
	_, err := Normalize([]byte(`{"object": "page", "entry": [`))
	var nerr *domain.NormalizationError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected NormalizationError, got %v", err)
	}
	if nerr.Reason != domain.ReasonMalformedEvent {
		t.Errorf("expected malformed_event, got %q", nerr.Reason)
	}
}

func TestNormalize_UnknownObject(t *testing.T) {
	_, err := Normalize([]byte(`{"object": "instagram", "entry": [{}]}`))
	var nerr *domain.NormalizationError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected NormalizationError, got %v", err)
	}
	if nerr.Reason != domain.ReasonUnsupportedObjectType {
		t.Errorf("expected unsupported_object_type, got %q", nerr.Reason)
	}
}

func TestNormalize_EmptyEntry(t *testing.T) {
	_, err := Normalize([]byte(`{"object": "page", "entry": []}`))
	var nerr *domain.NormalizationError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected NormalizationError, got %v", err)
	}
	if nerr.Reason != domain.ReasonMissingEntry {
		t.Errorf("expected missing_entry, got %q", nerr.Reason)
	}
}

func TestNormalize_MessengerDeliveryReceipt(t *testing.T) {
	// Delivery receipts have no message object; the payload normalizes
	// to zero messages without error.
	payload := `{
	  "object": "page",
	  "entry": [{"id": "P1", "messaging": [{"sender": {"id": "a"}, "delivery": {"mids": ["m.1"]}}]}]
	}`
	msgs, err := Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected 0 messages, got %d", len(msgs))
	}
}

func TestNormalize_LeavesReceivedAtZero(t *testing.T) {
	msgs, err := Normalize([]byte(whatsAppTextPayload))
	if err != nil {
		t.Fatal(err)
	}
	if !msgs[0].ReceivedAt.IsZero() {
		t.Error("normalizer must not stamp timestamps")
	}
}
