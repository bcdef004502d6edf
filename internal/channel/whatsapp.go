package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
	"relaybot/internal/provider"
)

// WhatsApp delivers replies through the WhatsApp Cloud API. The text
// body is always sent; a reply carrying an audio artifact additionally
// uploads it to the media endpoint and follows up with a voice message.
type WhatsApp struct {
	apiBase     string
	apiVersion  string
	accessToken string
	client      *http.Client
	logger      *slog.Logger
}

type WhatsAppConfig struct {
	APIBase     string // overridable for tests
	APIVersion  string
	AccessToken string
	Logger      *slog.Logger
}

func NewWhatsApp(cfg WhatsAppConfig) *WhatsApp {
	if cfg.APIBase == "" {
		cfg.APIBase = graphAPIBase
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v21.0"
	}
	return &WhatsApp{
		apiBase:     cfg.APIBase,
		apiVersion:  cfg.APIVersion,
		accessToken: cfg.AccessToken,
		client:      provider.SharedHTTPClient(60 * time.Second),
		logger:      cfg.Logger,
	}
}

func (w *WhatsApp) Channel() domain.Channel { return domain.ChannelWhatsApp }

type waTextRequest struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type waAudioRequest struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Audio            struct {
		ID string `json:"id"`
	} `json:"audio"`
}

type waMediaResponse struct {
	ID string `json:"id"`
}

// Send delivers the reply to the sender's number. The business phone
// number ID is taken from the inbound routing context; without it there
// is no send URL and the delivery fails terminally.
//
// The text body always goes out first. An audio artifact is a second,
// best-effort leg: upload or send failure there leaves the recipient
// with the already-delivered text and never fails the event.
func (w *WhatsApp) Send(ctx context.Context, reply domain.OutboundReply) error {
	phoneNumberID := reply.Routing[domain.RoutePhoneNumberID]
	if phoneNumberID == "" {
		return &domain.DeliveryError{
			Channel: w.Channel(),
			Err:     fmt.Errorf("missing phone_number_id in routing context"),
		}
	}

	if err := w.sendText(ctx, phoneNumberID, reply); err != nil {
		return err
	}

	if reply.AudioPath != "" {
		if err := w.sendAudio(ctx, phoneNumberID, reply); err != nil {
			metrics.AudioDegradations.Add(1)
			w.logger.Warn("audio leg failed, text already delivered",
				"recipient", reply.RecipientID,
				"error", err,
			)
		}
	}
	return nil
}

func (w *WhatsApp) sendText(ctx context.Context, phoneNumberID string, reply domain.OutboundReply) error {
	body := waTextRequest{MessagingProduct: "whatsapp", To: reply.RecipientID, Type: "text"}
	body.Text.Body = reply.Text
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return &domain.DeliveryError{Channel: w.Channel(), Err: fmt.Errorf("marshal: %w", err)}
	}
	if err := w.post(ctx, phoneNumberID, jsonBody); err != nil {
		return err
	}
	w.logger.Debug("whatsapp reply delivered", "recipient", reply.RecipientID, "phone_number_id", phoneNumberID)
	return nil
}

func (w *WhatsApp) sendAudio(ctx context.Context, phoneNumberID string, reply domain.OutboundReply) error {
	mediaID, err := w.uploadMedia(ctx, phoneNumberID, reply.AudioPath)
	if err != nil {
		return err
	}

	body := waAudioRequest{MessagingProduct: "whatsapp", To: reply.RecipientID, Type: "audio"}
	body.Audio.ID = mediaID
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return &domain.DeliveryError{Channel: w.Channel(), Err: fmt.Errorf("marshal: %w", err)}
	}
	if err := w.post(ctx, phoneNumberID, jsonBody); err != nil {
		return err
	}
	w.logger.Debug("whatsapp audio reply delivered",
		"recipient", reply.RecipientID,
		"media_id", mediaID,
	)
	return nil
}

// uploadMedia pushes the audio artifact to the media endpoint and
// returns the platform media ID to reference in the send.
func (w *WhatsApp) uploadMedia(ctx context.Context, phoneNumberID, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", fmt.Errorf("multipart: %w", err)
	}
	if err := mw.WriteField("type", "audio/mpeg"); err != nil {
		return "", fmt.Errorf("multipart: %w", err)
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("multipart: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("multipart: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/media", w.apiBase, w.apiVersion, phoneNumberID)
	form := buf.Bytes()
	buildReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(form))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+w.accessToken)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}

	resp, err := provider.DoWithRetry(ctx, w.client, buildReq, w.logger)
	if err != nil {
		return "", fmt.Errorf("media upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("media upload returned %d: %s", resp.StatusCode, string(respBody))
	}

	var media waMediaResponse
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return "", fmt.Errorf("decode media response: %w", err)
	}
	if media.ID == "" {
		return "", fmt.Errorf("media upload returned no id")
	}
	return media.ID, nil
}

func (w *WhatsApp) post(ctx context.Context, phoneNumberID string, jsonBody []byte) error {
	endpoint := fmt.Sprintf("%s/%s/%s/messages", w.apiBase, w.apiVersion, phoneNumberID)
	buildReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+w.accessToken)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	resp, err := provider.DoWithRetry(ctx, w.client, buildReq, w.logger)
	if err != nil {
		return &domain.DeliveryError{Channel: w.Channel(), Err: fmt.Errorf("cloud API request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &domain.DeliveryError{
			Channel:    w.Channel(),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("cloud API returned %d: %s", resp.StatusCode, string(respBody)),
		}
	}
	return nil
}
