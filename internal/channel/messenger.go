package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/provider"
)

const graphAPIBase = "https://graph.facebook.com"

// Messenger delivers replies through the Facebook Send API. Audio
// artifacts are not deliverable on this channel; replies always go out
// as text.
type Messenger struct {
	apiBase     string
	apiVersion  string
	pageID      string
	accessToken string
	client      *http.Client
	logger      *slog.Logger
}

type MessengerConfig struct {
	APIBase     string // overridable for tests
	APIVersion  string
	PageID      string
	AccessToken string
	Logger      *slog.Logger
}

func NewMessenger(cfg MessengerConfig) *Messenger {
	if cfg.APIBase == "" {
		cfg.APIBase = graphAPIBase
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v19.0"
	}
	return &Messenger{
		apiBase:     cfg.APIBase,
		apiVersion:  cfg.APIVersion,
		pageID:      cfg.PageID,
		accessToken: cfg.AccessToken,
		client:      provider.SharedHTTPClient(30 * time.Second),
		logger:      cfg.Logger,
	}
}

func (m *Messenger) Channel() domain.Channel { return domain.ChannelMessenger }

type messengerSendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

// Send posts the reply text to the Send API. The page ID comes from the
// inbound routing context, then the configured page, then "me".
func (m *Messenger) Send(ctx context.Context, reply domain.OutboundReply) error {
	if reply.AudioPath != "" {
		m.logger.Debug("audio reply not supported on messenger, sending text only",
			"recipient", reply.RecipientID,
		)
	}

	pageID := reply.Routing[domain.RoutePageID]
	if pageID == "" {
		pageID = m.pageID
	}
	if pageID == "" {
		pageID = "me"
	}

	var body messengerSendRequest
	body.Recipient.ID = reply.RecipientID
	body.Message.Text = reply.Text
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return &domain.DeliveryError{Channel: m.Channel(), Err: fmt.Errorf("marshal: %w", err)}
	}

	endpoint := fmt.Sprintf("%s/%s/%s/messages?access_token=%s",
		m.apiBase, m.apiVersion, pageID, url.QueryEscape(m.accessToken))
	buildReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	resp, err := provider.DoWithRetry(ctx, m.client, buildReq, m.logger)
	if err != nil {
		return &domain.DeliveryError{Channel: m.Channel(), Err: fmt.Errorf("send API request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &domain.DeliveryError{
			Channel:    m.Channel(),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("send API returned %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	m.logger.Debug("messenger reply delivered", "recipient", reply.RecipientID, "page", pageID)
	return nil
}
