package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const maxBodyBytes = 1 << 20 // 1MB

// Handler terminates webhook traffic for both platforms: the GET
// handshake and POSTed events. Events are normalized and published to
// the bus; the platform always gets a 200 once the body is structurally
// parseable, so it never re-delivers.
type Handler struct {
	verifier  *Verifier
	appSecret string
	bus       domain.MessageBus
	logger    *slog.Logger
}

type HandlerConfig struct {
	VerifyToken string
	AppSecret   string // enables X-Hub-Signature-256 validation when set
	Bus         domain.MessageBus
	Logger      *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		verifier:  NewVerifier(cfg.VerifyToken),
		appSecret: cfg.AppSecret,
		bus:       cfg.Bus,
		logger:    cfg.Logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerification(w, r)
	case http.MethodPost:
		h.handleEvents(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerification answers the platform's subscription handshake.
func (h *Handler) handleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	body, status := h.verifier.Check(mode, token, challenge)
	if status != http.StatusOK {
		h.logger.Warn("webhook verification failed", "mode", mode, "status", status)
		http.Error(w, body, status)
		return
	}

	h.logger.Info("webhook verified")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, body)
}

// handleEvents processes one webhook POST. Normalization failures never
// surface as errors to the platform: an error response would trigger
// redelivery storms for a payload we can never parse.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if h.appSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !verifySignature(body, h.appSecret, sig) {
			h.logger.Warn("invalid webhook signature", "request", requestID)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}
	msgs, err := Normalize(body)
	if err != nil {
		var nerr *domain.NormalizationError
		if errors.As(err, &nerr) {
			metrics.EventsDropped.Inc()
			switch nerr.Reason {
			case domain.ReasonMalformedEvent:
				h.logger.Warn("webhook body not parseable", "request", requestID, "err", err)
				http.Error(w, "bad request", http.StatusBadRequest)
			case domain.ReasonUnsupportedObjectType:
				h.logger.Warn("unrecognized webhook object", "request", requestID, "err", err)
				http.Error(w, "not found", http.StatusNotFound)
			default:
				// Parseable but carrying nothing we handle. Acknowledge
				// so the platform does not retry.
				h.logger.Debug("webhook carried no events", "request", requestID, "err", err)
				respondReceived(w)
			}
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	metrics.EventsReceived.Add(int64(len(msgs)))
	now := time.Now()
	for _, msg := range msgs {
		msg.ReceivedAt = now
		if msg.Routing == nil {
			msg.Routing = map[string]string{}
		}
		msg.Routing[domain.RouteRequestID] = requestID
		h.bus.Publish(msg)
	}

	h.logger.Info("webhook received",
		"request", requestID,
		"events", len(msgs),
		"bytes", len(body),
	)

	respondReceived(w)
}

func respondReceived(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "EVENT_RECEIVED")
}

// verifySignature checks the X-Hub-Signature-256 header against an
// HMAC-SHA256 of the body keyed with the app secret.
func verifySignature(body []byte, appSecret, signature string) bool {
	if len(signature) < 8 || signature[:7] != "sha256=" {
		return false
	}
	sig, err := hex.DecodeString(signature[7:])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}
