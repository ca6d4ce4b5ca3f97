package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/prospect-bot/internal/models"
)

const maxWebhookBodySize = 1 << 20 // 1MB

// WebhookPayload is the subset of the Instagram messaging webhook we read.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID        string             `json:"id"`
	Time      int64              `json:"time"`
	Messaging []WebhookMessaging `json:"messaging"`
}

type WebhookMessaging struct {
	Sender    WebhookParty    `json:"sender"`
	Recipient WebhookParty    `json:"recipient"`
	Timestamp int64           `json:"timestamp"`
	Message   *WebhookMessage `json:"message,omitempty"`
}

type WebhookParty struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

type WebhookMessage struct {
	MID    string `json:"mid"`
	Text   string `json:"text"`
	IsEcho bool   `json:"is_echo,omitempty"`
}

// Inbound converts an event into the inbox form. Echoes are messages the
// owner sent, so the prospect is the recipient.
func (m WebhookMessaging) Inbound() (models.InboundMessage, bool) {
	if m.Message == nil {
		return models.InboundMessage{}, false
	}

	msg := models.InboundMessage{
		MessageID:   m.Message.MID,
		ProspectID:  m.Sender.ID,
		DisplayName: m.Sender.Username,
		Text:        m.Message.Text,
		Direction:   models.DirectionReceived,
	}
	if m.Message.IsEcho {
		msg.ProspectID = m.Recipient.ID
		msg.DisplayName = m.Recipient.Username
		msg.Direction = models.DirectionSent
	}
	if m.Timestamp > 0 {
		msg.ReceivedAt = time.UnixMilli(m.Timestamp).UTC()
	}
	return msg, msg.ProspectID != ""
}

// handleVerifyWebhook answers the subscription handshake.
func handleVerifyWebhook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("hub.mode") != "subscribe" || deps.VerifyToken == "" || q.Get("hub.verify_token") != deps.VerifyToken {
			httpError(w, http.StatusForbidden, "authentication_error", "verification failed")
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, q.Get("hub.challenge"))
	}
}

func handleReceiveWebhook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to read body: %v", err)
			return
		}

		if deps.AppSecret != "" && !validSignature(deps.AppSecret, body, r.Header.Get("X-Hub-Signature-256")) {
			httpError(w, http.StatusUnauthorized, "authentication_error", "invalid signature")
			return
		}

		var payload WebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid payload: %v", err)
			return
		}

		processed, duplicates := 0, 0
		for _, entry := range payload.Entry {
			for _, event := range entry.Messaging {
				msg, ok := event.Inbound()
				if !ok {
					continue
				}
				res, err := deps.Inbox.Handle(r.Context(), msg)
				if err != nil {
					// A non-2xx response makes Meta redeliver the whole batch;
					// events already handled are recognised by their mid.
					serviceError(w, deps.Logger, err)
					return
				}
				if res.Duplicate {
					duplicates++
					continue
				}
				processed++
			}
		}

		deps.Logger.Debug("Webhook processed",
			zap.Int("events", processed),
			zap.Int("duplicates", duplicates))
		writeJSON(w, http.StatusOK, map[string]any{"processed": processed, "duplicates": duplicates})
	}
}
