package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/servimarket/payments-engine/internal/domain"
	"github.com/servimarket/payments-engine/internal/logging"
	"github.com/servimarket/payments-engine/internal/service/reconcile"
)

type reconciler interface {
	HandleEvent(ctx context.Context, ev reconcile.Event) (reconcile.Ack, error)
}

// WebhookHandler receives gateway confirmation events. Processing is
// synchronous inside the request: a non-2xx response makes the gateway
// redeliver, and the event ledger makes redelivery harmless.
type WebhookHandler struct {
	reconciler reconciler
	secret     string
}

func NewWebhookHandler(rec reconciler, secret string) *WebhookHandler {
	return &WebhookHandler{reconciler: rec, secret: secret}
}

type webhookPayload struct {
	EventID     string `json:"event_id"`
	Type        string `json:"type"`
	ReferenceID string `json:"reference_id"`
	Reason      string `json:"reason,omitempty"`
	Timestamp   string `json:"timestamp"`
}

func (p webhookPayload) validate() []FieldError {
	var errs []FieldError

	if p.EventID == "" {
		errs = append(errs, FieldError{Field: "event_id", Message: "required"})
	}
	if p.ReferenceID == "" {
		errs = append(errs, FieldError{Field: "reference_id", Message: "required"})
	}
	if p.Type == "" {
		errs = append(errs, FieldError{Field: "type", Message: "required"})
	} else if !reconcile.EventType(p.Type).IsValid() {
		errs = append(errs, FieldError{Field: "type", Message: "unknown event type"})
	}

	return errs
}

func (h *WebhookHandler) ReceiveGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	sig := r.Header.Get("X-Gateway-Signature")
	if !verifyHMAC(body, sig, h.secret) {
		log.Warn("webhook signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("failed to parse webhook payload", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := payload.validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	digest := sha256.Sum256(body)

	ack, err := h.reconciler.HandleEvent(r.Context(), reconcile.Event{
		ID:            payload.EventID,
		Type:          reconcile.EventType(payload.Type),
		ReferenceID:   payload.ReferenceID,
		Reason:        payload.Reason,
		PayloadDigest: hex.EncodeToString(digest[:]),
	})
	if err != nil {
		// Unknown references get a 404 so the gateway stops retrying an
		// event this system can never apply. Everything else is transient
		// from the gateway's point of view and worth a redelivery.
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("webhook references unknown payment", "event_id", payload.EventID, "reference_id", payload.ReferenceID)
			RespondAppError(w, ErrResourceNotFound, nil)
			return
		}
		log.Error("webhook reconciliation failed", "event_id", payload.EventID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]string{"status": string(ack)})
}

func verifyHMAC(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
