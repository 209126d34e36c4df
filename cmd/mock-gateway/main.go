// mock-gateway stands in for the external payment processor in local
// development: it issues authorizations and later delivers a signed
// confirmation webhook to the engine, the same at-least-once way a real
// gateway would.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/servimarket/payments-engine/internal/logging"
)

type server struct {
	callbackURL string
	secret      string
	delay       time.Duration
}

type authorizationRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

type webhookEvent struct {
	EventID     string `json:"event_id"`
	Type        string `json:"type"`
	ReferenceID string `json:"reference_id"`
	Reason      string `json:"reason,omitempty"`
	Timestamp   string `json:"timestamp"`
}

func main() {
	logging.Init("mock-gateway", "info", os.Getenv("APP_ENV"))

	s := &server{
		callbackURL: envOr("CALLBACK_URL", "http://api:8080/api/v1/webhooks/gateway"),
		secret:      envOr("WEBHOOK_SECRET", "dev-secret"),
		delay:       2 * time.Second,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /authorizations", s.handleAuthorize)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})

	addr := ":" + envOr("PORT", "8081")
	slog.Info("mock gateway started", "addr", addr, "callback_url", s.callbackURL)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func (s *server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, "invalid amount", http.StatusUnprocessableEntity)
		return
	}

	referenceID := "auth_" + strings.ReplaceAll(uuid.New().String(), "-", "")

	// Amounts ending in 99 fail, everything else succeeds. Deterministic, so
	// local flows can exercise both paths.
	outcome := "payment.succeeded"
	reason := ""
	if req.Amount%100 == 99 {
		outcome = "payment.failed"
		reason = "card_declined"
	}

	go s.deliverWebhook(referenceID, outcome, reason)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"reference_id": referenceID,
		"client_token": "tok_" + uuid.New().String(),
	}); err != nil {
		slog.Error("failed to write authorization response", "error", err)
	}
}

func (s *server) deliverWebhook(referenceID, eventType, reason string) {
	time.Sleep(s.delay)

	ev := webhookEvent{
		EventID:     uuid.New().String(),
		Type:        eventType,
		ReferenceID: referenceID,
		Reason:      reason,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal webhook", "error", err)
		return
	}

	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	// A couple of redeliveries on failure; dedup on the receiving side makes
	// repeats harmless.
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, s.callbackURL, bytes.NewReader(body))
		if err != nil {
			slog.Error("failed to build webhook request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Gateway-Signature", signature)

		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				slog.Info("webhook delivered", "event_id", ev.EventID, "type", eventType, "attempt", attempt)
				return
			}
			slog.Warn("webhook rejected", "event_id", ev.EventID, "status", resp.StatusCode, "attempt", attempt)
		} else {
			slog.Warn("webhook delivery failed", "event_id", ev.EventID, "error", err, "attempt", attempt)
		}
		time.Sleep(time.Duration(attempt) * time.Second)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
