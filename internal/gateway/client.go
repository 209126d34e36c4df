// Package gateway is the HTTP client for the external payment processor. The
// engine only opens authorizations here; confirmation arrives asynchronously
// through signed webhooks.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/servimarket/payments-engine/internal/domain"
	"github.com/servimarket/payments-engine/internal/logging"
)

type Authorization struct {
	ReferenceID string
	ClientToken string
}

type AuthorizationRequest struct {
	Amount   int64
	Currency domain.Currency
	Metadata map[string]string
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type authorizationPayload struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type authorizationResponse struct {
	ReferenceID string `json:"reference_id"`
	ClientToken string `json:"client_token"`
}

// OpenAuthorization makes a single attempt against the gateway. Retry policy
// belongs to the caller. A timeout is deliberately reported as
// ErrGatewayUnavailable: the outcome is unknown and must not be guessed.
func (c *Client) OpenAuthorization(ctx context.Context, req AuthorizationRequest) (*Authorization, error) {
	log := logging.FromContext(ctx)

	body, err := json.Marshal(authorizationPayload{
		Amount:   req.Amount,
		Currency: string(req.Currency),
		Metadata: req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAuthorization: marshal: %w", err)
	}

	url := c.baseURL + "/authorizations"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("OpenAuthorization: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAuthorization: send: %w", domain.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	log.Info("gateway authorization response",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warn("gateway rejected authorization", "status", resp.StatusCode, "body", string(respBody))
		return nil, fmt.Errorf("OpenAuthorization: status %d: %w", resp.StatusCode, domain.ErrGatewayRejected)
	default:
		return nil, fmt.Errorf("OpenAuthorization: status %d: %w", resp.StatusCode, domain.ErrGatewayUnavailable)
	}

	var out authorizationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("OpenAuthorization: decode: %w", err)
	}
	if out.ReferenceID == "" {
		return nil, fmt.Errorf("OpenAuthorization: gateway returned empty reference id")
	}

	return &Authorization{ReferenceID: out.ReferenceID, ClientToken: out.ClientToken}, nil
}
