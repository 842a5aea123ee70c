package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// TransactionStatus is what the gateway reports for a payment state code.
type TransactionStatus string

const (
	StatusApproved TransactionStatus = "approved"
	StatusPending  TransactionStatus = "pending"
	StatusDeclined TransactionStatus = "declined"
	StatusExpired  TransactionStatus = "expired"
	StatusError    TransactionStatus = "error"
)

// Gateway is the consumed side of the payment collaborator: webhook
// signature validation and out-of-band status lookup. Sale confirmation
// fires only when the status comes back approved.
type Gateway interface {
	ValidateSignature(payload []byte, signature string) bool
	TransactionStatus(ctx context.Context, stateCode string) (TransactionStatus, error)
}

type httpGateway struct {
	baseURL       string
	apiKey        string
	apiKeyHdr     string
	webhookSecret []byte
	http          *http.Client
}

func NewHTTPGateway() (Gateway, error) {
	baseURL := strings.TrimSpace(os.Getenv("PAYMENT_API_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New("PAYMENT_API_BASE_URL not set")
	}
	apiKey := strings.TrimSpace(os.Getenv("PAYMENT_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("PAYMENT_API_KEY not set")
	}
	secret := strings.TrimSpace(os.Getenv("PAYMENT_WEBHOOK_SECRET"))
	if secret == "" {
		return nil, errors.New("PAYMENT_WEBHOOK_SECRET not set")
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("PAYMENT_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}

	return &httpGateway{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		apiKeyHdr:     apiKeyHeader,
		webhookSecret: []byte(secret),
		http:          &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (g *httpGateway) ValidateSignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, g.webhookSecret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

type statusResponse struct {
	Status string `json:"status"`
}

func (g *httpGateway) TransactionStatus(ctx context.Context, stateCode string) (TransactionStatus, error) {
	if strings.TrimSpace(stateCode) == "" {
		return StatusError, errors.New("state code is empty")
	}
	endpoint := g.baseURL + "/v1/transactions/" + url.PathEscape(stateCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return StatusError, err
	}
	req.Header.Set(g.apiKeyHdr, g.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return StatusError, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return StatusError, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return StatusError, fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded statusResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return StatusError, err
	}
	switch TransactionStatus(strings.ToLower(decoded.Status)) {
	case StatusApproved:
		return StatusApproved, nil
	case StatusPending:
		return StatusPending, nil
	case StatusDeclined:
		return StatusDeclined, nil
	case StatusExpired:
		return StatusExpired, nil
	default:
		return StatusError, fmt.Errorf("unknown transaction status %q", decoded.Status)
	}
}
