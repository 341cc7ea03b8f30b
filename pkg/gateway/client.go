package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agrimandi/agrimandi-backend/pkg/config"
	pkgerrors "github.com/agrimandi/agrimandi-backend/pkg/errors"
	"github.com/agrimandi/agrimandi-backend/pkg/logger"
)

var (
	errBaseURLRequired       = errors.New("gateway base url is required")
	errKeyRequired           = errors.New("gateway key id and secret are required")
	errWebhookSecretRequired = errors.New("gateway webhook secret is required")
	errLoggerRequired        = errors.New("gateway logger is required")
)

// Client wraps the payment gateway REST API with centralized auth, logging
// and error mapping. All amounts are paise.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	logger        *logger.Logger
}

// ChargeRequest asks the gateway to open a charge for an order.
type ChargeRequest struct {
	AmountPaise int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Receipt     string            `json:"receipt"`
	Notes       map[string]string `json:"notes,omitempty"`
}

// Charge is the gateway's view of an open or settled charge.
type Charge struct {
	ID          string `json:"id"`
	AmountPaise int64  `json:"amount"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
	Status      string `json:"status"`
}

// RefundRequest asks the gateway to return funds against a captured payment.
type RefundRequest struct {
	PaymentID   string            `json:"payment_id"`
	AmountPaise int64             `json:"amount"`
	Notes       map[string]string `json:"notes,omitempty"`
}

// Refund is the gateway's record of a processed refund.
type Refund struct {
	ID          string `json:"id"`
	PaymentID   string `json:"payment_id"`
	AmountPaise int64  `json:"amount"`
	Status      string `json:"status"`
}

// NewClient initializes the gateway wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || keySecret == "" {
		return nil, errKeyRequired
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		logger:        logg,
	}

	logg.Info(ctx, "payment gateway client initialized")
	return c, nil
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// NewIdempotencyKey returns a unique key for gateway operations.
func (c *Client) NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "agm"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

// CreateCharge opens a charge at the gateway for the given order amount.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if req.AmountPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge amount must be positive")
	}
	var out Charge
	if err := c.do(ctx, http.MethodPost, "/v1/charges", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchCharge looks up a charge by its gateway id.
func (c *Client) FetchCharge(ctx context.Context, chargeID string) (*Charge, error) {
	if strings.TrimSpace(chargeID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge id is required")
	}
	var out Charge
	if err := c.do(ctx, http.MethodGet, "/v1/charges/"+chargeID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateRefund instructs the gateway to refund part or all of a payment.
func (c *Client) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if strings.TrimSpace(req.PaymentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	if req.AmountPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	var out Refund
	path := fmt.Sprintf("/v1/payments/%s/refunds", req.PaymentID)
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding gateway request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building gateway request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway request failed")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading gateway response")
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return c.mapError(ctx, resp.StatusCode, payload)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding gateway response")
	}
	return nil
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *Client) mapError(ctx context.Context, statusCode int, payload []byte) error {
	var parsed apiError
	_ = json.Unmarshal(payload, &parsed)
	message := parsed.Error.Description
	if message == "" {
		message = fmt.Sprintf("gateway returned status %d", statusCode)
	}
	if c.logger != nil {
		logCtx := c.logger.WithFields(ctx, map[string]any{
			"status_code":  statusCode,
			"gateway_code": parsed.Error.Code,
		})
		c.logger.Warn(logCtx, "gateway request rejected")
	}
	if statusCode >= http.StatusInternalServerError {
		return pkgerrors.New(pkgerrors.CodeDependency, message)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, message)
}
