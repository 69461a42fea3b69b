// Package transfer provides the HTTP adapter for the external bank-transfer
// provider that settles payouts.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"marketpay/internal/payouts"
)

// Config holds transfer provider configuration
type Config struct {
	BaseURL string        `envconfig:"TRANSFER_BASE_URL" required:"true"`
	APIKey  string        `envconfig:"TRANSFER_API_KEY" required:"true"`
	Timeout time.Duration `envconfig:"TRANSFER_TIMEOUT" default:"30s"`
}

// submitRequest is the request body for transfer submission
type submitRequest struct {
	Reference      string `json:"reference"`
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	BankName       string `json:"bank_name"`
	AccountType    string `json:"account_type"`
	AccountNumber  string `json:"account_number"`
	HolderName     string `json:"holder_name"`
	HolderDocument string `json:"holder_document"`
	DocumentType   string `json:"document_type"`
}

// submitResponse is the provider's acknowledgement
type submitResponse struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

// Adapter submits payouts to the transfer provider over HTTP. It is
// stateless; the payout record is the system of record for transfer state.
type Adapter struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAdapter creates a new transfer adapter
func NewAdapter(cfg Config, logger *slog.Logger) *Adapter {
	return &Adapter{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Transfer submits a single outbound transfer. The idempotency key rides in
// both the request reference and the Idempotency-Key header so provider-side
// retries cannot double-pay.
func (a *Adapter) Transfer(ctx context.Context, req payouts.TransferRequest) (*payouts.TransferResult, error) {
	if req.Destination == nil {
		return nil, fmt.Errorf("transfer request has no destination account")
	}

	body, err := json.Marshal(submitRequest{
		Reference:      req.IdempotencyKey,
		AmountMinor:    req.Amount.AmountMinor,
		Currency:       string(req.Amount.Currency),
		BankName:       req.Destination.BankName,
		AccountType:    string(req.Destination.AccountType),
		AccountNumber:  req.Destination.AccountNumber,
		HolderName:     req.Destination.HolderName,
		HolderDocument: req.Destination.HolderDocument,
		DocumentType:   string(req.Destination.DocumentType),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	a.logger.Info("submitting transfer",
		"reference", req.IdempotencyKey,
		"amount", req.Amount.AmountMinor,
		"currency", req.Amount.Currency,
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, fmt.Errorf("transfer api error: status=%d body=%s", httpResp.StatusCode, string(respBody))
	}

	var resp submitResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if resp.Status == "REJECTED" {
		return nil, fmt.Errorf("transfer rejected: %s", resp.Message)
	}

	a.logger.Info("transfer submitted",
		"reference", req.IdempotencyKey,
		"transfer_id", resp.TransferID,
		"status", resp.Status,
	)

	return &payouts.TransferResult{ProviderRef: resp.TransferID}, nil
}
