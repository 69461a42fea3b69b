package domain

import (
	"errors"
	"fmt"
	"time"

	"marketpay/internal/common/money"
)

// PayoutStatus represents the status of a payout
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "PENDING"
	PayoutProcessing PayoutStatus = "PROCESSING"
	PayoutCompleted  PayoutStatus = "COMPLETED"
	PayoutFailed     PayoutStatus = "FAILED"
	PayoutCancelled  PayoutStatus = "CANCELLED"
)

// Payout represents a transfer of a vendor's net earnings to their bank
// account. Amounts are snapshotted at creation time: Amount is the gross
// available balance, AdminCommission the platform cut already deducted in the
// balance computation (recorded for audit), NetAmount what the vendor receives.
type Payout struct {
	ID              string       `json:"id"`
	VendorID        string       `json:"vendor_id"`
	BankAccountID   string       `json:"bank_account_id"`
	Amount          money.Money  `json:"amount"`
	AdminCommission money.Money  `json:"admin_commission"`
	NetAmount       money.Money  `json:"net_amount"`
	Status          PayoutStatus `json:"status"`
	ErrorCode       string       `json:"error_code,omitempty"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	ProviderRef     string       `json:"provider_ref,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	ProcessedAt     *time.Time   `json:"processed_at,omitempty"`
}

// NewPayout creates a new payout in PENDING state
func NewPayout(id, vendorID, bankAccountID string, amount, adminCommission money.Money) (*Payout, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if vendorID == "" {
		return nil, errors.New("vendor_id is required")
	}
	if bankAccountID == "" {
		return nil, errors.New("bank_account_id is required")
	}
	if !amount.IsPositive() {
		return nil, errors.New("amount must be positive")
	}
	if adminCommission.IsNegative() {
		return nil, errors.New("admin_commission cannot be negative")
	}

	net, err := amount.Sub(adminCommission)
	if err != nil {
		return nil, fmt.Errorf("computing net amount: %w", err)
	}
	if net.IsNegative() {
		return nil, errors.New("commission exceeds payout amount")
	}

	now := time.Now().UTC()
	return &Payout{
		ID:              id,
		VendorID:        vendorID,
		BankAccountID:   bankAccountID,
		Amount:          amount,
		AdminCommission: adminCommission,
		NetAmount:       net,
		Status:          PayoutPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// MarkProcessing transitions a pending payout to PROCESSING
func (p *Payout) MarkProcessing() error {
	if p.Status != PayoutPending {
		return fmt.Errorf("%w: cannot execute %s payout %s", ErrInvalidState, p.Status, p.ID)
	}
	p.Status = PayoutProcessing
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkCompleted transitions a processing payout to COMPLETED and records
// the settlement time
func (p *Payout) MarkCompleted(providerRef string) error {
	if p.Status != PayoutProcessing {
		return fmt.Errorf("%w: cannot complete %s payout %s", ErrInvalidState, p.Status, p.ID)
	}
	now := time.Now().UTC()
	p.Status = PayoutCompleted
	p.ProviderRef = providerRef
	p.ProcessedAt = &now
	p.UpdatedAt = now
	return nil
}

// MarkFailed records a transfer failure. The gross amount naturally becomes
// available again because balance computation only counts COMPLETED payouts.
func (p *Payout) MarkFailed(errorCode, errorMessage string) error {
	if p.Status != PayoutPending && p.Status != PayoutProcessing {
		return fmt.Errorf("%w: cannot fail %s payout %s", ErrInvalidState, p.Status, p.ID)
	}
	p.Status = PayoutFailed
	p.ErrorCode = errorCode
	p.ErrorMessage = errorMessage
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Cancel transitions a pending payout to CANCELLED. ProcessedAt stays nil.
func (p *Payout) Cancel() error {
	if p.Status != PayoutPending {
		return fmt.Errorf("%w: cannot cancel %s payout %s", ErrInvalidState, p.Status, p.ID)
	}
	p.Status = PayoutCancelled
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// IsTerminal returns true if no further transitions are possible
func (p *Payout) IsTerminal() bool {
	return p.Status == PayoutCompleted || p.Status == PayoutFailed || p.Status == PayoutCancelled
}
