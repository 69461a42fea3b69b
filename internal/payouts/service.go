// Package payouts implements vendor balance computation and the payout
// dispersion workflow.
package payouts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"marketpay/internal/common/database"
	"marketpay/internal/common/events"
	"marketpay/internal/common/middleware"
	"marketpay/internal/common/money"
	"marketpay/internal/payouts/domain"
)

// Service provides payout operations
type Service struct {
	store     Store
	transfer  TransferProvider
	publisher events.EventPublisher
	currency  money.Currency
	logger    *slog.Logger
}

// Store persists bank accounts, payouts and the dispersion policy, and
// aggregates vendor financials.
type Store interface {
	// Financial aggregates
	GetFinancials(ctx context.Context, vendorID string, currency money.Currency) (*domain.VendorFinancials, error)
	ListFinancials(ctx context.Context, currency money.Currency) ([]*domain.VendorFinancials, error)

	// Bank accounts
	CreateBankAccount(ctx context.Context, account *domain.BankAccount) error
	ActivateBankAccount(ctx context.Context, vendorID, accountID string) (*domain.BankAccount, error)
	GetBankAccount(ctx context.Context, accountID string) (*domain.BankAccount, error)
	ListBankAccounts(ctx context.Context, vendorID string) ([]*domain.BankAccount, error)
	SetBankAccountVerified(ctx context.Context, accountID string, verified bool) (*domain.BankAccount, error)
	DeleteBankAccount(ctx context.Context, vendorID, accountID string) error
	GetActiveVerifiedAccount(ctx context.Context, vendorID string) (*domain.BankAccount, error)

	// Payouts
	CreatePayout(ctx context.Context, vendorID string, currency money.Currency,
		decide func(*domain.VendorFinancials, *domain.BankAccount) (*domain.Payout, error)) (*domain.Payout, error)
	GetPayout(ctx context.Context, payoutID string) (*domain.Payout, error)
	ListPayouts(ctx context.Context, vendorID string, limit, offset int) ([]*domain.Payout, int64, error)
	UpdatePayout(ctx context.Context, p *domain.Payout, expected domain.PayoutStatus) error

	// Dispersion policy
	GetConfig(ctx context.Context, currency money.Currency) (*domain.DispersionConfig, error)
	SaveConfig(ctx context.Context, cfg *domain.DispersionConfig) error
}

// TransferProvider submits net amounts to the external bank-transfer rail.
// A returned error is an expected business outcome (the payout fails), not
// an infrastructure fault.
type TransferProvider interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// TransferRequest describes a single outbound transfer. The idempotency key
// is the payout ID so provider-side retries are safe.
type TransferRequest struct {
	IdempotencyKey string
	Amount         money.Money
	Destination    *domain.BankAccount
}

// TransferResult is the provider's acknowledgement
type TransferResult struct {
	ProviderRef string
}

// NewService creates a new payout service
func NewService(store Store, transfer TransferProvider, publisher events.EventPublisher, currency money.Currency, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		transfer:  transfer,
		publisher: publisher,
		currency:  currency,
		logger:    logger,
	}
}

// dispersionConfig loads the stored policy, falling back to defaults when no
// admin has configured one yet.
func (s *Service) dispersionConfig(ctx context.Context) (*domain.DispersionConfig, error) {
	cfg, err := s.store.GetConfig(ctx, s.currency)
	if err != nil {
		if database.IsNotFound(err) {
			return domain.DefaultDispersionConfig(s.currency), nil
		}
		return nil, fmt.Errorf("loading dispersion config: %w", err)
	}
	return cfg, nil
}

// ComputeBalance derives a vendor's current financial position from settled
// sales, completed payouts and the commission rate. Pure read; never cached.
func (s *Service) ComputeBalance(ctx context.Context, vendorID string) (*domain.VendorBalance, error) {
	cfg, err := s.dispersionConfig(ctx)
	if err != nil {
		return nil, err
	}

	fin, err := s.store.GetFinancials(ctx, vendorID, s.currency)
	if err != nil {
		return nil, fmt.Errorf("aggregating financials: %w", err)
	}

	balance := s.deriveBalance(ctx, fin, cfg)
	s.attachBankAccount(ctx, balance)
	return balance, nil
}

// ComputeAllBalances derives balances for every vendor with at least one
// settled sale
func (s *Service) ComputeAllBalances(ctx context.Context) ([]*domain.VendorBalance, error) {
	cfg, err := s.dispersionConfig(ctx)
	if err != nil {
		return nil, err
	}

	fins, err := s.store.ListFinancials(ctx, s.currency)
	if err != nil {
		return nil, fmt.Errorf("aggregating financials: %w", err)
	}

	balances := make([]*domain.VendorBalance, 0, len(fins))
	for _, fin := range fins {
		balance := s.deriveBalance(ctx, fin, cfg)
		s.attachBankAccount(ctx, balance)
		balances = append(balances, balance)
	}
	return balances, nil
}

func (s *Service) deriveBalance(ctx context.Context, fin *domain.VendorFinancials, cfg *domain.DispersionConfig) *domain.VendorBalance {
	balance, clamped := domain.ComputeVendorBalance(fin.VendorID, fin.TotalSales, fin.TotalDispersed, cfg.AdminCommissionBps)
	if clamped {
		s.logger.Warn("available balance clamped to zero, bookkeeping inconsistent",
			"vendor_id", fin.VendorID,
			"total_sales", fin.TotalSales.AmountMinor,
			"total_dispersed", fin.TotalDispersed.AmountMinor,
			"commission_bps", cfg.AdminCommissionBps,
		)
	}
	return &balance
}

func (s *Service) attachBankAccount(ctx context.Context, balance *domain.VendorBalance) {
	accounts, err := s.store.ListBankAccounts(ctx, balance.VendorID)
	if err != nil {
		s.logger.Error("failed to load bank accounts for balance",
			"vendor_id", balance.VendorID,
			"error", err,
		)
		return
	}
	for _, a := range accounts {
		if a.IsActive {
			balance.ActiveBankAccount = a
			balance.HasBankAccountVerified = a.IsVerified
			return
		}
	}
}

// CreateBankAccountRequest is the request to register a payout destination
type CreateBankAccountRequest struct {
	VendorID       string              `json:"vendor_id" validate:"required"`
	BankName       string              `json:"bank_name" validate:"required,max=255"`
	AccountType    domain.AccountType  `json:"account_type" validate:"required,oneof=SAVINGS CHECKING"`
	AccountNumber  string              `json:"account_number" validate:"required,max=64"`
	HolderName     string              `json:"holder_name" validate:"required,max=255"`
	HolderDocument string              `json:"holder_document" validate:"required,max=64"`
	DocumentType   domain.DocumentType `json:"document_type" validate:"required,oneof=national-id foreign-id tax-id passport"`
}

// CreateBankAccount registers a new payout destination. The new account
// becomes the vendor's single active account; any previous active account is
// deactivated in the same write.
func (s *Service) CreateBankAccount(ctx context.Context, req CreateBankAccountRequest) (*domain.BankAccount, error) {
	id := ulid.Make().String()

	account, err := domain.NewBankAccount(id, req.VendorID, req.BankName, req.AccountNumber,
		req.HolderName, req.HolderDocument, req.AccountType, req.DocumentType)
	if err != nil {
		return nil, fmt.Errorf("creating bank account: %w", err)
	}

	if err := s.store.CreateBankAccount(ctx, account); err != nil {
		return nil, err
	}

	s.publishBankAccountEvent(ctx, events.EventBankAccountCreated, account)

	s.logger.Info("bank account created",
		"account_id", account.ID,
		"vendor_id", account.VendorID,
		"bank_name", account.BankName,
	)

	return account, nil
}

// SetActiveBankAccount makes the target account the vendor's payout
// destination, deactivating siblings atomically
func (s *Service) SetActiveBankAccount(ctx context.Context, vendorID, accountID string) (*domain.BankAccount, error) {
	account, err := s.store.ActivateBankAccount(ctx, vendorID, accountID)
	if err != nil {
		return nil, err
	}

	s.publishBankAccountEvent(ctx, events.EventBankAccountActivated, account)

	s.logger.Info("bank account activated",
		"account_id", account.ID,
		"vendor_id", vendorID,
	)

	return account, nil
}

// VerifyBankAccount marks an account as admin-verified. Verification does
// not touch activation.
func (s *Service) VerifyBankAccount(ctx context.Context, accountID string) (*domain.BankAccount, error) {
	return s.setVerified(ctx, accountID, true)
}

// UnverifyBankAccount withdraws admin verification
func (s *Service) UnverifyBankAccount(ctx context.Context, accountID string) (*domain.BankAccount, error) {
	return s.setVerified(ctx, accountID, false)
}

func (s *Service) setVerified(ctx context.Context, accountID string, verified bool) (*domain.BankAccount, error) {
	account, err := s.store.SetBankAccountVerified(ctx, accountID, verified)
	if err != nil {
		return nil, err
	}

	eventType := events.EventBankAccountVerified
	if !verified {
		eventType = events.EventBankAccountUnverified
	}
	s.publishBankAccountEvent(ctx, eventType, account)

	s.logger.Info("bank account verification changed",
		"account_id", accountID,
		"verified", verified,
	)

	return account, nil
}

// RemoveBankAccount deletes a vendor-owned account unless an open payout
// still targets it
func (s *Service) RemoveBankAccount(ctx context.Context, vendorID, accountID string) error {
	if err := s.store.DeleteBankAccount(ctx, vendorID, accountID); err != nil {
		return err
	}

	s.publishBankAccountEvent(ctx, events.EventBankAccountRemoved, &domain.BankAccount{ID: accountID, VendorID: vendorID})

	s.logger.Info("bank account removed",
		"account_id", accountID,
		"vendor_id", vendorID,
	)
	return nil
}

// ListBankAccounts lists a vendor's registered accounts
func (s *Service) ListBankAccounts(ctx context.Context, vendorID string) ([]*domain.BankAccount, error) {
	return s.store.ListBankAccounts(ctx, vendorID)
}

// GetDispersionConfig returns the current policy, or the documented defaults
// when none has been stored
func (s *Service) GetDispersionConfig(ctx context.Context) (*domain.DispersionConfig, error) {
	return s.dispersionConfig(ctx)
}

// UpdateDispersionConfigRequest carries a partial policy update; nil fields
// keep their current value
type UpdateDispersionConfigRequest struct {
	DispersalFrequencyDays *int   `json:"dispersal_frequency_days" validate:"omitempty,gte=1"`
	AdminCommissionBps     *int64 `json:"admin_commission_bps" validate:"omitempty,gte=0,lte=10000"`
	MinimumPayoutMinor     *int64 `json:"minimum_payout_minor" validate:"omitempty,gte=0"`
	AutoDispersal          *bool  `json:"auto_dispersal"`
}

// UpdateDispersionConfig applies a partial policy update and persists the
// singleton row
func (s *Service) UpdateDispersionConfig(ctx context.Context, req UpdateDispersionConfigRequest) (*domain.DispersionConfig, error) {
	cfg, err := s.dispersionConfig(ctx)
	if err != nil {
		return nil, err
	}

	if req.DispersalFrequencyDays != nil {
		cfg.DispersalFrequencyDays = *req.DispersalFrequencyDays
		if cfg.LastDispersalAt != nil {
			next := cfg.LastDispersalAt.AddDate(0, 0, cfg.DispersalFrequencyDays)
			cfg.NextDispersalAt = &next
		}
	}
	if req.AdminCommissionBps != nil {
		cfg.AdminCommissionBps = *req.AdminCommissionBps
	}
	if req.MinimumPayoutMinor != nil {
		cfg.MinimumPayout = money.New(*req.MinimumPayoutMinor, s.currency)
	}
	if req.AutoDispersal != nil {
		cfg.AutoDispersal = *req.AutoDispersal
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating dispersion config: %w", err)
	}

	cfg.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveConfig(ctx, cfg); err != nil {
		return nil, err
	}

	if event, err := events.NewEvent(events.EventConfigUpdated, "dispersion_config", "singleton", cfg); err == nil {
		s.publish(ctx, event)
	}

	s.logger.Info("dispersion config updated",
		"commission_bps", cfg.AdminCommissionBps,
		"minimum_payout", cfg.MinimumPayout.AmountMinor,
		"frequency_days", cfg.DispersalFrequencyDays,
		"auto_dispersal", cfg.AutoDispersal,
	)

	return cfg, nil
}

// CreatePayout snapshots the vendor's available balance into a PENDING
// payout. Eligibility (verified active account, balance at or above the
// configured minimum) is checked inside the same serializable transaction as
// the insert, so two concurrent calls cannot both spend the same balance.
func (s *Service) CreatePayout(ctx context.Context, vendorID string) (*domain.Payout, error) {
	cfg, err := s.dispersionConfig(ctx)
	if err != nil {
		return nil, err
	}

	payout, err := s.store.CreatePayout(ctx, vendorID, s.currency,
		func(fin *domain.VendorFinancials, account *domain.BankAccount) (*domain.Payout, error) {
			if account == nil {
				return nil, fmt.Errorf("%w: no verified active bank account", domain.ErrIneligible)
			}

			balance, clamped := domain.ComputeVendorBalance(fin.VendorID, fin.TotalSales, fin.TotalDispersed, cfg.AdminCommissionBps)
			if clamped {
				s.logger.Warn("available balance clamped to zero, bookkeeping inconsistent",
					"vendor_id", fin.VendorID,
				)
			}

			if balance.AvailableBalance.LessThan(cfg.MinimumPayout) {
				return nil, fmt.Errorf("%w: available %d below minimum %d",
					domain.ErrIneligible, balance.AvailableBalance.AmountMinor, cfg.MinimumPayout.AmountMinor)
			}
			if !balance.AvailableBalance.IsPositive() {
				return nil, fmt.Errorf("%w: nothing to disperse", domain.ErrIneligible)
			}

			commission := balance.AvailableBalance.Percentage(cfg.AdminCommissionBps)
			return domain.NewPayout(ulid.Make().String(), vendorID, account.ID, balance.AvailableBalance, commission)
		})
	if err != nil {
		return nil, err
	}

	s.publishPayoutEvent(ctx, events.EventPayoutCreated, payout)

	s.logger.Info("payout created",
		"payout_id", payout.ID,
		"vendor_id", payout.VendorID,
		"amount", payout.Amount.AmountMinor,
		"net_amount", payout.NetAmount.AmountMinor,
	)

	return payout, nil
}

// ExecutePayout submits a pending payout to the transfer provider. The
// payout moves to PROCESSING before the external call; provider failure or
// timeout lands it in FAILED, which is an expected outcome and frees the
// gross amount for a later payout.
func (s *Service) ExecutePayout(ctx context.Context, payoutID string) (*domain.Payout, error) {
	payout, err := s.store.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}

	if err := payout.MarkProcessing(); err != nil {
		return nil, err
	}
	if err := s.store.UpdatePayout(ctx, payout, domain.PayoutPending); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, fmt.Errorf("%w: payout %s was transitioned concurrently", domain.ErrInvalidState, payoutID)
		}
		return nil, err
	}
	s.publishPayoutEvent(ctx, events.EventPayoutExecuting, payout)

	account, err := s.store.GetBankAccount(ctx, payout.BankAccountID)
	if err != nil {
		return s.failPayout(ctx, payout, "DESTINATION_MISSING", fmt.Sprintf("loading destination account: %v", err))
	}

	result, err := s.transfer.Transfer(ctx, TransferRequest{
		IdempotencyKey: payout.ID,
		Amount:         payout.NetAmount,
		Destination:    account,
	})
	if err != nil {
		return s.failPayout(ctx, payout, "TRANSFER_FAILED", err.Error())
	}

	if err := payout.MarkCompleted(result.ProviderRef); err != nil {
		return nil, err
	}
	if err := s.store.UpdatePayout(ctx, payout, domain.PayoutProcessing); err != nil {
		return nil, err
	}
	s.publishPayoutEvent(ctx, events.EventPayoutCompleted, payout)

	s.logger.Info("payout completed",
		"payout_id", payout.ID,
		"vendor_id", payout.VendorID,
		"net_amount", payout.NetAmount.AmountMinor,
		"provider_ref", result.ProviderRef,
	)

	return payout, nil
}

func (s *Service) failPayout(ctx context.Context, payout *domain.Payout, code, message string) (*domain.Payout, error) {
	if err := payout.MarkFailed(code, message); err != nil {
		return nil, err
	}
	if err := s.store.UpdatePayout(ctx, payout, domain.PayoutProcessing); err != nil {
		return nil, err
	}
	s.publishPayoutEvent(ctx, events.EventPayoutFailed, payout)

	s.logger.Warn("payout failed",
		"payout_id", payout.ID,
		"vendor_id", payout.VendorID,
		"error_code", code,
		"error", message,
	)

	// A failed transfer is an expected outcome, not a request error.
	return payout, nil
}

// CancelPayout cancels a pending payout. Only PENDING payouts can be
// cancelled; ProcessedAt stays nil.
func (s *Service) CancelPayout(ctx context.Context, payoutID string) (*domain.Payout, error) {
	payout, err := s.store.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}

	if err := payout.Cancel(); err != nil {
		return nil, err
	}
	if err := s.store.UpdatePayout(ctx, payout, domain.PayoutPending); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, fmt.Errorf("%w: payout %s was transitioned concurrently", domain.ErrInvalidState, payoutID)
		}
		return nil, err
	}
	s.publishPayoutEvent(ctx, events.EventPayoutCancelled, payout)

	s.logger.Info("payout cancelled",
		"payout_id", payout.ID,
		"vendor_id", payout.VendorID,
	)

	return payout, nil
}

// GetPayout retrieves a payout by ID
func (s *Service) GetPayout(ctx context.Context, payoutID string) (*domain.Payout, error) {
	return s.store.GetPayout(ctx, payoutID)
}

// ListPayouts lists payouts, newest first. An empty vendorID lists all vendors.
func (s *Service) ListPayouts(ctx context.Context, vendorID string, limit, offset int) ([]*domain.Payout, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.ListPayouts(ctx, vendorID, limit, offset)
}

// DispersionOutcome is the per-vendor result of a batch run
type DispersionOutcome struct {
	VendorID string `json:"vendor_id"`
	PayoutID string `json:"payout_id,omitempty"`
	Outcome  string `json:"outcome"` // created | failed
	Error    string `json:"error,omitempty"`
}

// DispersionReport summarizes a batch dispersion run
type DispersionReport struct {
	Successful int                 `json:"successful"`
	Failed     int                 `json:"failed"`
	Details    []DispersionOutcome `json:"details"`
	RanAt      time.Time           `json:"ran_at"`
}

// DisperseAll creates a payout for every eligible vendor. Vendors are
// processed independently: one vendor's failure (including a race that
// disqualifies it between the eligibility scan and creation) never aborts
// the rest of the run.
func (s *Service) DisperseAll(ctx context.Context) (*DispersionReport, error) {
	cfg, err := s.dispersionConfig(ctx)
	if err != nil {
		return nil, err
	}

	fins, err := s.store.ListFinancials(ctx, s.currency)
	if err != nil {
		return nil, fmt.Errorf("aggregating financials: %w", err)
	}

	report := &DispersionReport{RanAt: time.Now().UTC()}
	for _, fin := range fins {
		if !s.eligibleForDispersion(ctx, fin, cfg) {
			continue
		}

		payout, err := s.CreatePayout(ctx, fin.VendorID)
		if err != nil {
			report.Failed++
			report.Details = append(report.Details, DispersionOutcome{
				VendorID: fin.VendorID,
				Outcome:  "failed",
				Error:    err.Error(),
			})
			s.logger.Warn("batch dispersion failed for vendor",
				"vendor_id", fin.VendorID,
				"error", err,
			)
			continue
		}

		report.Successful++
		report.Details = append(report.Details, DispersionOutcome{
			VendorID: fin.VendorID,
			PayoutID: payout.ID,
			Outcome:  "created",
		})
	}

	cfg.RecordDispersal(report.RanAt)
	if err := s.store.SaveConfig(ctx, cfg); err != nil {
		s.logger.Error("failed to stamp dispersion run", "error", err)
	}

	if event, err := events.NewEvent(events.EventDispersionCompleted, "dispersion_run", ulid.Make().String(), events.DispersionCompletedData{
		Successful: report.Successful,
		Failed:     report.Failed,
		RanAt:      report.RanAt,
	}); err == nil {
		s.publish(ctx, event)
	}

	s.logger.Info("batch dispersion completed",
		"successful", report.Successful,
		"failed", report.Failed,
	)

	return report, nil
}

func (s *Service) eligibleForDispersion(ctx context.Context, fin *domain.VendorFinancials, cfg *domain.DispersionConfig) bool {
	if _, err := s.store.GetActiveVerifiedAccount(ctx, fin.VendorID); err != nil {
		if !database.IsNotFound(err) {
			s.logger.Error("failed to check payout destination",
				"vendor_id", fin.VendorID,
				"error", err,
			)
		}
		return false
	}

	balance, _ := domain.ComputeVendorBalance(fin.VendorID, fin.TotalSales, fin.TotalDispersed, cfg.AdminCommissionBps)
	return balance.AvailableBalance.IsPositive() && !balance.AvailableBalance.LessThan(cfg.MinimumPayout)
}

// Event helpers

func (s *Service) publish(ctx context.Context, event *events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event.WithCorrelation(middleware.GetCorrelationID(ctx))); err != nil {
		s.logger.Error("failed to publish event",
			"event_id", event.ID,
			"type", event.Type,
			"error", err,
		)
	}
}

func (s *Service) publishPayoutEvent(ctx context.Context, eventType string, p *domain.Payout) {
	data := events.PayoutEventData{
		PayoutID:        p.ID,
		VendorID:        p.VendorID,
		Amount:          p.Amount.AmountMinor,
		AdminCommission: p.AdminCommission.AmountMinor,
		NetAmount:       p.NetAmount.AmountMinor,
		Currency:        string(p.Amount.Currency),
		Status:          string(p.Status),
		ProcessedAt:     p.ProcessedAt,
		ErrorMessage:    p.ErrorMessage,
	}
	if event, err := events.NewEvent(eventType, "payout", p.ID, data); err == nil {
		s.publish(ctx, event)
	}
}

func (s *Service) publishBankAccountEvent(ctx context.Context, eventType string, a *domain.BankAccount) {
	data := events.BankAccountEventData{
		AccountID:  a.ID,
		VendorID:   a.VendorID,
		BankName:   a.BankName,
		IsActive:   a.IsActive,
		IsVerified: a.IsVerified,
	}
	if event, err := events.NewEvent(eventType, "bank_account", a.ID, data); err == nil {
		s.publish(ctx, event)
	}
}
