package payouts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"marketpay/internal/common/database"
	"marketpay/internal/common/money"
	"marketpay/internal/payouts/domain"
)

// fakeStore is an in-memory Store. It mirrors the persistence semantics the
// service relies on: dispersed totals count only COMPLETED payouts, one
// active account per vendor, CAS payout updates.
type fakeStore struct {
	sales           map[string]int64
	accounts        map[string]*domain.BankAccount
	payouts         map[string]*domain.Payout
	config          *domain.DispersionConfig
	createPayoutErr map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sales:           make(map[string]int64),
		accounts:        make(map[string]*domain.BankAccount),
		payouts:         make(map[string]*domain.Payout),
		createPayoutErr: make(map[string]error),
	}
}

func (f *fakeStore) financials(vendorID string, currency money.Currency) *domain.VendorFinancials {
	dispersed := int64(0)
	for _, p := range f.payouts {
		if p.VendorID == vendorID && p.Status == domain.PayoutCompleted {
			dispersed += p.Amount.AmountMinor
		}
	}
	return &domain.VendorFinancials{
		VendorID:       vendorID,
		TotalSales:     money.New(f.sales[vendorID], currency),
		TotalDispersed: money.New(dispersed, currency),
	}
}

func (f *fakeStore) GetFinancials(ctx context.Context, vendorID string, currency money.Currency) (*domain.VendorFinancials, error) {
	return f.financials(vendorID, currency), nil
}

func (f *fakeStore) ListFinancials(ctx context.Context, currency money.Currency) ([]*domain.VendorFinancials, error) {
	var out []*domain.VendorFinancials
	for vendorID := range f.sales {
		out = append(out, f.financials(vendorID, currency))
	}
	return out, nil
}

func (f *fakeStore) CreateBankAccount(ctx context.Context, account *domain.BankAccount) error {
	for _, a := range f.accounts {
		if a.VendorID == account.VendorID {
			a.IsActive = false
		}
	}
	cp := *account
	f.accounts[account.ID] = &cp
	return nil
}

func (f *fakeStore) ActivateBankAccount(ctx context.Context, vendorID, accountID string) (*domain.BankAccount, error) {
	target, ok := f.accounts[accountID]
	if !ok || target.VendorID != vendorID {
		return nil, database.ErrNotFound
	}
	for _, a := range f.accounts {
		if a.VendorID == vendorID {
			a.IsActive = false
		}
	}
	target.IsActive = true
	cp := *target
	return &cp, nil
}

func (f *fakeStore) GetBankAccount(ctx context.Context, accountID string) (*domain.BankAccount, error) {
	a, ok := f.accounts[accountID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) ListBankAccounts(ctx context.Context, vendorID string) ([]*domain.BankAccount, error) {
	var out []*domain.BankAccount
	for _, a := range f.accounts {
		if a.VendorID == vendorID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) SetBankAccountVerified(ctx context.Context, accountID string, verified bool) (*domain.BankAccount, error) {
	a, ok := f.accounts[accountID]
	if !ok {
		return nil, database.ErrNotFound
	}
	a.IsVerified = verified
	cp := *a
	return &cp, nil
}

func (f *fakeStore) DeleteBankAccount(ctx context.Context, vendorID, accountID string) error {
	a, ok := f.accounts[accountID]
	if !ok || a.VendorID != vendorID {
		return database.ErrNotFound
	}
	if a.IsActive {
		for _, p := range f.payouts {
			if p.BankAccountID == accountID && !p.IsTerminal() {
				return fmt.Errorf("%w: open payout targets this account", database.ErrConflict)
			}
		}
	}
	delete(f.accounts, accountID)
	return nil
}

func (f *fakeStore) GetActiveVerifiedAccount(ctx context.Context, vendorID string) (*domain.BankAccount, error) {
	for _, a := range f.accounts {
		if a.VendorID == vendorID && a.IsActive && a.IsVerified {
			cp := *a
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) CreatePayout(ctx context.Context, vendorID string, currency money.Currency,
	decide func(*domain.VendorFinancials, *domain.BankAccount) (*domain.Payout, error)) (*domain.Payout, error) {
	if err := f.createPayoutErr[vendorID]; err != nil {
		return nil, err
	}
	account, err := f.GetActiveVerifiedAccount(ctx, vendorID)
	if err != nil {
		account = nil
	}
	payout, err := decide(f.financials(vendorID, currency), account)
	if err != nil {
		return nil, err
	}
	cp := *payout
	f.payouts[payout.ID] = &cp
	return payout, nil
}

func (f *fakeStore) GetPayout(ctx context.Context, payoutID string) (*domain.Payout, error) {
	p, ok := f.payouts[payoutID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ListPayouts(ctx context.Context, vendorID string, limit, offset int) ([]*domain.Payout, int64, error) {
	var out []*domain.Payout
	for _, p := range f.payouts {
		if vendorID == "" || p.VendorID == vendorID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeStore) UpdatePayout(ctx context.Context, p *domain.Payout, expected domain.PayoutStatus) error {
	existing, ok := f.payouts[p.ID]
	if !ok {
		return database.ErrNotFound
	}
	if existing.Status != expected {
		return fmt.Errorf("%w: payout status changed", database.ErrConflict)
	}
	cp := *p
	f.payouts[p.ID] = &cp
	return nil
}

func (f *fakeStore) GetConfig(ctx context.Context, currency money.Currency) (*domain.DispersionConfig, error) {
	if f.config == nil {
		return nil, database.ErrNotFound
	}
	cp := *f.config
	return &cp, nil
}

func (f *fakeStore) SaveConfig(ctx context.Context, cfg *domain.DispersionConfig) error {
	cp := *cfg
	f.config = &cp
	return nil
}

type fakeTransfer struct {
	transferFn func(ctx context.Context, req TransferRequest) (*TransferResult, error)
	calls      []TransferRequest
}

func (f *fakeTransfer) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	f.calls = append(f.calls, req)
	if f.transferFn != nil {
		return f.transferFn(ctx, req)
	}
	return &TransferResult{ProviderRef: "ref-" + req.IdempotencyKey}, nil
}

func newTestService(store *fakeStore, transfer *fakeTransfer) *Service {
	return NewService(store, transfer, nil, money.USD, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func registerVerifiedAccount(t *testing.T, svc *Service, vendorID string) *domain.BankAccount {
	t.Helper()
	account, err := svc.CreateBankAccount(context.Background(), CreateBankAccountRequest{
		VendorID:       vendorID,
		BankName:       "First National",
		AccountType:    domain.AccountTypeSavings,
		AccountNumber:  "123456789",
		HolderName:     "Ada Vendor",
		HolderDocument: "900123456",
		DocumentType:   domain.DocumentTaxID,
	})
	if err != nil {
		t.Fatalf("CreateBankAccount error: %v", err)
	}
	if _, err := svc.VerifyBankAccount(context.Background(), account.ID); err != nil {
		t.Fatalf("VerifyBankAccount error: %v", err)
	}
	return account
}

func setCommission(t *testing.T, svc *Service, bps int64) {
	t.Helper()
	if _, err := svc.UpdateDispersionConfig(context.Background(), UpdateDispersionConfigRequest{
		AdminCommissionBps: &bps,
	}); err != nil {
		t.Fatalf("UpdateDispersionConfig error: %v", err)
	}
}

func TestComputeBalance(t *testing.T) {
	store := newFakeStore()
	store.sales["vendor-1"] = 100_000
	svc := newTestService(store, &fakeTransfer{})
	setCommission(t, svc, 1000) // 10%

	balance, err := svc.ComputeBalance(context.Background(), "vendor-1")
	if err != nil {
		t.Fatalf("ComputeBalance error: %v", err)
	}

	if balance.TotalSales.AmountMinor != 100_000 {
		t.Errorf("total sales = %d, want 100000", balance.TotalSales.AmountMinor)
	}
	if balance.AdminCommission.AmountMinor != 10_000 {
		t.Errorf("admin commission = %d, want 10000", balance.AdminCommission.AmountMinor)
	}
	if balance.AvailableBalance.AmountMinor != 90_000 {
		t.Errorf("available = %d, want 90000", balance.AvailableBalance.AmountMinor)
	}
	if balance.HasBankAccountVerified {
		t.Error("expected no verified bank account")
	}
}

func TestComputeBalance_NeverNegative(t *testing.T) {
	store := newFakeStore()
	store.sales["vendor-1"] = 50_000
	svc := newTestService(store, &fakeTransfer{})

	// A completed payout larger than current sales (e.g. after a refund)
	// must clamp available to zero, not go negative.
	p, err := domain.NewPayout("p1", "vendor-1", "acct-1", money.New(80_000, money.USD), money.Zero(money.USD))
	if err != nil {
		t.Fatalf("NewPayout error: %v", err)
	}
	p.Status = domain.PayoutCompleted
	store.payouts[p.ID] = p

	balance, err := svc.ComputeBalance(context.Background(), "vendor-1")
	if err != nil {
		t.Fatalf("ComputeBalance error: %v", err)
	}
	if balance.AvailableBalance.AmountMinor != 0 {
		t.Errorf("available = %d, want 0", balance.AvailableBalance.AmountMinor)
	}
}

func TestPayoutLifecycle(t *testing.T) {
	store := newFakeStore()
	store.sales["vendor-1"] = 100_000
	transfer := &fakeTransfer{}
	svc := newTestService(store, transfer)
	setCommission(t, svc, 1000)
	registerVerifiedAccount(t, svc, "vendor-1")

	payout, err := svc.CreatePayout(context.Background(), "vendor-1")
	if err != nil {
		t.Fatalf("CreatePayout error: %v", err)
	}

	if payout.Status != domain.PayoutPending {
		t.Errorf("status = %s, want PENDING", payout.Status)
	}
	if payout.Amount.AmountMinor != 90_000 {
		t.Errorf("amount = %d, want 90000", payout.Amount.AmountMinor)
	}
	if payout.AdminCommission.AmountMinor != 9_000 {
		t.Errorf("commission = %d, want 9000", payout.AdminCommission.AmountMinor)
	}
	if payout.NetAmount.AmountMinor != 81_000 {
		t.Errorf("net = %d, want 81000", payout.NetAmount.AmountMinor)
	}

	executed, err := svc.ExecutePayout(context.Background(), payout.ID)
	if err != nil {
		t.Fatalf("ExecutePayout error: %v", err)
	}
	if executed.Status != domain.PayoutCompleted {
		t.Errorf("status = %s, want COMPLETED", executed.Status)
	}
	if executed.ProcessedAt == nil {
		t.Error("expected ProcessedAt to be set")
	}
	if executed.ProviderRef == "" {
		t.Error("expected provider reference")
	}
	if len(transfer.calls) != 1 {
		t.Fatalf("transfer calls = %d, want 1", len(transfer.calls))
	}
	if transfer.calls[0].Amount.AmountMinor != 81_000 {
		t.Errorf("transferred = %d, want net 81000", transfer.calls[0].Amount.AmountMinor)
	}
	if transfer.calls[0].IdempotencyKey != payout.ID {
		t.Error("idempotency key should be the payout ID")
	}

	// The completed payout is now dispersed; nothing left to pay out.
	balance, err := svc.ComputeBalance(context.Background(), "vendor-1")
	if err != nil {
		t.Fatalf("ComputeBalance error: %v", err)
	}
	if balance.TotalDispersed.AmountMinor != 90_000 {
		t.Errorf("dispersed = %d, want 90000", balance.TotalDispersed.AmountMinor)
	}
	if balance.AvailableBalance.AmountMinor != 0 {
		t.Errorf("available = %d, want 0", balance.AvailableBalance.AmountMinor)
	}

	if _, err := svc.CreatePayout(context.Background(), "vendor-1"); !errors.Is(err, domain.ErrIneligible) {
		t.Errorf("expected ErrIneligible for drained balance, got %v", err)
	}
}

func TestCreatePayout_NoVerifiedAccount(t *testing.T) {
	store := newFakeStore()
	store.sales["vendor-1"] = 100_000
	svc := newTestService(store, &fakeTransfer{})

	if _, err := svc.CreatePayout(context.Background(), "vendor-1"); !errors.Is(err, domain.ErrIneligible) {
		t.Errorf("expected ErrIneligible without a verified account, got %v", err)
	}

	// An active but unverified account is not enough.
	if _, err := svc.CreateBankAccount(context.Background(), CreateBankAccountRequest{
		VendorID:       "vendor-1",
		BankName:       "First National",
		AccountType:    domain.AccountTypeChecking,
		AccountNumber:  "987654321",
		HolderName:     "Ada Vendor",
		HolderDocument: "900123456",
		DocumentType:   domain.DocumentNationalID,
	}); err != nil {
		t.Fatalf("CreateBankAccount error: %v", err)
	}
	if _, err := svc.CreatePayout(context.Background(), "vendor-1"); !errors.Is(err, domain.ErrIneligible) {
		t.Errorf("expected ErrIneligible with unverified account, got %v", err)
	}
}

func TestCreatePayout_MinimumThreshold(t *testing.T) {
	store := newFakeStore()
	store.sales["vendor-1"] = 4_999
	svc := newTestService(store, &fakeTransfer{})
	registerVerifiedAccount(t, svc, "vendor-1")

	minimum := int64(5_000)
	if _, err := svc.UpdateDispersionConfig(context.Background(), UpdateDispersionConfigRequest{
		MinimumPayoutMinor: &minimum,
	}); err != nil {
		t.Fatalf("UpdateDispersionConfig error: %v", err)
	}

	if _, err := svc.CreatePayout(context.Background(), "vendor-1"); !errors.Is(err, domain.ErrIneligible) {
		t.Errorf("expected ErrIneligible below minimum, got %v", err)
	}

	// Exactly at the minimum qualifies.
	store.sales["vendor-1"] = 5_000
	payout, err := svc.CreatePayout(context.Background(), "vendor-1")
	if err != nil {
		t.Fatalf("CreatePayout at minimum error: %v", err)
	}
	if payout.Amount.AmountMinor != 5_000 {
		t.Errorf("amount = %d, want 5000", payout.Amount.AmountMinor)
	}
}

func TestExecutePayout_TransferFailure(t *testing.T) {
	store := newFakeStore()
	store.sales["vendor-1"] = 100_000
	transfer := &fakeTransfer{
		transferFn: func(ctx context.Context, req TransferRequest) (*TransferResult, error) {
			return nil, errors.New("provider unavailable")
		},
	}
	svc := newTestService(store, transfer)
	registerVerifiedAccount(t, svc, "vendor-1")

	payout, err := svc.CreatePayout(context.Background(), "vendor-1")
	if err != nil {
		t.Fatalf("CreatePayout error: %v", err)
	}

	failed, err := svc.ExecutePayout(context.Background(), payout.ID)
	if err != nil {
		t.Fatalf("ExecutePayout should not error on transfer failure: %v", err)
	}
	if failed.Status != domain.PayoutFailed {
		t.Errorf("status = %s, want FAILED", failed.Status)
	}
	if failed.ErrorMessage == "" {
		t.Error("expected error message on failed payout")
	}

	// Failed payouts do not count as dispersed; the vendor is immediately
	// eligible again for the full amount.
	balance, err := svc.ComputeBalance(context.Background(), "vendor-1")
	if err != nil {
		t.Fatalf("ComputeBalance error: %v", err)
	}
	if balance.AvailableBalance.AmountMinor != 100_000 {
		t.Errorf("available = %d, want 100000", balance.AvailableBalance.AmountMinor)
	}
	if _, err := svc.CreatePayout(context.Background(), "vendor-1"); err != nil {
		t.Errorf("expected retry to be possible, got %v", err)
	}
}

func TestExecutePayout_InvalidState(t *testing.T) {
	store := newFakeStore()
	store.sales["vendor-1"] = 100_000
	svc := newTestService(store, &fakeTransfer{})
	registerVerifiedAccount(t, svc, "vendor-1")

	payout, err := svc.CreatePayout(context.Background(), "vendor-1")
	if err != nil {
		t.Fatalf("CreatePayout error: %v", err)
	}
	if _, err := svc.ExecutePayout(context.Background(), payout.ID); err != nil {
		t.Fatalf("ExecutePayout error: %v", err)
	}

	if _, err := svc.ExecutePayout(context.Background(), payout.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState re-executing completed payout, got %v", err)
	}
}

func TestCancelPayout(t *testing.T) {
	store := newFakeStore()
	store.sales["vendor-1"] = 100_000
	svc := newTestService(store, &fakeTransfer{})
	registerVerifiedAccount(t, svc, "vendor-1")

	payout, err := svc.CreatePayout(context.Background(), "vendor-1")
	if err != nil {
		t.Fatalf("CreatePayout error: %v", err)
	}

	cancelled, err := svc.CancelPayout(context.Background(), payout.ID)
	if err != nil {
		t.Fatalf("CancelPayout error: %v", err)
	}
	if cancelled.Status != domain.PayoutCancelled {
		t.Errorf("status = %s, want CANCELLED", cancelled.Status)
	}
	if cancelled.ProcessedAt != nil {
		t.Error("cancelled payout must not have ProcessedAt")
	}

	if _, err := svc.CancelPayout(context.Background(), payout.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState cancelling twice, got %v", err)
	}

	// Cancelled payouts free the balance like failed ones.
	balance, err := svc.ComputeBalance(context.Background(), "vendor-1")
	if err != nil {
		t.Fatalf("ComputeBalance error: %v", err)
	}
	if balance.AvailableBalance.AmountMinor != 100_000 {
		t.Errorf("available = %d, want 100000", balance.AvailableBalance.AmountMinor)
	}
}

func TestSetActiveBankAccount_Exclusive(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeTransfer{})

	first := registerVerifiedAccount(t, svc, "vendor-1")
	second, err := svc.CreateBankAccount(context.Background(), CreateBankAccountRequest{
		VendorID:       "vendor-1",
		BankName:       "Second Bank",
		AccountType:    domain.AccountTypeChecking,
		AccountNumber:  "555000111",
		HolderName:     "Ada Vendor",
		HolderDocument: "900123456",
		DocumentType:   domain.DocumentTaxID,
	})
	if err != nil {
		t.Fatalf("CreateBankAccount error: %v", err)
	}

	// Registering the second account moved activation to it.
	accounts, err := svc.ListBankAccounts(context.Background(), "vendor-1")
	if err != nil {
		t.Fatalf("ListBankAccounts error: %v", err)
	}
	active := 0
	for _, a := range accounts {
		if a.IsActive {
			active++
			if a.ID != second.ID {
				t.Errorf("active account = %s, want %s", a.ID, second.ID)
			}
		}
	}
	if active != 1 {
		t.Fatalf("active accounts = %d, want 1", active)
	}

	// Switching back keeps the invariant.
	if _, err := svc.SetActiveBankAccount(context.Background(), "vendor-1", first.ID); err != nil {
		t.Fatalf("SetActiveBankAccount error: %v", err)
	}
	accounts, _ = svc.ListBankAccounts(context.Background(), "vendor-1")
	for _, a := range accounts {
		if a.IsActive != (a.ID == first.ID) {
			t.Errorf("account %s active = %v", a.ID, a.IsActive)
		}
	}

	// Verification survives activation changes.
	for _, a := range accounts {
		if a.ID == first.ID && !a.IsVerified {
			t.Error("verification flag lost on reactivation")
		}
	}
}

func TestSetActiveBankAccount_WrongVendor(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeTransfer{})
	account := registerVerifiedAccount(t, svc, "vendor-1")

	if _, err := svc.SetActiveBankAccount(context.Background(), "vendor-2", account.ID); !database.IsNotFound(err) {
		t.Errorf("expected not found for foreign account, got %v", err)
	}
}

func TestRemoveBankAccount_OpenPayout(t *testing.T) {
	store := newFakeStore()
	store.sales["vendor-1"] = 100_000
	svc := newTestService(store, &fakeTransfer{})
	account := registerVerifiedAccount(t, svc, "vendor-1")

	if _, err := svc.CreatePayout(context.Background(), "vendor-1"); err != nil {
		t.Fatalf("CreatePayout error: %v", err)
	}

	err := svc.RemoveBankAccount(context.Background(), "vendor-1", account.ID)
	if !errors.Is(err, database.ErrConflict) {
		t.Errorf("expected conflict removing account with open payout, got %v", err)
	}
}

func TestUpdateDispersionConfig(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeTransfer{})

	cfg, err := svc.GetDispersionConfig(context.Background())
	if err != nil {
		t.Fatalf("GetDispersionConfig error: %v", err)
	}
	if cfg.AdminCommissionBps != 0 || cfg.MinimumPayout.AmountMinor != 0 || cfg.AutoDispersal {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	bps := int64(1500)
	auto := true
	updated, err := svc.UpdateDispersionConfig(context.Background(), UpdateDispersionConfigRequest{
		AdminCommissionBps: &bps,
		AutoDispersal:      &auto,
	})
	if err != nil {
		t.Fatalf("UpdateDispersionConfig error: %v", err)
	}
	if updated.AdminCommissionBps != 1500 || !updated.AutoDispersal {
		t.Errorf("unexpected config after update: %+v", updated)
	}
	// Untouched fields keep their values.
	if updated.DispersalFrequencyDays != 7 {
		t.Errorf("frequency = %d, want 7", updated.DispersalFrequencyDays)
	}

	bad := int64(10_001)
	_, err = svc.UpdateDispersionConfig(context.Background(), UpdateDispersionConfigRequest{
		AdminCommissionBps: &bad,
	})
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig for commission above 100%%", err)
	}
}

func TestDisperseAll(t *testing.T) {
	store := newFakeStore()
	store.sales["vendor-1"] = 100_000
	store.sales["vendor-2"] = 50_000
	store.sales["vendor-3"] = 30_000 // no bank account, skipped
	svc := newTestService(store, &fakeTransfer{})
	registerVerifiedAccount(t, svc, "vendor-1")
	registerVerifiedAccount(t, svc, "vendor-2")

	// vendor-2's creation fails mid-run; vendor-1 must still succeed.
	store.createPayoutErr["vendor-2"] = errors.New("serialization retries exhausted")

	report, err := svc.DisperseAll(context.Background())
	if err != nil {
		t.Fatalf("DisperseAll error: %v", err)
	}

	if report.Successful != 1 {
		t.Errorf("successful = %d, want 1", report.Successful)
	}
	if report.Failed != 1 {
		t.Errorf("failed = %d, want 1", report.Failed)
	}
	if len(report.Details) != 2 {
		t.Fatalf("details = %d entries, want 2", len(report.Details))
	}
	for _, d := range report.Details {
		switch d.VendorID {
		case "vendor-1":
			if d.Outcome != "created" || d.PayoutID == "" {
				t.Errorf("vendor-1 outcome = %+v", d)
			}
		case "vendor-2":
			if d.Outcome != "failed" || d.Error == "" {
				t.Errorf("vendor-2 outcome = %+v", d)
			}
		default:
			t.Errorf("unexpected vendor in report: %s", d.VendorID)
		}
	}

	// The run is stamped even when some vendors fail.
	cfg, err := svc.GetDispersionConfig(context.Background())
	if err != nil {
		t.Fatalf("GetDispersionConfig error: %v", err)
	}
	if cfg.LastDispersalAt == nil || cfg.NextDispersalAt == nil {
		t.Fatal("expected dispersal timestamps to be recorded")
	}
	wantNext := cfg.LastDispersalAt.AddDate(0, 0, cfg.DispersalFrequencyDays)
	if !cfg.NextDispersalAt.Equal(wantNext) {
		t.Errorf("next dispersal = %v, want %v", cfg.NextDispersalAt, wantNext)
	}
}

func TestScheduler_TriggersWhenDue(t *testing.T) {
	store := newFakeStore()
	store.sales["vendor-1"] = 100_000
	svc := newTestService(store, &fakeTransfer{})
	registerVerifiedAccount(t, svc, "vendor-1")

	auto := true
	if _, err := svc.UpdateDispersionConfig(context.Background(), UpdateDispersionConfigRequest{
		AutoDispersal: &auto,
	}); err != nil {
		t.Fatalf("UpdateDispersionConfig error: %v", err)
	}

	scheduler := NewScheduler(svc, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	scheduler.tick(context.Background(), time.Now())

	payouts, _, err := svc.ListPayouts(context.Background(), "vendor-1", 10, 0)
	if err != nil {
		t.Fatalf("ListPayouts error: %v", err)
	}
	if len(payouts) != 1 {
		t.Fatalf("payouts = %d, want 1", len(payouts))
	}

	// A second tick before the next scheduled date is a no-op.
	scheduler.tick(context.Background(), time.Now())
	payouts, _, _ = svc.ListPayouts(context.Background(), "vendor-1", 10, 0)
	if len(payouts) != 1 {
		t.Errorf("payouts after early tick = %d, want 1", len(payouts))
	}
}
