package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"marketpay/internal/common/database"
	"marketpay/internal/common/money"
	"marketpay/internal/payouts/domain"
)

// Store provides payout data access backed by PostgreSQL
type Store struct {
	db *database.DB
}

// New creates a new payout store
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// createPayoutMaxAttempts bounds serialization-failure retries on payout creation.
const createPayoutMaxAttempts = 3

// GetFinancials aggregates a vendor's settled sales and completed payouts.
// Sales are order line items whose parent order payment has settled.
func (s *Store) GetFinancials(ctx context.Context, vendorID string, currency money.Currency) (*domain.VendorFinancials, error) {
	return s.getFinancials(ctx, s.db, vendorID, currency)
}

func (s *Store) getFinancials(ctx context.Context, q database.Querier, vendorID string, currency money.Currency) (*domain.VendorFinancials, error) {
	salesQuery := `
		SELECT COALESCE(SUM(oi.total_minor), 0)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE oi.vendor_id = $1 AND o.payment_status = 'settled'
	`

	var totalSales int64
	if err := q.QueryRow(ctx, salesQuery, vendorID).Scan(&totalSales); err != nil {
		return nil, fmt.Errorf("aggregating vendor sales: %w", err)
	}

	dispersedQuery := `
		SELECT COALESCE(SUM(amount_minor), 0)
		FROM payouts
		WHERE vendor_id = $1 AND status = $2
	`

	var totalDispersed int64
	if err := q.QueryRow(ctx, dispersedQuery, vendorID, domain.PayoutCompleted).Scan(&totalDispersed); err != nil {
		return nil, fmt.Errorf("aggregating dispersed payouts: %w", err)
	}

	return &domain.VendorFinancials{
		VendorID:       vendorID,
		TotalSales:     money.New(totalSales, currency),
		TotalDispersed: money.New(totalDispersed, currency),
	}, nil
}

// ListFinancials aggregates financials for every vendor with at least one
// settled sale
func (s *Store) ListFinancials(ctx context.Context, currency money.Currency) ([]*domain.VendorFinancials, error) {
	query := `
		SELECT oi.vendor_id,
			   COALESCE(SUM(oi.total_minor), 0) AS total_sales,
			   COALESCE((
				   SELECT SUM(p.amount_minor) FROM payouts p
				   WHERE p.vendor_id = oi.vendor_id AND p.status = $1
			   ), 0) AS total_dispersed
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.payment_status = 'settled'
		GROUP BY oi.vendor_id
		ORDER BY oi.vendor_id
	`

	rows, err := s.db.Query(ctx, query, domain.PayoutCompleted)
	if err != nil {
		return nil, fmt.Errorf("listing vendor financials: %w", err)
	}
	defer rows.Close()

	var result []*domain.VendorFinancials
	for rows.Next() {
		var vendorID string
		var sales, dispersed int64
		if err := rows.Scan(&vendorID, &sales, &dispersed); err != nil {
			return nil, fmt.Errorf("scanning vendor financials: %w", err)
		}
		result = append(result, &domain.VendorFinancials{
			VendorID:       vendorID,
			TotalSales:     money.New(sales, currency),
			TotalDispersed: money.New(dispersed, currency),
		})
	}

	return result, rows.Err()
}

// CreateBankAccount inserts a new account and deactivates the vendor's other
// accounts in the same transaction, keeping activation exclusive.
func (s *Store) CreateBankAccount(ctx context.Context, account *domain.BankAccount) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE bank_accounts SET is_active = FALSE, updated_at = $2
			WHERE vendor_id = $1 AND is_active
		`, account.VendorID, time.Now().UTC()); err != nil {
			return fmt.Errorf("deactivating sibling accounts: %w", err)
		}

		_, err := tx.Exec(ctx, insertBankAccountQuery,
			account.ID, account.VendorID, account.BankName, account.AccountType,
			account.AccountNumber, account.HolderName, account.HolderDocument,
			account.DocumentType, account.IsActive, account.IsVerified,
			account.CreatedAt, account.UpdatedAt,
		)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("bank account already exists: %w", database.ErrAlreadyExists)
			}
			return fmt.Errorf("inserting bank account: %w", err)
		}
		return nil
	})
}

// ActivateBankAccount activates the target account and deactivates its
// siblings atomically. Returns ErrNotFound when the account does not exist
// or belongs to another vendor.
func (s *Store) ActivateBankAccount(ctx context.Context, vendorID, accountID string) (*domain.BankAccount, error) {
	var account *domain.BankAccount
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, selectBankAccount+` WHERE id = $1 AND vendor_id = $2 FOR UPDATE`, accountID, vendorID)
		a, err := scanBankAccount(row)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE bank_accounts SET is_active = FALSE, updated_at = $2
			WHERE vendor_id = $1 AND is_active AND id <> $3
		`, vendorID, now, accountID); err != nil {
			return fmt.Errorf("deactivating sibling accounts: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE bank_accounts SET is_active = TRUE, updated_at = $2 WHERE id = $1
		`, accountID, now); err != nil {
			return fmt.Errorf("activating bank account: %w", err)
		}

		a.IsActive = true
		a.UpdatedAt = now
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetBankAccount retrieves a bank account by ID
func (s *Store) GetBankAccount(ctx context.Context, accountID string) (*domain.BankAccount, error) {
	row := s.db.QueryRow(ctx, selectBankAccount+` WHERE id = $1`, accountID)
	return scanBankAccount(row)
}

// ListBankAccounts lists a vendor's bank accounts, active first
func (s *Store) ListBankAccounts(ctx context.Context, vendorID string) ([]*domain.BankAccount, error) {
	rows, err := s.db.Query(ctx, selectBankAccount+` WHERE vendor_id = $1 ORDER BY is_active DESC, created_at DESC`, vendorID)
	if err != nil {
		return nil, fmt.Errorf("listing bank accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.BankAccount
	for rows.Next() {
		account, err := scanBankAccountRows(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// SetBankAccountVerified flips the admin verification flag
func (s *Store) SetBankAccountVerified(ctx context.Context, accountID string, verified bool) (*domain.BankAccount, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE bank_accounts SET is_verified = $2, updated_at = $3 WHERE id = $1
	`, accountID, verified, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("updating verification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, database.ErrNotFound
	}
	return s.GetBankAccount(ctx, accountID)
}

// DeleteBankAccount removes a vendor-owned account. Deleting the active
// account is rejected with ErrConflict while an open payout exists, so a
// transfer in flight never loses its destination.
func (s *Store) DeleteBankAccount(ctx context.Context, vendorID, accountID string) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, selectBankAccount+` WHERE id = $1 AND vendor_id = $2 FOR UPDATE`, accountID, vendorID)
		account, err := scanBankAccount(row)
		if err != nil {
			return err
		}

		if account.IsActive {
			var open bool
			err := tx.QueryRow(ctx, `
				SELECT EXISTS (
					SELECT 1 FROM payouts
					WHERE vendor_id = $1 AND status IN ($2, $3)
				)
			`, vendorID, domain.PayoutPending, domain.PayoutProcessing).Scan(&open)
			if err != nil {
				return fmt.Errorf("checking open payouts: %w", err)
			}
			if open {
				return fmt.Errorf("account is the destination of an open payout: %w", database.ErrConflict)
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM bank_accounts WHERE id = $1`, accountID); err != nil {
			return fmt.Errorf("deleting bank account: %w", err)
		}
		return nil
	})
}

// GetActiveVerifiedAccount returns the vendor's payout destination, or
// ErrNotFound when no active verified account exists
func (s *Store) GetActiveVerifiedAccount(ctx context.Context, vendorID string) (*domain.BankAccount, error) {
	return s.getActiveVerifiedAccount(ctx, s.db, vendorID)
}

func (s *Store) getActiveVerifiedAccount(ctx context.Context, q database.Querier, vendorID string) (*domain.BankAccount, error) {
	row := q.QueryRow(ctx, selectBankAccount+` WHERE vendor_id = $1 AND is_active AND is_verified`, vendorID)
	return scanBankAccount(row)
}

// CreatePayout runs the eligibility decision and the PENDING insert in one
// serializable transaction, retried on serialization failure. The decide
// callback receives the vendor's financials and active verified account (nil
// when absent) as read inside the transaction, and returns the payout to
// insert or a business error that aborts the transaction.
func (s *Store) CreatePayout(ctx context.Context, vendorID string, currency money.Currency,
	decide func(*domain.VendorFinancials, *domain.BankAccount) (*domain.Payout, error)) (*domain.Payout, error) {

	var payout *domain.Payout
	err := database.Retry(ctx, createPayoutMaxAttempts, func() error {
		payout = nil
		return s.db.WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
			fin, err := s.getFinancials(ctx, tx, vendorID, currency)
			if err != nil {
				return err
			}

			account, err := s.getActiveVerifiedAccount(ctx, tx, vendorID)
			if err != nil && !database.IsNotFound(err) {
				return err
			}

			p, err := decide(fin, account)
			if err != nil {
				return err
			}

			if err := insertPayout(ctx, tx, p); err != nil {
				return err
			}
			payout = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

func insertPayout(ctx context.Context, tx pgx.Tx, p *domain.Payout) error {
	_, err := tx.Exec(ctx, insertPayoutQuery,
		p.ID, p.VendorID, p.BankAccountID,
		p.Amount.AmountMinor, p.AdminCommission.AmountMinor, p.NetAmount.AmountMinor, p.Amount.Currency,
		p.Status, nullStr(p.ErrorCode), nullStr(p.ErrorMessage), nullStr(p.ProviderRef),
		p.CreatedAt, p.UpdatedAt, p.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting payout: %w", err)
	}
	return nil
}

// GetPayout retrieves a payout by ID
func (s *Store) GetPayout(ctx context.Context, payoutID string) (*domain.Payout, error) {
	row := s.db.QueryRow(ctx, selectPayout+` WHERE id = $1`, payoutID)
	return scanPayout(row)
}

// ListPayouts lists payouts, newest first. An empty vendorID lists all vendors.
func (s *Store) ListPayouts(ctx context.Context, vendorID string, limit, offset int) ([]*domain.Payout, int64, error) {
	countQuery := `SELECT COUNT(*) FROM payouts WHERE ($1 = '' OR vendor_id = $1)`

	var total int64
	if err := s.db.QueryRow(ctx, countQuery, vendorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting payouts: %w", err)
	}

	query := selectPayout + ` WHERE ($1 = '' OR vendor_id = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := s.db.Query(ctx, query, vendorID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing payouts: %w", err)
	}
	defer rows.Close()

	var payouts []*domain.Payout
	for rows.Next() {
		p, err := scanPayoutRows(rows)
		if err != nil {
			return nil, 0, err
		}
		payouts = append(payouts, p)
	}
	return payouts, total, rows.Err()
}

// UpdatePayout persists a payout transition guarded by the expected previous
// status. A row that no longer holds the expected status yields ErrConflict,
// which callers treat as a lost race.
func (s *Store) UpdatePayout(ctx context.Context, p *domain.Payout, expected domain.PayoutStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE payouts SET
			status = $2, error_code = $3, error_message = $4, provider_ref = $5,
			updated_at = $6, processed_at = $7
		WHERE id = $1 AND status = $8
	`,
		p.ID, p.Status, nullStr(p.ErrorCode), nullStr(p.ErrorMessage), nullStr(p.ProviderRef),
		p.UpdatedAt, p.ProcessedAt, expected,
	)
	if err != nil {
		return fmt.Errorf("updating payout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payout %s no longer %s: %w", p.ID, expected, database.ErrConflict)
	}
	return nil
}

// GetConfig retrieves the dispersion policy. Returns ErrNotFound when no
// policy row has been stored yet.
func (s *Store) GetConfig(ctx context.Context, currency money.Currency) (*domain.DispersionConfig, error) {
	query := `
		SELECT dispersal_frequency_days, admin_commission_bps, minimum_payout_minor,
			   currency, auto_dispersal, last_dispersal_at, next_dispersal_at, updated_at
		FROM dispersion_config
		WHERE id = 1
	`

	var cfg domain.DispersionConfig
	var minimum int64
	var stored string
	err := s.db.QueryRow(ctx, query).Scan(
		&cfg.DispersalFrequencyDays, &cfg.AdminCommissionBps, &minimum, &stored,
		&cfg.AutoDispersal, &cfg.LastDispersalAt, &cfg.NextDispersalAt, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning dispersion config: %w", err)
	}

	cfg.MinimumPayout = money.New(minimum, money.Currency(stored))
	return &cfg, nil
}

// SaveConfig upserts the singleton dispersion policy row
func (s *Store) SaveConfig(ctx context.Context, cfg *domain.DispersionConfig) error {
	_, err := s.db.Exec(ctx, saveConfigQuery,
		cfg.DispersalFrequencyDays, cfg.AdminCommissionBps,
		cfg.MinimumPayout.AmountMinor, cfg.MinimumPayout.Currency,
		cfg.AutoDispersal, cfg.LastDispersalAt, cfg.NextDispersalAt, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving dispersion config: %w", err)
	}
	return nil
}

// Write statements, kept as consts so the schema tests can check their
// column lists against the migration.

const insertBankAccountQuery = `
	INSERT INTO bank_accounts (
		id, vendor_id, bank_name, account_type, account_number,
		holder_name, holder_document, document_type,
		is_active, is_verified, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

const insertPayoutQuery = `
	INSERT INTO payouts (
		id, vendor_id, bank_account_id,
		amount_minor, admin_commission_minor, net_amount_minor, currency,
		status, error_code, error_message, provider_ref,
		created_at, updated_at, processed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

const saveConfigQuery = `
	INSERT INTO dispersion_config (
		id, dispersal_frequency_days, admin_commission_bps, minimum_payout_minor,
		currency, auto_dispersal, last_dispersal_at, next_dispersal_at, updated_at
	) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		dispersal_frequency_days = EXCLUDED.dispersal_frequency_days,
		admin_commission_bps = EXCLUDED.admin_commission_bps,
		minimum_payout_minor = EXCLUDED.minimum_payout_minor,
		currency = EXCLUDED.currency,
		auto_dispersal = EXCLUDED.auto_dispersal,
		last_dispersal_at = EXCLUDED.last_dispersal_at,
		next_dispersal_at = EXCLUDED.next_dispersal_at,
		updated_at = EXCLUDED.updated_at
`

// Helper functions

const selectBankAccount = `
	SELECT id, vendor_id, bank_name, account_type, account_number,
		   holder_name, holder_document, document_type,
		   is_active, is_verified, created_at, updated_at
	FROM bank_accounts
`

const selectPayout = `
	SELECT id, vendor_id, bank_account_id,
		   amount_minor, admin_commission_minor, net_amount_minor, currency,
		   status, error_code, error_message, provider_ref,
		   created_at, updated_at, processed_at
	FROM payouts
`

func scanBankAccount(row pgx.Row) (*domain.BankAccount, error) {
	var a domain.BankAccount
	err := row.Scan(
		&a.ID, &a.VendorID, &a.BankName, &a.AccountType, &a.AccountNumber,
		&a.HolderName, &a.HolderDocument, &a.DocumentType,
		&a.IsActive, &a.IsVerified, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning bank account: %w", err)
	}
	return &a, nil
}

func scanBankAccountRows(rows pgx.Rows) (*domain.BankAccount, error) {
	var a domain.BankAccount
	err := rows.Scan(
		&a.ID, &a.VendorID, &a.BankName, &a.AccountType, &a.AccountNumber,
		&a.HolderName, &a.HolderDocument, &a.DocumentType,
		&a.IsActive, &a.IsVerified, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning bank account: %w", err)
	}
	return &a, nil
}

func scanPayout(row pgx.Row) (*domain.Payout, error) {
	p, err := scanPayoutFrom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func scanPayoutRows(rows pgx.Rows) (*domain.Payout, error) {
	return scanPayoutFrom(rows)
}

func scanPayoutFrom(row pgx.Row) (*domain.Payout, error) {
	var p domain.Payout
	var amount, commission, net int64
	var currency string
	var errorCode, errorMessage, providerRef *string
	err := row.Scan(
		&p.ID, &p.VendorID, &p.BankAccountID,
		&amount, &commission, &net, &currency,
		&p.Status, &errorCode, &errorMessage, &providerRef,
		&p.CreatedAt, &p.UpdatedAt, &p.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning payout: %w", err)
	}

	c := money.Currency(currency)
	p.Amount = money.New(amount, c)
	p.AdminCommission = money.New(commission, c)
	p.NetAmount = money.New(net, c)
	p.ErrorCode = deref(errorCode)
	p.ErrorMessage = deref(errorMessage)
	p.ProviderRef = deref(providerRef)
	return &p, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
