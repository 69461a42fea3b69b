package domain

import "marketpay/internal/common/money"

// VendorBalance is a vendor's derived financial position. It is recomputed
// from orders, payouts and the dispersion config on every query and never
// persisted.
type VendorBalance struct {
	VendorID               string       `json:"vendor_id"`
	TotalSales             money.Money  `json:"total_sales"`
	AdminCommission        money.Money  `json:"admin_commission"`
	TotalDispersed         money.Money  `json:"total_dispersed"`
	AvailableBalance       money.Money  `json:"available_balance"`
	ActiveBankAccount      *BankAccount `json:"active_bank_account,omitempty"`
	HasBankAccountVerified bool         `json:"has_bank_account_verified"`
}

// VendorFinancials are the raw aggregates a balance is derived from:
// settled sales attributed to the vendor and the sum of COMPLETED payouts.
// FAILED and CANCELLED payouts are excluded so their gross amounts become
// available again.
type VendorFinancials struct {
	VendorID       string      `json:"vendor_id"`
	TotalSales     money.Money `json:"total_sales"`
	TotalDispersed money.Money `json:"total_dispersed"`
}

// ComputeVendorBalance derives a vendor's balance from settled sales, the
// commission rate in basis points, and the sum of completed payouts. The
// available balance is floored at zero; the returned bool reports whether the
// floor was applied, which signals inconsistent bookkeeping upstream.
func ComputeVendorBalance(vendorID string, totalSales, totalDispersed money.Money, commissionBps int64) (VendorBalance, bool) {
	commission := totalSales.Percentage(commissionBps)
	available := totalSales.MustSub(commission).MustSub(totalDispersed)
	available, clamped := available.ClampNonNegative()

	return VendorBalance{
		VendorID:         vendorID,
		TotalSales:       totalSales,
		AdminCommission:  commission,
		TotalDispersed:   totalDispersed,
		AvailableBalance: available,
	}, clamped
}
