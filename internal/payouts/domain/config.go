package domain

import (
	"fmt"
	"time"

	"marketpay/internal/common/money"
)

// DispersionConfig is the process-wide payout policy. A single row exists at
// most; when none has been stored yet, DefaultDispersionConfig applies.
// Commission is expressed in basis points (10000 = 100%).
type DispersionConfig struct {
	DispersalFrequencyDays int         `json:"dispersal_frequency_days"`
	AdminCommissionBps     int64       `json:"admin_commission_bps"`
	MinimumPayout          money.Money `json:"minimum_payout"`
	AutoDispersal          bool        `json:"auto_dispersal"`
	LastDispersalAt        *time.Time  `json:"last_dispersal_at,omitempty"`
	NextDispersalAt        *time.Time  `json:"next_dispersal_at,omitempty"`
	UpdatedAt              time.Time   `json:"updated_at"`
}

// DefaultDispersionConfig is the policy before an admin has configured one:
// no commission, no minimum, auto-dispersal off. Absence of configuration is
// a recoverable state, not an error.
func DefaultDispersionConfig(currency money.Currency) *DispersionConfig {
	return &DispersionConfig{
		DispersalFrequencyDays: 7,
		AdminCommissionBps:     0,
		MinimumPayout:          money.Zero(currency),
		AutoDispersal:          false,
		UpdatedAt:              time.Now().UTC(),
	}
}

// Validate checks the policy bounds
func (c *DispersionConfig) Validate() error {
	if c.AdminCommissionBps < 0 || c.AdminCommissionBps > 10000 {
		return fmt.Errorf("%w: admin_commission_bps must be between 0 and 10000", ErrInvalidConfig)
	}
	if c.MinimumPayout.IsNegative() {
		return fmt.Errorf("%w: minimum_payout cannot be negative", ErrInvalidConfig)
	}
	if c.DispersalFrequencyDays < 1 {
		return fmt.Errorf("%w: dispersal_frequency_days must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// RecordDispersal stamps a completed dispersion run and schedules the next one
func (c *DispersionConfig) RecordDispersal(ranAt time.Time) {
	ranAt = ranAt.UTC()
	next := ranAt.AddDate(0, 0, c.DispersalFrequencyDays)
	c.LastDispersalAt = &ranAt
	c.NextDispersalAt = &next
	c.UpdatedAt = ranAt
}

// DispersalDue reports whether an automatic dispersion run should happen now
func (c *DispersionConfig) DispersalDue(now time.Time) bool {
	if !c.AutoDispersal {
		return false
	}
	if c.NextDispersalAt == nil {
		return true
	}
	return !now.Before(*c.NextDispersalAt)
}
