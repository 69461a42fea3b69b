package domain

import "errors"

// Business-rule errors surfaced to callers. Infrastructure errors are wrapped
// separately by the store layer.
var (
	// ErrIneligible means a payout gate failed: no verified active bank
	// account, or the available balance is below the configured minimum.
	ErrIneligible = errors.New("vendor is not eligible for a payout")

	// ErrInvalidState means an illegal payout state transition was attempted.
	ErrInvalidState = errors.New("invalid payout state transition")

	// ErrInvalidConfig means a dispersion policy update violates the policy
	// bounds.
	ErrInvalidConfig = errors.New("invalid dispersion config")
)
