package domain

import "errors"

var (
	// ErrIdentityConstraint marks a write that would break the one-of
	// account/email rule. It signals a defect in identity resolution.
	ErrIdentityConstraint = errors.New("ledger_identity_constraint")
	ErrDuplicateSession   = errors.New("ledger_duplicate_checkout_session")
	ErrInvalidKind        = errors.New("invalid_ledger_kind")
	ErrInvalidMode        = errors.New("invalid_stripe_mode")
	ErrInvalidFrequency   = errors.New("invalid_frequency")
	ErrNotFound           = errors.New("ledger_row_not_found")
)
