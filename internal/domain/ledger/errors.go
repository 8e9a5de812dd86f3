package ledger

import "errors"

var (
	// ErrNotFound is returned when a record does not exist in the owner's scope.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput marks a malformed input record (missing date, amount, ...).
	ErrInvalidInput = errors.New("invalid input")

	// ErrOwnerMismatch is returned when two records from different owners
	// would be compared or linked.
	ErrOwnerMismatch = errors.New("owner mismatch")

	// ErrAmountMutation is returned when a write would change a stored amount.
	ErrAmountMutation = errors.New("amount mutation refused")

	// ErrAlreadyLinked is returned when a link targets a record another link
	// already holds: a transaction paying another line item, or a purchase
	// settled by another bank charge.
	ErrAlreadyLinked = errors.New("already linked")
)
