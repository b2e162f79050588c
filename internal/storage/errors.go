package storage

import "errors"

// Storage errors shared by every substrate implementation.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrOverflow is returned when a credit would overflow a balance or supply.
	ErrOverflow = errors.New("balance overflow")

	// ErrSignerMismatch is returned when the signer does not control the debited
	// account or the mint.
	ErrSignerMismatch = errors.New("signer does not authorize this operation")
)
