package staking

import "errors"

// Authorization errors.
var (
	ErrUnauthorized = errors.New("you are not authorized to perform this action")
)

// Precondition and balance errors.
var (
	ErrInsufficientFunds             = errors.New("insufficient native balance")
	ErrMintFailed                    = errors.New("receipt-token mint failed")
	ErrInsufficientMsolBalance       = errors.New("insufficient receipt-token balance for unstaking")
	ErrInsufficientTreasuryBalance   = errors.New("insufficient balance in the treasury")
	ErrWithdrawalLimitExceeded       = errors.New("withdrawal limit exceeded")
	ErrWithdrawalTooSoon             = errors.New("withdrawal too soon after the last withdrawal")
	ErrWithdrawalUndercollateralized = errors.New("withdrawal would leave receipt-tokens unbacked")
	ErrAlreadyInitialized            = errors.New("pool is already initialized")
	ErrPoolNotFound                  = errors.New("pool not found")
	ErrMintExists                    = errors.New("mint account already exists")
	ErrMetadataExists                = errors.New("metadata already registered for this mint")
)

// Input validation errors.
var (
	ErrInvalidAmount           = errors.New("amount must be greater than zero")
	ErrInvalidAdminAddress     = errors.New("invalid admin address: the admin cannot be set to the zero address")
	ErrInvalidUpgradeAuthority = errors.New("invalid upgrade authority address")
	ErrInvalidTreasury         = errors.New("treasury does not match the derived treasury address")
	ErrInvalidMintAuthority    = errors.New("mint authority bump does not match the derived mint authority")
	ErrInvalidTimeLock         = errors.New("time lock must not be negative")
	ErrInvalidWithdrawalLimit  = errors.New("withdrawal limit exceeds the maximum account balance")
	ErrInvalidAccount          = errors.New("account must not be the zero address")
	ErrInvalidMetadata         = errors.New("invalid metadata")
)

// errorCodes maps every engine error to its stable name.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrMintFailed, "MintFailed"},
	{ErrInsufficientMsolBalance, "InsufficientMsolBalance"},
	{ErrInsufficientTreasuryBalance, "InsufficientTreasuryBalance"},
	{ErrWithdrawalLimitExceeded, "WithdrawalLimitExceeded"},
	{ErrWithdrawalTooSoon, "WithdrawalTooSoon"},
	{ErrWithdrawalUndercollateralized, "WithdrawalUndercollateralized"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrPoolNotFound, "PoolNotFound"},
	{ErrMintExists, "MintExists"},
	{ErrMetadataExists, "MetadataExists"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidAdminAddress, "InvalidAdminAddress"},
	{ErrInvalidUpgradeAuthority, "InvalidUpgradeAuthority"},
	{ErrInvalidTreasury, "InvalidTreasury"},
	{ErrInvalidMintAuthority, "InvalidMintAuthority"},
	{ErrInvalidTimeLock, "InvalidTimeLock"},
	{ErrInvalidWithdrawalLimit, "InvalidWithdrawalLimit"},
	{ErrInvalidAccount, "InvalidAccount"},
	{ErrInvalidMetadata, "InvalidMetadata"},
}

// CodeInternal is the code of errors that are not engine errors.
const CodeInternal = "Internal"

// Code returns the stable name of an engine error, or CodeInternal.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// CodeError returns the engine error for a stable name, or nil.
func CodeError(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
