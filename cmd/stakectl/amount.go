package main

import (
	"math"
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"staking-ledger/internal/domain"
)

var maxLamports = lamportsDecimal(math.MaxUint64)

func lamportsDecimal(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// parseSOL converts a decimal SOL amount ("1.5") to lamports.
func parseSOL(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid amount %q", s)
	}
	lamports := d.Shift(domain.ReceiptDecimals)
	if !lamports.Equal(lamports.Truncate(0)) {
		return 0, errors.Errorf("amount %q has more than %d decimal places", s, domain.ReceiptDecimals)
	}
	if lamports.Sign() <= 0 {
		return 0, errors.Errorf("amount %q must be positive", s)
	}
	if lamports.GreaterThan(maxLamports) {
		return 0, errors.Errorf("amount %q is too large", s)
	}
	return lamports.BigInt().Uint64(), nil
}

// formatSOL renders lamports as a decimal SOL amount.
func formatSOL(lamports uint64) string {
	return lamportsDecimal(lamports).Shift(-domain.ReceiptDecimals).String()
}
