package domain

import "math"

// MaxBalance is the largest amount any account or supply can hold.
// Durable stores keep amounts in signed 64-bit columns.
const MaxBalance = math.MaxInt64

// ReceiptDecimals is the decimals of every receipt-token mint (matches native lamports).
const ReceiptDecimals = 9

// Mint is a fungible receipt-token mint.
type Mint struct {
	Address   Pubkey `json:"address"`
	Authority Pubkey `json:"authority"` // sole minting authority
	Decimals  uint8  `json:"decimals"`
	Supply    uint64 `json:"supply"`
}

// TokenAccount holds one owner's balance of one mint.
type TokenAccount struct {
	Mint   Pubkey `json:"mint"`
	Owner  Pubkey `json:"owner"`
	Amount uint64 `json:"amount"`
}
