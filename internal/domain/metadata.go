package domain

// Metadata field limits.
const (
	MaxMetadataNameLength   = 32
	MaxMetadataSymbolLength = 10
	MaxMetadataURILength    = 200
)

// TokenMetadata attaches a human-readable name, symbol and URI to a receipt-token mint.
// Corresponds to token_metadata table in PostgreSQL.
type TokenMetadata struct {
	Mint            Pubkey `json:"mint"`    // PK
	Address         Pubkey `json:"address"` // derived from (LabelMetadata, Mint)
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	URI             string `json:"uri"`
	UpdateAuthority Pubkey `json:"update_authority"`
	CreatedAt       int64  `json:"created_at"` // unix seconds
}
