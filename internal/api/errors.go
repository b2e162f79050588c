package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"staking-ledger/internal/signing"
	"staking-ledger/internal/staking"
)

// API-level error codes. Engine errors use staking.Code.
const (
	CodeBadRequest       = "BadRequest"
	CodeInvalidSignature = "InvalidSignature"
	CodeReplayed         = "Replayed"
	CodeNotFound         = "NotFound"
	CodeFaucetDisabled   = "FaucetDisabled"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the stable code and a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusByCode maps engine error codes to HTTP statuses.
var statusByCode = map[string]int{
	"Unauthorized":                  http.StatusForbidden,
	"PoolNotFound":                  http.StatusNotFound,
	"AlreadyInitialized":            http.StatusConflict,
	"MintExists":                    http.StatusConflict,
	"MetadataExists":                http.StatusConflict,
	"InsufficientFunds":             http.StatusUnprocessableEntity,
	"MintFailed":                    http.StatusUnprocessableEntity,
	"InsufficientMsolBalance":       http.StatusUnprocessableEntity,
	"InsufficientTreasuryBalance":   http.StatusUnprocessableEntity,
	"WithdrawalLimitExceeded":       http.StatusUnprocessableEntity,
	"WithdrawalTooSoon":             http.StatusUnprocessableEntity,
	"WithdrawalUndercollateralized": http.StatusUnprocessableEntity,
	"InvalidAmount":                 http.StatusBadRequest,
	"InvalidAdminAddress":           http.StatusBadRequest,
	"InvalidUpgradeAuthority":       http.StatusBadRequest,
	"InvalidTreasury":               http.StatusBadRequest,
	"InvalidMintAuthority":          http.StatusBadRequest,
	"InvalidTimeLock":               http.StatusBadRequest,
	"InvalidWithdrawalLimit":        http.StatusBadRequest,
	"InvalidAccount":                http.StatusBadRequest,
	"InvalidMetadata":               http.StatusBadRequest,
}

// StatusFor returns the HTTP status of an engine error.
func StatusFor(err error) int {
	if status, ok := statusByCode[staking.Code(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

// writeEngineError renders an engine error. Internal errors are logged and
// replaced with a generic message.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code := staking.Code(err)
	if code == staking.CodeInternal {
		s.logger.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		writeErrorCode(w, http.StatusInternalServerError, code, "internal error")
		return
	}
	writeErrorCode(w, StatusFor(err), code, err.Error())
}

// signatureReason is the metric label of a rejected signature.
func signatureReason(err error) string {
	switch {
	case errors.Is(err, signing.ErrMissingHeaders):
		return "missing_headers"
	case errors.Is(err, signing.ErrInvalidSigner):
		return "invalid_signer"
	case errors.Is(err, signing.ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, signing.ErrStaleTimestamp):
		return "stale_timestamp"
	case errors.Is(err, signing.ErrInvalidSignature):
		return "invalid_signature"
	}
	return "other"
}
