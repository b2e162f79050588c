// Package signing authenticates API callers with ed25519 request signatures.
//
// A request is signed over its canonical form:
//
//	METHOD\nPATH\nTIMESTAMP\nhex(sha256(body))
//
// The signer, timestamp and base58 signature travel in headers.
package signing

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mr-tron/base58"

	"staking-ledger/internal/domain"
)

// Request headers.
const (
	HeaderSigner    = "X-Signer"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// MaxSkew is the largest accepted distance between a request timestamp and now.
const MaxSkew = 5 * time.Minute

// MaxBodySize bounds the body read for verification.
const MaxBodySize = 1 << 20

var (
	ErrMissingHeaders   = errors.New("missing signature headers")
	ErrInvalidSigner    = errors.New("invalid signer")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrStaleTimestamp   = errors.New("timestamp outside the accepted window")
	ErrInvalidSignature = errors.New("invalid signature")
)

// CanonicalMessage builds the bytes a caller signs.
func CanonicalMessage(method, path string, timestamp int64, body []byte) []byte {
	sum := sha256.Sum256(body)
	var buf bytes.Buffer
	buf.WriteString(method)
	buf.WriteByte('\n')
	buf.WriteString(path)
	buf.WriteByte('\n')
	buf.WriteString(strconv.FormatInt(timestamp, 10))
	buf.WriteByte('\n')
	buf.WriteString(hex.EncodeToString(sum[:]))
	return buf.Bytes()
}

// Sign signs the canonical message and returns the base58 signature.
func Sign(key ed25519.PrivateKey, method, path string, timestamp int64, body []byte) string {
	return base58.Encode(ed25519.Sign(key, CanonicalMessage(method, path, timestamp, body)))
}

// SignRequest sets the signature headers on req. The body must be the exact
// bytes sent with the request.
func SignRequest(req *http.Request, key ed25519.PrivateKey, body []byte, now time.Time) error {
	signer, err := domain.PubkeyFromEd25519(key.Public().(ed25519.PublicKey))
	if err != nil {
		return err
	}
	ts := now.Unix()
	req.Header.Set(HeaderSigner, signer.String())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, Sign(key, req.Method, req.URL.Path, ts, body))
	return nil
}

// Signed is a verified request.
type Signed struct {
	Signer    domain.Pubkey
	Timestamp int64
	Signature string
	Body      []byte
}

// Verify checks the signature headers of r against its body. The body is
// consumed and replaced, so handlers can read it again.
func Verify(r *http.Request, now time.Time) (*Signed, error) {
	signerHdr := r.Header.Get(HeaderSigner)
	tsHdr := r.Header.Get(HeaderTimestamp)
	sigHdr := r.Header.Get(HeaderSignature)
	if signerHdr == "" || tsHdr == "" || sigHdr == "" {
		return nil, ErrMissingHeaders
	}

	signer, err := domain.ParsePubkey(signerHdr)
	if err != nil || signer.IsZero() {
		return nil, ErrInvalidSigner
	}

	ts, err := strconv.ParseInt(tsHdr, 10, 64)
	if err != nil {
		return nil, ErrInvalidTimestamp
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew > MaxSkew || skew < -MaxSkew {
		return nil, ErrStaleTimestamp
	}

	sig, err := base58.Decode(sigHdr)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, ErrInvalidSignature
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, MaxBodySize))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		r.Body.Close()
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	msg := CanonicalMessage(r.Method, r.URL.Path, ts, body)
	if !ed25519.Verify(ed25519.PublicKey(signer.Bytes()), msg, sig) {
		return nil, ErrInvalidSignature
	}

	return &Signed{
		Signer:    signer,
		Timestamp: ts,
		Signature: sigHdr,
		Body:      body,
	}, nil
}
