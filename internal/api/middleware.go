package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/observability"
	"staking-ledger/internal/signing"
)

type contextKeySigner struct{}

// SignerFrom returns the verified caller of a signed request.
func SignerFrom(ctx context.Context) (domain.Pubkey, bool) {
	pk, ok := ctx.Value(contextKeySigner{}).(domain.Pubkey)
	return pk, ok
}

// requireSignature verifies the request signature and claims it with the
// replay guard before the handler runs.
func (s *Server) requireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signed, err := signing.Verify(r, s.clock())
		if err != nil {
			observability.RecordSignatureRejection(signatureReason(err))
			writeErrorCode(w, http.StatusUnauthorized, CodeInvalidSignature, err.Error())
			return
		}

		fresh, err := s.replay.Claim(r.Context(), signed.Signature, 2*signing.MaxSkew)
		if err != nil {
			s.logger.Printf("replay guard: %v", err)
			writeErrorCode(w, http.StatusServiceUnavailable, CodeReplayed, "replay guard unavailable")
			return
		}
		if !fresh {
			observability.RecordSignatureRejection("replayed")
			writeErrorCode(w, http.StatusConflict, CodeReplayed, "signature already used")
			return
		}

		ctx := context.WithValue(r.Context(), contextKeySigner{}, signed.Signer)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recordMetrics records request count and latency by route pattern.
func recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RecordHTTPRequest(route, strconv.Itoa(status), time.Since(start).Seconds())
	})
}
