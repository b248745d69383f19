package paywall

import (
	"errors"
	"net/http"
	"strings"

	apierrors "github.com/gate402/server/internal/errors"
	"github.com/gate402/server/internal/logger"
	"github.com/gate402/server/pkg/responders"
	"github.com/gate402/server/pkg/x402"
)

// Middleware enforces payment for one resource before the downstream handler
// runs. The request body is never read before verification.
func (s *Service) Middleware(res Resource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.FromContext(r.Context())

			rawHeader := strings.TrimSpace(r.Header.Get(x402.HeaderName))
			if rawHeader == "" {
				s.writeChallenge(w, res, "", "")
				return
			}

			payment, err := s.VerifyHeader(r.Context(), rawHeader, res)
			if err != nil {
				var verr x402.VerificationError
				if !errors.As(err, &verr) {
					verr = x402.NewVerificationError(apierrors.ErrCodeVerification, err)
				}
				if verr.Code.HTTPStatus() == http.StatusPaymentRequired {
					log.Warn().
						Str("code", string(verr.Code)).
						Str("resource", res.Path).
						Msg("paywall.payment_rejected")
					s.writeChallenge(w, res, string(verr.Code), verr.Message)
					return
				}
				log.Error().
					Err(verr.Err).
					Str("code", string(verr.Code)).
					Str("resource", res.Path).
					Msg("paywall.verification_error")
				apierrors.WriteError(w, verr.Code, verr.Message, nil)
				return
			}

			if settlement, err := x402.EncodeSettlement(x402.SettlementResponse{
				Success:     true,
				Transaction: payment.Signature,
				Network:     s.generator.Network(),
				Payer:       payment.Payer,
			}); err == nil {
				w.Header().Set(x402.SettlementHeaderName, settlement)
			}

			ctx := withPayment(r.Context(), payment)
			next.ServeHTTP(w, r.WithContext(ctx))

			s.NotifyPaymentVerified(ctx, payment)
		})
	}
}

// writeChallenge emits the 402 challenge document. When a submitted payment
// was rejected, the error field names the code so the client can correct.
func (s *Service) writeChallenge(w http.ResponseWriter, res Resource, code, message string) {
	challenge, err := s.Challenge(res)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeVerification, "challenge generation failed", nil)
		return
	}
	if code != "" {
		challenge.Error = code
		if message != "" {
			challenge.Error = code + ": " + message
		}
	}
	responders.JSON(w, http.StatusPaymentRequired, challenge)
}
