package paywall

import (
	"context"
	"errors"

	"github.com/gate402/server/internal/callbacks"
	apierrors "github.com/gate402/server/internal/errors"
	"github.com/gate402/server/internal/logger"
	"github.com/gate402/server/internal/money"
	"github.com/gate402/server/internal/storage"
	"github.com/gate402/server/pkg/x402"
)

// Service owns the server side of the 402 protocol: it issues challenges,
// verifies payment headers, and fans out webhook events for admitted
// payments.
type Service struct {
	generator   *x402.ChallengeGenerator
	verifier    x402.Verifier
	queue       storage.Queue
	subscribers []callbacks.Subscriber
}

// ServiceOptions assembles a Service.
type ServiceOptions struct {
	Generator   *x402.ChallengeGenerator
	Verifier    x402.Verifier
	Queue       storage.Queue // nil disables webhooks
	Subscribers []callbacks.Subscriber
}

// NewService creates the paywall service.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Generator == nil {
		return nil, errors.New("paywall: challenge generator required")
	}
	if opts.Verifier == nil {
		return nil, errors.New("paywall: verifier required")
	}
	return &Service{
		generator:   opts.Generator,
		verifier:    opts.Verifier,
		queue:       opts.Queue,
		subscribers: opts.Subscribers,
	}, nil
}

// Challenge builds the 402 document for a resource.
func (s *Service) Challenge(res Resource) (x402.PaymentRequirements, error) {
	return s.generator.Generate(res.PriceUSD, x402.ChallengeOpts{
		Resource:    res.Path,
		Description: res.Description,
		MimeType:    res.MimeType,
		Timeout:     res.TimeoutSecs,
	})
}

// VerifyHeader validates an X-PAYMENT header value against a resource's
// price. Every failure is a coded x402.VerificationError.
func (s *Service) VerifyHeader(ctx context.Context, rawHeader string, res Resource) (Payment, error) {
	header, err := x402.ParsePaymentHeader(rawHeader)
	if err != nil {
		return Payment{}, err
	}
	if header.Network != s.generator.Network() {
		return Payment{}, x402.NewVerificationError(apierrors.ErrCodeInvalidHeader,
			errors.New("payment header network does not match challenge"))
	}

	requiredMicro, err := money.UsdToMicro(res.PriceUSD)
	if err != nil {
		return Payment{}, x402.NewVerificationError(apierrors.ErrCodeVerification, err)
	}

	result, err := s.verifier.VerifyPayment(ctx, header.Payload.Transaction, s.generator.RecipientTokenAccount(), requiredMicro)
	if err != nil {
		return Payment{}, err
	}

	return Payment{
		Payer:     result.Payer,
		Amount:    result.Amount,
		AmountUSD: money.MicroToUsd(result.Amount),
		Signature: result.Signature,
		BlockTime: result.BlockTime,
		Slot:      result.Slot,
		Resource:  res.Path,
	}, nil
}

// NotifyPaymentVerified enqueues a payment.verified event for every
// subscriber. Failures are logged, never surfaced to the request path.
func (s *Service) NotifyPaymentVerified(ctx context.Context, payment Payment) {
	s.notify(ctx, callbacks.EventPaymentVerified, callbacks.EventData{
		Signature: payment.Signature,
		Payer:     payment.Payer,
		Amount:    payment.Amount,
		AmountUSD: payment.AmountUSD,
		Resource:  payment.Resource,
		Network:   s.generator.Network(),
	})
}

// NotifyPaymentFailed enqueues a payment.failed event. Not called on the
// request path; embedders can report rejected payments they care about.
func (s *Service) NotifyPaymentFailed(ctx context.Context, resource string, code apierrors.ErrorCode, signature string) {
	s.notify(ctx, callbacks.EventPaymentFailed, callbacks.EventData{
		Signature: signature,
		Resource:  resource,
		Network:   s.generator.Network(),
		ErrorCode: string(code),
	})
}

func (s *Service) notify(ctx context.Context, eventName string, data callbacks.EventData) {
	if s.queue == nil || len(s.subscribers) == 0 {
		return
	}
	log := logger.FromContext(ctx)
	event := callbacks.NewEvent(eventName, data)
	for _, sub := range s.subscribers {
		entry, err := callbacks.QueueEntry(sub, event)
		if err != nil {
			log.Error().Err(err).Str("event", eventName).Msg("paywall.webhook_encode_failed")
			continue
		}
		if _, err := s.queue.Enqueue(ctx, entry); err != nil {
			log.Error().Err(err).Str("url", sub.URL).Str("event", eventName).Msg("paywall.webhook_enqueue_failed")
		}
	}
}
