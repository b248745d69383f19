// Package paywall gates HTTP handlers behind a 402 payment challenge. A
// request without proof gets the challenge; a request with proof gets
// verified, and only then reaches the protected handler.
package paywall

import (
	"context"
	"time"
)

type contextKey string

const contextKeyPayment contextKey = "paywall.payment"

// Resource describes one protected endpoint and its price.
type Resource struct {
	Path        string  // published in the challenge's resource field
	PriceUSD    float64 // demanded price
	Description string
	MimeType    string // MIME of the body returned on success
	TimeoutSecs int    // freshness window advertised to clients; 0 = default
}

// Payment is the verified-payment context surfaced to downstream handlers.
type Payment struct {
	Payer     string
	Amount    uint64 // micro-units
	AmountUSD float64
	Signature string
	BlockTime time.Time
	Slot      uint64
	Resource  string
}

// PaymentFromContext retrieves the verified payment for the request, when
// the paywall middleware admitted it.
func PaymentFromContext(ctx context.Context) (Payment, bool) {
	payment, ok := ctx.Value(contextKeyPayment).(Payment)
	return payment, ok
}

func withPayment(ctx context.Context, payment Payment) context.Context {
	return context.WithValue(ctx, contextKeyPayment, payment)
}
