// Package x402 implements the HTTP 402 payment challenge/response protocol:
// the challenge document a server issues, the payment header a client
// returns, and the codec between them.
// Reference: https://github.com/coinbase/x402
package x402

import (
	"context"
	"time"

	apierrors "github.com/gate402/server/internal/errors"
)

// PayTo identifies where a payment must land: a token account (not the
// owning wallet) and the token mint it holds.
type PayTo struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
}

// PaymentOption is one acceptable payment method inside a challenge.
type PaymentOption struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"` // micro-units, stringified integer
	PayTo             PayTo  `json:"payTo"`
	Resource          string `json:"resource"`
	Description       string `json:"description"`
	Timeout           int    `json:"timeout"` // seconds a satisfying transfer stays acceptable
	MimeType          string `json:"mimeType"`
}

// PaymentRequirements is the challenge document returned with a 402 status.
type PaymentRequirements struct {
	X402Version int             `json:"x402Version"`
	Accepts     []PaymentOption `json:"accepts"`
	Error       string          `json:"error"`
}

// HeaderPayload is the scheme-specific body of a payment header. For the
// "exact" scheme only the transaction signature is used; the authorization
// block is reserved for future schemes and ignored here.
type HeaderPayload struct {
	Transaction   string         `json:"transaction"`
	Authorization map[string]any `json:"authorization,omitempty"`
}

// PaymentHeader is the client's proof-of-payment envelope, carried base64
// encoded in the X-PAYMENT request header.
type PaymentHeader struct {
	X402Version int           `json:"x402Version"`
	Scheme      string        `json:"scheme"`
	Network     string        `json:"network"`
	Payload     HeaderPayload `json:"payload"`
}

// ParsedTransfer is one decoded token transfer extracted from a ledger
// transaction. Amounts are integer micro-units. The instruction indexes are
// diagnostic only; InnerIndex is -1 for top-level instructions.
type ParsedTransfer struct {
	Source      string
	Destination string
	Authority   string
	Mint        string
	Amount      uint64
	OuterIndex  int
	InnerIndex  int
}

// VerificationResult is the successful outcome of payment verification.
type VerificationResult struct {
	Transfer  ParsedTransfer
	Payer     string // transfer authority wallet
	Amount    uint64 // micro-units actually transferred
	Signature string
	BlockTime time.Time
	Slot      uint64
}

// Verifier validates a claimed payment before the protected handler runs.
type Verifier interface {
	VerifyPayment(ctx context.Context, signature, recipientTokenAccount string, requiredMicro uint64) (VerificationResult, error)
}

// SettlementResponse is surfaced to the client in the X-PAYMENT-RESPONSE
// header after a successful verification.
type SettlementResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
}

// HeaderName is the request header carrying the encoded payment header.
const HeaderName = "X-PAYMENT"

// SettlementHeaderName carries the encoded settlement response.
const SettlementHeaderName = "X-PAYMENT-RESPONSE"

// Re-exported for call sites that match on verdict codes.
type ErrorCode = apierrors.ErrorCode
