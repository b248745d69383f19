// Package client implements the paying side of the 402 protocol: a request
// wrapper that answers a payment challenge by broadcasting an on-chain
// transfer and retrying the request with proof attached.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apierrors "github.com/gate402/server/internal/errors"
	"github.com/gate402/server/internal/httputil"
	"github.com/gate402/server/internal/logger"
	"github.com/gate402/server/pkg/x402"
)

// maxChallengeBody bounds how much of a 402 response body is read.
const maxChallengeBody = 1 << 20

// TransferSender is the client's on-chain capability: balance reads and
// settled token transfers. pkg/x402/solana.WalletSender implements it.
type TransferSender interface {
	Wallet() string
	Balance(ctx context.Context, mint string) (uint64, error)
	SendToken(ctx context.Context, destTokenAccount string, amountMicro uint64, mint string) (string, error)
}

// PaymentError is a client-side payment failure with a machine-readable code.
type PaymentError struct {
	Code    apierrors.ErrorCode
	Message string
	Err     error
}

func (e PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e PaymentError) Unwrap() error {
	return e.Err
}

// Agent wraps an HTTP client with transparent 402 handling. One payment
// attempt per call: if the retried request fails again, the response is
// returned as-is rather than paying twice.
type Agent struct {
	httpClient *http.Client
	sender     TransferSender
	network    string
	autoRetry  bool
}

// Option configures an Agent.
type Option func(*Agent)

// WithHTTPClient replaces the default pooled client.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Agent) {
		a.httpClient = client
	}
}

// WithoutAutoRetry makes Do and Get return 402 responses untouched.
func WithoutAutoRetry() Option {
	return func(a *Agent) {
		a.autoRetry = false
	}
}

// New creates an agent paying on the given namespaced network.
func New(sender TransferSender, network string, opts ...Option) (*Agent, error) {
	if sender == nil {
		return nil, errors.New("client: transfer sender required")
	}
	if _, err := x402.ClusterForNetwork(network); err != nil {
		return nil, err
	}
	agent := &Agent{
		httpClient: httputil.NewClient(30 * time.Second),
		sender:     sender,
		network:    network,
		autoRetry:  true,
	}
	for _, opt := range opts {
		opt(agent)
	}
	return agent, nil
}

// Get fetches url, paying a 402 challenge if one comes back.
func (a *Agent) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return a.Do(req)
}

// Do issues the request; on a 402 it selects a compatible payment option,
// settles it on-chain, and retries once with the payment header attached.
func (a *Agent) Do(req *http.Request) (*http.Response, error) {
	resp, err := a.httpClient.Do(cloneRequest(req))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired || !a.autoRetry {
		return resp, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBody))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("client: read challenge body: %w", err)
	}

	challenge, err := x402.ParseRequirementsJSON(body)
	if err != nil {
		return nil, PaymentError{
			Code:    apierrors.ErrCodeUnsupportedRequirements,
			Message: "402 response carries no parseable challenge",
			Err:     err,
		}
	}

	header, err := a.pay(req.Context(), challenge)
	if err != nil {
		return nil, err
	}

	retry := cloneRequest(req)
	retry.Header.Set(x402.HeaderName, header)
	return a.httpClient.Do(retry)
}

// pay satisfies the first compatible option in the challenge and returns the
// encoded payment header.
func (a *Agent) pay(ctx context.Context, challenge x402.PaymentRequirements) (string, error) {
	log := logger.FromContext(ctx)

	option := a.selectOption(challenge)
	if option == nil {
		return "", PaymentError{
			Code:    apierrors.ErrCodeUnsupportedRequirements,
			Message: fmt.Sprintf("no accepted option matches scheme %q on network %q", x402.SchemeExact, a.network),
		}
	}
	amount := option.AmountMicro()

	balance, err := a.sender.Balance(ctx, option.PayTo.Asset)
	if err != nil {
		return "", PaymentError{Code: apierrors.ErrCodeVerification, Message: "balance check failed", Err: err}
	}
	if balance < amount {
		return "", PaymentError{
			Code:    apierrors.ErrCodeInsufficientBalance,
			Message: fmt.Sprintf("wallet holds %d micro-units, challenge demands %d", balance, amount),
		}
	}

	// The transfer-and-confirm wait is bounded by the challenge timeout.
	sendCtx, cancel := context.WithTimeout(ctx, time.Duration(option.Timeout)*time.Second)
	defer cancel()

	log.Info().
		Str("destination", logger.TruncateAddress(option.PayTo.Address)).
		Uint64("amount_micro", amount).
		Str("network", option.Network).
		Msg("payment.sending_transfer")

	signature, err := a.sender.SendToken(sendCtx, option.PayTo.Address, amount, option.PayTo.Asset)
	if err != nil {
		if sendCtx.Err() != nil && ctx.Err() == nil {
			return "", PaymentError{
				Code:    apierrors.ErrCodePaymentTimeout,
				Message: fmt.Sprintf("transfer not confirmed within %ds", option.Timeout),
				Err:     err,
			}
		}
		return "", PaymentError{Code: apierrors.ErrCodeVerification, Message: "transfer failed", Err: err}
	}

	return x402.EncodeHeader(x402.PaymentHeader{
		X402Version: x402.ProtocolVersion,
		Scheme:      option.Scheme,
		Network:     option.Network,
		Payload:     x402.HeaderPayload{Transaction: signature},
	})
}

// selectOption picks the first accepted option the agent can satisfy.
func (a *Agent) selectOption(challenge x402.PaymentRequirements) *x402.PaymentOption {
	for i := range challenge.Accepts {
		option := &challenge.Accepts[i]
		if option.Scheme != x402.SchemeExact {
			continue
		}
		if option.Network != a.network {
			continue
		}
		return option
	}
	return nil
}

// cloneRequest copies a request so the original survives both attempts.
// Requests with bodies must provide GetBody (http.NewRequest sets it for
// common body types).
func cloneRequest(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	if req.Body != nil && req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			clone.Body = body
		}
	}
	return clone
}

// ReadSettlement extracts the server's settlement receipt from a response,
// when present.
func ReadSettlement(resp *http.Response) (x402.SettlementResponse, bool) {
	header := resp.Header.Get(x402.SettlementHeaderName)
	if header == "" {
		return x402.SettlementResponse{}, false
	}
	settlement, err := x402.DecodeSettlement(header)
	if err != nil {
		return x402.SettlementResponse{}, false
	}
	return settlement, true
}
