// Package solana binds the x402 payment protocol to the Solana ledger: it
// fetches settled transactions, extracts SPL token transfers from them, and
// verifies that a claimed payment actually satisfies a challenge.
package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/gate402/server/internal/circuitbreaker"
	"github.com/gate402/server/internal/metrics"
	"github.com/gate402/server/internal/rpcutil"
)

// ErrTransactionNotFound is returned when the ledger has no record of the
// signature at the requested commitment. A not-found answer is not retried;
// only transient transport errors are.
var ErrTransactionNotFound = errors.New("x402 solana: transaction not found")

// LedgerClient fetches confirmed transactions by signature. The verifier
// depends on this interface, not on the RPC client, so tests and alternate
// backends can stand in.
type LedgerClient interface {
	GetTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error)
}

// RPCLedger is the production LedgerClient backed by a Solana JSON-RPC
// endpoint, with bounded retry for transient failures and an optional
// circuit breaker.
type RPCLedger struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
	retryCfg   rpcutil.Config
	breaker    *circuitbreaker.Manager
	metrics    *metrics.Metrics
	network    string
}

// RPCLedgerOption configures an RPCLedger.
type RPCLedgerOption func(*RPCLedger)

// WithCommitment sets the confirmation level required of fetched transactions.
func WithCommitment(commitment string) RPCLedgerOption {
	return func(l *RPCLedger) {
		l.commitment = commitmentFromString(commitment)
	}
}

// WithRetryConfig overrides the default retry policy.
func WithRetryConfig(cfg rpcutil.Config) RPCLedgerOption {
	return func(l *RPCLedger) {
		l.retryCfg = cfg
	}
}

// WithBreaker routes fetches through a circuit breaker.
func WithBreaker(breaker *circuitbreaker.Manager) RPCLedgerOption {
	return func(l *RPCLedger) {
		l.breaker = breaker
	}
}

// WithMetrics records per-call RPC observations.
func WithMetrics(m *metrics.Metrics, network string) RPCLedgerOption {
	return func(l *RPCLedger) {
		l.metrics = m
		l.network = network
	}
}

// NewRPCLedger creates a ledger client for the given RPC endpoint.
func NewRPCLedger(rpcURL string, opts ...RPCLedgerOption) (*RPCLedger, error) {
	if rpcURL == "" {
		return nil, errors.New("x402 solana: rpc url required")
	}
	ledger := &RPCLedger{
		client:     rpc.New(rpcURL),
		commitment: rpc.CommitmentConfirmed,
		retryCfg:   rpcutil.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(ledger)
	}
	return ledger, nil
}

// Client exposes the underlying RPC client for callers that need raw access.
func (l *RPCLedger) Client() *rpc.Client {
	return l.client
}

// GetTransaction fetches a transaction at the configured commitment,
// retrying transient transport errors under the configured policy. Returns
// ErrTransactionNotFound on the first answer that the ledger does not know
// the signature; that answer is not retried. Any other error is a transport
// failure.
func (l *RPCLedger) GetTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     l.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	result, err := rpcutil.WithRetryConfig(ctx, l.retryCfg, func() (*rpc.GetTransactionResult, error) {
		start := time.Now()
		raw, execErr := l.execute(ctx, signature, opts)
		l.metrics.ObserveRPCCall("GetTransaction", l.network, time.Since(start), execErr)
		return raw, execErr
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if result == nil {
		return nil, ErrTransactionNotFound
	}
	return result, nil
}

func (l *RPCLedger) execute(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	if l.breaker == nil {
		return l.client.GetTransaction(ctx, signature, opts)
	}
	raw, err := l.breaker.Execute(circuitbreaker.ServiceLedgerRPC, func() (any, error) {
		return l.client.GetTransaction(ctx, signature, opts)
	})
	if err != nil {
		return nil, err
	}
	result, _ := raw.(*rpc.GetTransactionResult)
	return result, nil
}

// isNotFound distinguishes "ledger has no such transaction" from transport
// failures, since only the former maps to TX_NOT_FOUND.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found")
}

// commitmentFromString converts a config string to rpc.CommitmentType.
func commitmentFromString(value string) rpc.CommitmentType {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "processed":
		return rpc.CommitmentProcessed
	case "confirmed", "":
		return rpc.CommitmentConfirmed
	case "finalized", "finalised":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

// parseSignature parses a base58 signature string, reporting a usable error.
func parseSignature(s string) (solana.Signature, error) {
	sig, err := solana.SignatureFromBase58(s)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("x402 solana: invalid signature %q: %w", s, err)
	}
	return sig, nil
}
