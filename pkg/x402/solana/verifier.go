package solana

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apierrors "github.com/gate402/server/internal/errors"
	"github.com/gate402/server/internal/logger"
	"github.com/gate402/server/internal/metrics"
	"github.com/gate402/server/internal/money"
	"github.com/gate402/server/internal/verifycache"
	"github.com/gate402/server/pkg/x402"
)

// Verification timing defaults.
const (
	// DefaultMaxPaymentAge is the freshness window: a satisfying transfer
	// older than this no longer pays for anything.
	DefaultMaxPaymentAge = 5 * time.Minute

	// MinSuccessTTL floors the replay-protection TTL for successful verdicts.
	MinSuccessTTL = 600 * time.Second

	// notFoundTTL keeps TX_NOT_FOUND verdicts just long enough to absorb
	// refetch storms while the transaction propagates.
	notFoundTTL = 10 * time.Second

	// permanentTTL covers verdicts that can never change (TX_FAILED,
	// NO_USDC_TRANSFER). The ledger record is immutable; a day bounds memory.
	permanentTTL = 24 * time.Hour
)

// VerifierConfig assembles a Verifier from its injected dependencies.
type VerifierConfig struct {
	Ledger        LedgerClient
	Cache         verifycache.Cache
	Mint          string        // token mint transfers must move
	Network       string        // namespaced network identifier, for logs and metrics
	MaxPaymentAge time.Duration // zero means DefaultMaxPaymentAge
	Metrics       *metrics.Metrics
}

// Verifier confirms that a claimed transaction signature settles a payment:
// the transaction exists at sufficient depth, succeeded, is fresh, moves
// enough of the right token to the right account, and has not been replayed.
type Verifier struct {
	ledger  LedgerClient
	cache   verifycache.Cache
	mint    string
	network string
	maxAge  time.Duration
	metrics *metrics.Metrics
	clock   func() time.Time
	locks   signatureLocks
}

// NewVerifier creates a payment verifier.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("x402 solana: ledger client required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("x402 solana: verification cache required")
	}
	if cfg.Mint == "" {
		return nil, errors.New("x402 solana: token mint required")
	}
	maxAge := cfg.MaxPaymentAge
	if maxAge <= 0 {
		maxAge = DefaultMaxPaymentAge
	}
	return &Verifier{
		ledger:  cfg.Ledger,
		cache:   cfg.Cache,
		mint:    cfg.Mint,
		network: cfg.Network,
		maxAge:  maxAge,
		metrics: cfg.Metrics,
		clock:   time.Now,
		locks:   signatureLocks{entries: make(map[string]*lockEntry)},
	}, nil
}

// VerifyPayment checks that signature pays at least requiredMicro micro-units
// of the configured mint into recipientTokenAccount. Concurrent calls with
// the same signature serialize on a per-signature lock, so exactly one of
// them verifies and the rest observe the cached verdict.
func (v *Verifier) VerifyPayment(ctx context.Context, signature, recipientTokenAccount string, requiredMicro uint64) (x402.VerificationResult, error) {
	start := v.clock()
	result, err := v.verify(ctx, signature, recipientTokenAccount, requiredMicro)

	outcome := "ok"
	var amount uint64
	if err != nil {
		var verr x402.VerificationError
		if errors.As(err, &verr) {
			outcome = string(verr.Code)
		} else {
			outcome = string(apierrors.ErrCodeVerification)
		}
	} else {
		amount = result.Amount
	}
	v.metrics.ObserveVerification(outcome, v.network, time.Since(start), amount)
	return result, err
}

func (v *Verifier) verify(ctx context.Context, signature, recipientTokenAccount string, requiredMicro uint64) (x402.VerificationResult, error) {
	log := logger.FromContext(ctx)

	unlock := v.locks.lock(signature)
	defer unlock()

	// Step 1: cache consult. A cached success means the signature is spent.
	cached, err := v.cache.Get(ctx, signature)
	if err != nil {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeVerification, fmt.Errorf("cache lookup: %w", err))
	}
	v.metrics.ObserveCacheLookup("verifier", cached != nil)
	if cached != nil {
		if cached.OK {
			log.Warn().
				Str("signature", logger.TruncateAddress(signature)).
				Str("payer", logger.TruncateAddress(cached.Payer)).
				Msg("payment.replay_rejected")
			return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeReplayAttack,
				fmt.Errorf("signature already used by %s for %d micro-units", cached.Payer, cached.Amount))
		}
		if cached.Code.IsDeterministic() {
			return x402.VerificationResult{}, x402.NewVerificationError(cached.Code, errors.New(cached.Message))
		}
		// Transient cached failure: fall through and verify again.
	}

	// Step 2: fetch the transaction, with bounded retry inside the ledger client.
	sig, err := parseSignature(signature)
	if err != nil {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidHeader, err)
	}
	tx, err := v.ledger.GetTransaction(ctx, sig)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			v.cacheVerdict(ctx, signature, verifycache.Verdict{
				Code:      apierrors.ErrCodeTxNotFound,
				Message:   "transaction not found on ledger",
				Signature: signature,
			}, notFoundTTL)
			return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeTxNotFound, err)
		}
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeRPC, err)
	}
	if tx.Meta == nil || tx.Transaction == nil {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeVerification,
			errors.New("ledger returned incomplete transaction"))
	}

	// Step 3: the transaction must have succeeded on-chain.
	if tx.Meta.Err != nil {
		v.cacheVerdict(ctx, signature, verifycache.Verdict{
			Code:      apierrors.ErrCodeTxFailed,
			Message:   fmt.Sprintf("transaction failed on-chain: %v", tx.Meta.Err),
			Signature: signature,
		}, permanentTTL)
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeTxFailed,
			fmt.Errorf("transaction error: %v", tx.Meta.Err))
	}

	// Step 4: freshness window.
	if tx.BlockTime == nil {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeVerification,
			errors.New("transaction has no block time"))
	}
	blockTime := tx.BlockTime.Time()
	if age := v.clock().Sub(blockTime); age > v.maxAge {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeTxExpired,
			fmt.Errorf("transaction is %s old, window is %s", age.Round(time.Second), v.maxAge))
	}

	// Step 5: extract token transfers.
	decoded, err := tx.Transaction.GetTransaction()
	if err != nil {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeVerification,
			fmt.Errorf("decode transaction: %w", err))
	}
	transfers := ExtractTransfersForMint(decoded, tx.Meta, v.mint)
	if len(transfers) == 0 {
		v.cacheVerdict(ctx, signature, verifycache.Verdict{
			Code:      apierrors.ErrCodeNoTokenTransfer,
			Message:   "transaction contains no transfer of the required token",
			Signature: signature,
		}, permanentTTL)
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeNoTokenTransfer,
			fmt.Errorf("no %s transfers in transaction", logger.TruncateAddress(v.mint)))
	}

	// Step 6: match recipient and amount. First matching transfer wins;
	// overpayment is accepted, amounts are never summed across transfers.
	match := FindMatching(transfers, recipientTokenAccount, requiredMicro, v.mint)
	if match == nil {
		found := make([]string, 0, len(transfers))
		for _, transfer := range transfers {
			found = append(found, fmt.Sprintf("%s<-%d", logger.TruncateAddress(transfer.Destination), transfer.Amount))
		}
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeTransferMismatch,
			fmt.Errorf("required %d micro-units to %s, found %v", requiredMicro, logger.TruncateAddress(recipientTokenAccount), found))
	}

	// Step 7: persist the verdict. From this point the signature is spent.
	verdict := verifycache.Verdict{
		OK:        true,
		Payer:     match.Authority,
		Amount:    match.Amount,
		Signature: signature,
		BlockTime: blockTime.Unix(),
		Slot:      tx.Slot,
	}
	successTTL := v.maxAge
	if successTTL < MinSuccessTTL {
		successTTL = MinSuccessTTL
	}
	v.cacheVerdict(ctx, signature, verdict, successTTL)

	log.Info().
		Str("signature", logger.TruncateAddress(signature)).
		Str("payer", logger.TruncateAddress(match.Authority)).
		Uint64("amount_micro", match.Amount).
		Float64("amount_usd", money.MicroToUsd(match.Amount)).
		Uint64("slot", tx.Slot).
		Msg("payment.verified")

	return x402.VerificationResult{
		Transfer:  *match,
		Payer:     match.Authority,
		Amount:    match.Amount,
		Signature: signature,
		BlockTime: blockTime,
		Slot:      tx.Slot,
	}, nil
}

// cacheVerdict writes a verdict, logging rather than failing on error: a
// cache write failure must not turn a decided verification into a 500.
func (v *Verifier) cacheVerdict(ctx context.Context, signature string, verdict verifycache.Verdict, ttl time.Duration) {
	if err := v.cache.Put(ctx, signature, verdict, ttl); err != nil {
		logger.FromContext(ctx).Error().
			Err(err).
			Str("signature", logger.TruncateAddress(signature)).
			Msg("payment.cache_write_failed")
	}
}

// signatureLocks serializes verification per signature so two concurrent
// requests bearing the same transfer cannot both pass before either caches.
type signatureLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (s *signatureLocks) lock(signature string) (unlock func()) {
	s.mu.Lock()
	entry, ok := s.entries[signature]
	if !ok {
		entry = &lockEntry{}
		s.entries[signature] = entry
	}
	entry.refs++
	s.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		s.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(s.entries, signature)
		}
		s.mu.Unlock()
	}
}

var _ x402.Verifier = (*Verifier)(nil)

// VerifyPaymentUSD is a convenience wrapper taking the required amount in USD.
func (v *Verifier) VerifyPaymentUSD(ctx context.Context, signature, recipientTokenAccount string, requiredUSD float64) (x402.VerificationResult, error) {
	micro, err := money.UsdToMicro(requiredUSD)
	if err != nil {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeVerification, err)
	}
	return v.VerifyPayment(ctx, signature, recipientTokenAccount, micro)
}
