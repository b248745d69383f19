package solana

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/gate402/server/internal/logger"
	"github.com/gate402/server/internal/money"
	"github.com/gate402/server/internal/rpcutil"
)

// statusPollInterval is how often the sender polls for confirmation after
// broadcasting a transfer.
const statusPollInterval = 2 * time.Second

// WalletSender creates, signs, and broadcasts SPL token transfers for a
// single payer wallet, then waits for confirmation. It backs the client
// agent's TransferSender capability.
type WalletSender struct {
	client     *rpc.Client
	key        solana.PrivateKey
	commitment rpc.CommitmentType
}

// NewWalletSender creates a sender for the given RPC endpoint and payer key.
func NewWalletSender(rpcURL string, key solana.PrivateKey, commitment string) (*WalletSender, error) {
	if rpcURL == "" {
		return nil, errors.New("x402 solana: rpc url required")
	}
	if len(key) == 0 {
		return nil, errors.New("x402 solana: payer key required")
	}
	return &WalletSender{
		client:     rpc.New(rpcURL),
		key:        key,
		commitment: commitmentFromString(commitment),
	}, nil
}

// Wallet returns the payer's wallet address.
func (s *WalletSender) Wallet() string {
	return s.key.PublicKey().String()
}

// Balance returns the payer's balance of mint in micro-units, read from the
// wallet's associated token account. A missing token account reads as zero.
func (s *WalletSender) Balance(ctx context.Context, mint string) (uint64, error) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("x402 solana: invalid mint: %w", err)
	}
	account, _, err := solana.FindAssociatedTokenAddress(s.key.PublicKey(), mintKey)
	if err != nil {
		return 0, fmt.Errorf("x402 solana: derive token account: %w", err)
	}

	result, err := rpcutil.WithRetry(ctx, func() (*rpc.GetTokenAccountBalanceResult, error) {
		return s.client.GetTokenAccountBalance(ctx, account, s.commitment)
	})
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("x402 solana: token balance: %w", err)
	}
	if result == nil || result.Value == nil {
		return 0, nil
	}
	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("x402 solana: parse balance %q: %w", result.Value.Amount, err)
	}
	return amount, nil
}

// SendToken transfers amountMicro of mint from the payer's token account to
// the destination token account and blocks until the transfer reaches the
// configured commitment or ctx expires. Returns the transaction signature.
func (s *WalletSender) SendToken(ctx context.Context, destTokenAccount string, amountMicro uint64, mint string) (string, error) {
	destination, err := solana.PublicKeyFromBase58(destTokenAccount)
	if err != nil {
		return "", fmt.Errorf("x402 solana: invalid destination account: %w", err)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return "", fmt.Errorf("x402 solana: invalid mint: %w", err)
	}
	source, _, err := solana.FindAssociatedTokenAddress(s.key.PublicKey(), mintKey)
	if err != nil {
		return "", fmt.Errorf("x402 solana: derive source account: %w", err)
	}

	blockhash, err := rpcutil.WithRetry(ctx, func() (*rpc.GetLatestBlockhashResult, error) {
		return s.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	})
	if err != nil {
		return "", fmt.Errorf("x402 solana: latest blockhash: %w", err)
	}

	transferInst := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amountMicro).
		SetDecimals(money.Decimals).
		SetSourceAccount(source).
		SetDestinationAccount(destination).
		SetMintAccount(mintKey).
		SetOwnerAccount(s.key.PublicKey()).
		Build()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{transferInst},
		blockhash.Value.Blockhash,
		solana.TransactionPayer(s.key.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("x402 solana: build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("x402 solana: sign transaction: %w", err)
	}

	signature, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: s.commitment,
	})
	if err != nil {
		return "", fmt.Errorf("x402 solana: send transaction: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("signature", logger.TruncateAddress(signature.String())).
		Uint64("amount_micro", amountMicro).
		Msg("transfer.awaiting_confirmation")

	if err := s.awaitConfirmation(ctx, signature); err != nil {
		return "", err
	}
	return signature.String(), nil
}

// awaitConfirmation polls signature status until it reaches the configured
// commitment. The enclosing context carries the challenge timeout.
func (s *WalletSender) awaitConfirmation(ctx context.Context, signature solana.Signature) error {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("x402 solana: confirmation wait: %w", ctx.Err())
		case <-ticker.C:
			statuses, err := s.client.GetSignatureStatuses(ctx, true, signature)
			if err != nil || statuses == nil || len(statuses.Value) == 0 {
				continue
			}
			status := statuses.Value[0]
			if status == nil {
				continue
			}
			if status.Err != nil {
				return fmt.Errorf("x402 solana: transaction failed on-chain: %v", status.Err)
			}
			if confirmed(status.ConfirmationStatus, s.commitment) {
				return nil
			}
		}
	}
}

// confirmed reports whether an observed status satisfies the wanted commitment.
func confirmed(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	switch want {
	case rpc.CommitmentProcessed:
		return status == rpc.ConfirmationStatusProcessed ||
			status == rpc.ConfirmationStatusConfirmed ||
			status == rpc.ConfirmationStatusFinalized
	case rpc.CommitmentFinalized:
		return status == rpc.ConfirmationStatusFinalized
	default:
		return status == rpc.ConfirmationStatusConfirmed ||
			status == rpc.ConfirmationStatusFinalized
	}
}
