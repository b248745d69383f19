package x402

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/gate402/server/internal/money"
)

// Challenge defaults.
const (
	DefaultTimeoutSeconds = 300
	DefaultMimeType       = "application/json"
	DefaultErrorMessage   = "Payment required"
	DefaultDescription    = "Access to protected resource"
)

// ChallengeGenerator builds 402 challenge documents for a receiving wallet.
// The wallet itself never appears in challenges: token transfers land on
// token accounts, so the generator derives the wallet's associated token
// account for the configured mint and publishes that as payTo.address.
type ChallengeGenerator struct {
	network          string
	mint             solana.PublicKey
	recipientWallet  solana.PublicKey
	recipientAccount solana.PublicKey
}

// NewChallengeGenerator derives the receiving token account for the given
// wallet on the given namespaced network, using the network's built-in USDC
// mint.
func NewChallengeGenerator(recipientWallet, network string) (*ChallengeGenerator, error) {
	mintStr, err := USDCMintForNetwork(network)
	if err != nil {
		return nil, err
	}
	wallet, err := solana.PublicKeyFromBase58(recipientWallet)
	if err != nil {
		return nil, fmt.Errorf("x402: invalid recipient wallet: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(mintStr)
	if err != nil {
		return nil, fmt.Errorf("x402: invalid token mint: %w", err)
	}
	account, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return nil, fmt.Errorf("x402: derive token account: %w", err)
	}
	return &ChallengeGenerator{
		network:          network,
		mint:             mint,
		recipientWallet:  wallet,
		recipientAccount: account,
	}, nil
}

// RecipientTokenAccount returns the derived receiving token account; the
// verifier matches transfers against this address.
func (g *ChallengeGenerator) RecipientTokenAccount() string {
	return g.recipientAccount.String()
}

// Network returns the generator's namespaced network identifier.
func (g *ChallengeGenerator) Network() string {
	return g.network
}

// Mint returns the token mint published in challenges.
func (g *ChallengeGenerator) Mint() string {
	return g.mint.String()
}

// ChallengeOpts override challenge defaults. Zero values fall back.
type ChallengeOpts struct {
	Resource     string
	Description  string
	Timeout      int // seconds
	MimeType     string
	ErrorMessage string
}

// Generate builds a single-option challenge demanding priceUSD.
func (g *ChallengeGenerator) Generate(priceUSD float64, opts ChallengeOpts) (PaymentRequirements, error) {
	if priceUSD <= 0 {
		return PaymentRequirements{}, errors.New("x402: price must be positive")
	}
	option, err := g.option(priceUSD, opts)
	if err != nil {
		return PaymentRequirements{}, err
	}
	errMsg := opts.ErrorMessage
	if errMsg == "" {
		errMsg = DefaultErrorMessage
	}
	return PaymentRequirements{
		X402Version: ProtocolVersion,
		Accepts:     []PaymentOption{option},
		Error:       errMsg,
	}, nil
}

// GenerateMultiple builds one option per entry. The list must be non-empty;
// the first entry's error message is used for the document.
func (g *ChallengeGenerator) GenerateMultiple(prices []float64, opts []ChallengeOpts) (PaymentRequirements, error) {
	if len(prices) == 0 {
		return PaymentRequirements{}, errors.New("x402: at least one payment option required")
	}
	accepts := make([]PaymentOption, 0, len(prices))
	errMsg := DefaultErrorMessage
	for i, price := range prices {
		var opt ChallengeOpts
		if i < len(opts) {
			opt = opts[i]
		}
		if price <= 0 {
			return PaymentRequirements{}, fmt.Errorf("x402: option %d: price must be positive", i)
		}
		option, err := g.option(price, opt)
		if err != nil {
			return PaymentRequirements{}, err
		}
		accepts = append(accepts, option)
		if i == 0 && opt.ErrorMessage != "" {
			errMsg = opt.ErrorMessage
		}
	}
	return PaymentRequirements{
		X402Version: ProtocolVersion,
		Accepts:     accepts,
		Error:       errMsg,
	}, nil
}

func (g *ChallengeGenerator) option(priceUSD float64, opts ChallengeOpts) (PaymentOption, error) {
	micro, err := money.UsdToMicro(priceUSD)
	if err != nil {
		return PaymentOption{}, err
	}
	if micro == 0 {
		return PaymentOption{}, errors.New("x402: price rounds to zero micro-units")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}
	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	description := opts.Description
	if description == "" {
		description = DefaultDescription
	}
	return PaymentOption{
		Scheme:            SchemeExact,
		Network:           g.network,
		MaxAmountRequired: strconv.FormatUint(micro, 10),
		PayTo: PayTo{
			Address: g.recipientAccount.String(),
			Asset:   g.mint.String(),
		},
		Resource:    opts.Resource,
		Description: description,
		Timeout:     timeout,
		MimeType:    mimeType,
	}, nil
}
