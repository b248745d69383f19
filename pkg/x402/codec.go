package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	apierrors "github.com/gate402/server/internal/errors"
)

// EncodeRequirements serializes a challenge document to base64 JSON.
func EncodeRequirements(reqs PaymentRequirements) (string, error) {
	data, err := json.Marshal(reqs)
	if err != nil {
		return "", fmt.Errorf("x402: marshal requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeRequirements parses and validates a base64 JSON challenge document.
func DecodeRequirements(encoded string) (PaymentRequirements, error) {
	var reqs PaymentRequirements
	data, err := decodeBase64(encoded)
	if err != nil {
		return reqs, NewVerificationError(apierrors.ErrCodeInvalidHeader, fmt.Errorf("x402: decode requirements: %w", err))
	}
	if err := json.Unmarshal(data, &reqs); err != nil {
		return reqs, NewVerificationError(apierrors.ErrCodeInvalidHeader, fmt.Errorf("x402: parse requirements: %w", err))
	}
	if err := reqs.Validate(); err != nil {
		return reqs, NewVerificationError(apierrors.ErrCodeInvalidHeader, err)
	}
	return reqs, nil
}

// ParseRequirementsJSON validates a challenge document arriving as a raw JSON
// body, which is how 402 responses carry it.
func ParseRequirementsJSON(body []byte) (PaymentRequirements, error) {
	var reqs PaymentRequirements
	if err := json.Unmarshal(body, &reqs); err != nil {
		return reqs, fmt.Errorf("x402: parse requirements: %w", err)
	}
	if err := reqs.Validate(); err != nil {
		return reqs, err
	}
	return reqs, nil
}

// Validate checks every field the protocol requires of a challenge.
func (r PaymentRequirements) Validate() error {
	if r.X402Version != ProtocolVersion {
		return fmt.Errorf("x402: unsupported protocol version %d", r.X402Version)
	}
	if len(r.Accepts) == 0 {
		return errors.New("x402: challenge has no payment options")
	}
	for i, opt := range r.Accepts {
		if err := opt.Validate(); err != nil {
			return fmt.Errorf("x402: accepts[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks a single payment option.
func (o PaymentOption) Validate() error {
	if o.Scheme != SchemeExact {
		return fmt.Errorf("unsupported scheme %q", o.Scheme)
	}
	if _, err := ClusterForNetwork(o.Network); err != nil {
		return err
	}
	amount, err := strconv.ParseUint(o.MaxAmountRequired, 10, 64)
	if err != nil {
		return fmt.Errorf("maxAmountRequired %q is not an integer", o.MaxAmountRequired)
	}
	if amount == 0 {
		return errors.New("maxAmountRequired must be positive")
	}
	if o.PayTo.Address == "" {
		return errors.New("payTo.address missing")
	}
	if o.PayTo.Asset == "" {
		return errors.New("payTo.asset missing")
	}
	if o.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

// AmountMicro returns the option's required amount as integer micro-units.
// Call Validate first; invalid amounts return zero.
func (o PaymentOption) AmountMicro() uint64 {
	amount, _ := strconv.ParseUint(o.MaxAmountRequired, 10, 64)
	return amount
}

// EncodeHeader serializes a payment header for the X-PAYMENT request header.
func EncodeHeader(h PaymentHeader) (string, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("x402: marshal header: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ParsePaymentHeader decodes and validates an X-PAYMENT header value. Every
// failure carries the INVALID_HEADER code: from the server's point of view a
// header it cannot trust is a header it does not have.
func ParsePaymentHeader(raw string) (PaymentHeader, error) {
	var h PaymentHeader
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return h, NewVerificationError(apierrors.ErrCodeInvalidHeader, errors.New("empty payment header"))
	}
	data, err := decodeBase64(raw)
	if err != nil {
		return h, NewVerificationError(apierrors.ErrCodeInvalidHeader, fmt.Errorf("decode base64: %w", err))
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return h, NewVerificationError(apierrors.ErrCodeInvalidHeader, fmt.Errorf("parse payment header: %w", err))
	}
	if h.X402Version != ProtocolVersion {
		return h, NewVerificationError(apierrors.ErrCodeInvalidHeader, fmt.Errorf("unsupported protocol version %d", h.X402Version))
	}
	if h.Scheme != SchemeExact {
		return h, NewVerificationError(apierrors.ErrCodeInvalidHeader, fmt.Errorf("unsupported scheme %q", h.Scheme))
	}
	if _, err := ClusterForNetwork(h.Network); err != nil {
		return h, NewVerificationError(apierrors.ErrCodeInvalidHeader, err)
	}
	sig := h.Payload.Transaction
	if len(sig) < 64 || len(sig) > 128 {
		return h, NewVerificationError(apierrors.ErrCodeInvalidHeader, fmt.Errorf("transaction signature length %d out of range", len(sig)))
	}
	return h, nil
}

// EncodeSettlement serializes a settlement response for X-PAYMENT-RESPONSE.
func EncodeSettlement(s SettlementResponse) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("x402: marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettlement parses an X-PAYMENT-RESPONSE header value.
func DecodeSettlement(encoded string) (SettlementResponse, error) {
	var s SettlementResponse
	data, err := decodeBase64(encoded)
	if err != nil {
		return s, fmt.Errorf("x402: decode settlement: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("x402: parse settlement: %w", err)
	}
	return s, nil
}

// decodeBase64 accepts both padded and raw standard encoding.
func decodeBase64(s string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return decoded, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
