package x402

import (
	"encoding/base64"
	"errors"
	"reflect"
	"testing"

	apierrors "github.com/gate402/server/internal/errors"
)

const (
	testTokenAccount = "7UX2i7SucgLMQcfZ75s3VXmZZY4YRUyJN9X1RgfMoDUi"
	testSignature    = "5h2nkxGE3yCaQa4PVfTSsVJBcCqYBq2GhcGRVGvJSuPBNvZvWHjNtAWDtauLeDJrBvusGyBHiJMxVXQxJXWt41CL"
)

func validChallenge() PaymentRequirements {
	return PaymentRequirements{
		X402Version: ProtocolVersion,
		Accepts: []PaymentOption{{
			Scheme:            SchemeExact,
			Network:           NetworkDevnet,
			MaxAmountRequired: "1000",
			PayTo:             PayTo{Address: testTokenAccount, Asset: USDCMintDevnet},
			Resource:          "/api/premium",
			Description:       "Premium API access",
			Timeout:           300,
			MimeType:          "application/json",
		}},
		Error: "Payment required",
	}
}

func TestRequirementsRoundTrip(t *testing.T) {
	original := validChallenge()
	encoded, err := EncodeRequirements(original)
	if err != nil {
		t.Fatalf("EncodeRequirements: %v", err)
	}
	decoded, err := DecodeRequirements(encoded)
	if err != nil {
		t.Fatalf("DecodeRequirements: %v", err)
	}
	if !reflect.DeepEqual(original, decoded) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, original)
	}
}

func TestDecodeRequirementsRejects(t *testing.T) {
	mutate := func(fn func(*PaymentRequirements)) string {
		doc := validChallenge()
		fn(&doc)
		encoded, err := EncodeRequirements(doc)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return encoded
	}

	tests := []struct {
		name    string
		encoded string
	}{
		{name: "not base64", encoded: "!!!"},
		{name: "not json", encoded: base64.StdEncoding.EncodeToString([]byte("hello"))},
		{name: "wrong version", encoded: mutate(func(d *PaymentRequirements) { d.X402Version = 2 })},
		{name: "empty accepts", encoded: mutate(func(d *PaymentRequirements) { d.Accepts = nil })},
		{name: "unknown scheme", encoded: mutate(func(d *PaymentRequirements) { d.Accepts[0].Scheme = "upto" })},
		{name: "foreign network", encoded: mutate(func(d *PaymentRequirements) { d.Accepts[0].Network = "base-sepolia" })},
		{name: "bare cluster network", encoded: mutate(func(d *PaymentRequirements) { d.Accepts[0].Network = "devnet" })},
		{name: "non-integer amount", encoded: mutate(func(d *PaymentRequirements) { d.Accepts[0].MaxAmountRequired = "1.5" })},
		{name: "zero amount", encoded: mutate(func(d *PaymentRequirements) { d.Accepts[0].MaxAmountRequired = "0" })},
		{name: "missing payTo address", encoded: mutate(func(d *PaymentRequirements) { d.Accepts[0].PayTo.Address = "" })},
		{name: "missing asset", encoded: mutate(func(d *PaymentRequirements) { d.Accepts[0].PayTo.Asset = "" })},
		{name: "zero timeout", encoded: mutate(func(d *PaymentRequirements) { d.Accepts[0].Timeout = 0 })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRequirements(tt.encoded); err == nil {
				t.Error("DecodeRequirements accepted invalid document")
			}
		})
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	original := PaymentHeader{
		X402Version: ProtocolVersion,
		Scheme:      SchemeExact,
		Network:     NetworkDevnet,
		Payload:     HeaderPayload{Transaction: testSignature},
	}
	encoded, err := EncodeHeader(original)
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	decoded, err := ParsePaymentHeader(encoded)
	if err != nil {
		t.Fatalf("ParsePaymentHeader: %v", err)
	}
	if !reflect.DeepEqual(original, decoded) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, original)
	}
}

func TestParsePaymentHeaderRejects(t *testing.T) {
	encode := func(fn func(*PaymentHeader)) string {
		header := PaymentHeader{
			X402Version: ProtocolVersion,
			Scheme:      SchemeExact,
			Network:     NetworkDevnet,
			Payload:     HeaderPayload{Transaction: testSignature},
		}
		fn(&header)
		encoded, err := EncodeHeader(header)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return encoded
	}

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "whitespace", raw: "   "},
		{name: "not base64", raw: "!!!"},
		{name: "not json", raw: base64.StdEncoding.EncodeToString([]byte("x"))},
		{name: "wrong version", raw: encode(func(h *PaymentHeader) { h.X402Version = 0 })},
		{name: "wrong scheme", raw: encode(func(h *PaymentHeader) { h.Scheme = "streaming" })},
		{name: "foreign network", raw: encode(func(h *PaymentHeader) { h.Network = "eip155:8453" })},
		{name: "short signature", raw: encode(func(h *PaymentHeader) { h.Payload.Transaction = "abc" })},
		{name: "oversized signature", raw: encode(func(h *PaymentHeader) {
			h.Payload.Transaction = testSignature + testSignature
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePaymentHeader(tt.raw)
			if err == nil {
				t.Fatal("ParsePaymentHeader accepted invalid header")
			}
			var verr VerificationError
			if !errors.As(err, &verr) {
				t.Fatalf("error %v is not a VerificationError", err)
			}
			if verr.Code != apierrors.ErrCodeInvalidHeader {
				t.Errorf("code = %s, want INVALID_HEADER", verr.Code)
			}
		})
	}
}

func TestParsePaymentHeaderAcceptsRawBase64(t *testing.T) {
	header := PaymentHeader{
		X402Version: ProtocolVersion,
		Scheme:      SchemeExact,
		Network:     NetworkMainnetBeta,
		Payload:     HeaderPayload{Transaction: testSignature},
	}
	padded, err := EncodeHeader(header)
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	data, _ := base64.StdEncoding.DecodeString(padded)
	raw := base64.RawStdEncoding.EncodeToString(data)

	if _, err := ParsePaymentHeader(raw); err != nil {
		t.Errorf("unpadded base64 rejected: %v", err)
	}
}

func TestSettlementRoundTrip(t *testing.T) {
	original := SettlementResponse{
		Success:     true,
		Transaction: testSignature,
		Network:     NetworkDevnet,
		Payer:       "payerWallet",
	}
	encoded, err := EncodeSettlement(original)
	if err != nil {
		t.Fatalf("EncodeSettlement: %v", err)
	}
	decoded, err := DecodeSettlement(encoded)
	if err != nil {
		t.Fatalf("DecodeSettlement: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip mismatch: %+v", decoded)
	}
}
