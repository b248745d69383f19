package callbacks

import (
	"strings"
	"testing"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"event":"payment.verified","timestamp":1700000000000,"data":{"signature":"abc"}}`)
	secret := "whsec_test"

	header := Sign(secret, body)
	if !strings.HasPrefix(header, "sha256=") {
		t.Fatalf("signature %q missing sha256= prefix", header)
	}
	if len(header) != len("sha256=")+64 {
		t.Fatalf("signature length %d, want prefix + 64 hex chars", len(header))
	}

	if !VerifySignature(secret, body, header) {
		t.Error("prefixed signature does not verify")
	}
	if !VerifySignature(secret, body, strings.TrimPrefix(header, "sha256=")) {
		t.Error("bare hex signature does not verify")
	}
}

func TestVerifySignatureRejects(t *testing.T) {
	body := []byte(`{"event":"payment.verified"}`)
	secret := "whsec_test"
	header := Sign(secret, body)

	tests := []struct {
		name   string
		secret string
		body   []byte
		header string
	}{
		{name: "wrong secret", secret: "other", body: body, header: header},
		{name: "tampered body", secret: secret, body: []byte(`{"event":"payment.failed"}`), header: header},
		{name: "empty header", secret: secret, body: body, header: ""},
		{name: "short hex", secret: secret, body: body, header: "sha256=abcd"},
		{name: "non-hex", secret: secret, body: body, header: "sha256=" + strings.Repeat("zz", 32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifySignature(tt.secret, tt.body, tt.header) {
				t.Error("signature verified, want rejection")
			}
		})
	}
}
