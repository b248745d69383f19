package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	apierrors "github.com/gate402/server/internal/errors"
	"github.com/gate402/server/pkg/responders"
	"github.com/gate402/server/pkg/x402"
)

const (
	testTokenAccount = "7UX2i7SucgLMQcfZ75s3VXmZZY4YRUyJN9X1RgfMoDUi"
	testSignature    = "5h2nkxGE3yCaQa4PVfTSsVJBcCqYBq2GhcGRVGvJSuPBNvZvWHjNtAWDtauLeDJrBvusGyBHiJMxVXQxJXWt41CL"
)

type fakeSender struct {
	mu        sync.Mutex
	balance   uint64
	signature string
	sendErr   error
	block     bool // when set, SendToken waits out the context
	sent      []uint64
}

func (f *fakeSender) Wallet() string { return "payerWallet" }

func (f *fakeSender) Balance(ctx context.Context, mint string) (uint64, error) {
	return f.balance, nil
}

func (f *fakeSender) SendToken(ctx context.Context, dest string, amount uint64, mint string) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, amount)
	f.mu.Unlock()
	return f.signature, nil
}

// paywalledServer answers 402 until a payment header naming wantSig arrives.
func paywalledServer(t *testing.T, wantSig string, timeout int) *httptest.Server {
	t.Helper()
	challenge := x402.PaymentRequirements{
		X402Version: x402.ProtocolVersion,
		Accepts: []x402.PaymentOption{{
			Scheme:            x402.SchemeExact,
			Network:           x402.NetworkDevnet,
			MaxAmountRequired: "1000",
			PayTo:             x402.PayTo{Address: testTokenAccount, Asset: x402.USDCMintDevnet},
			Resource:          "/api/premium",
			Description:       "premium",
			Timeout:           timeout,
			MimeType:          "application/json",
		}},
		Error: "Payment required",
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(x402.HeaderName)
		if raw == "" {
			responders.JSON(w, http.StatusPaymentRequired, challenge)
			return
		}
		header, err := x402.ParsePaymentHeader(raw)
		if err != nil || header.Payload.Transaction != wantSig {
			challenge.Error = "TRANSFER_MISMATCH"
			responders.JSON(w, http.StatusPaymentRequired, challenge)
			return
		}
		responders.JSON(w, http.StatusOK, map[string]string{"data": "premium"})
	}))
}

func TestAgentPaysAndRetries(t *testing.T) {
	server := paywalledServer(t, testSignature, 60)
	defer server.Close()

	sender := &fakeSender{balance: 5000, signature: testSignature}
	agent, err := New(sender, x402.NetworkDevnet)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := agent.Get(context.Background(), server.URL+"/api/premium")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if len(sender.sent) != 1 || sender.sent[0] != 1000 {
		t.Errorf("sent transfers = %v, want one of 1000 micro", sender.sent)
	}
}

func TestAgentPassesThroughNon402(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		responders.JSON(w, http.StatusOK, map[string]string{"data": "free"})
	}))
	defer server.Close()

	sender := &fakeSender{balance: 5000, signature: testSignature}
	agent, _ := New(sender, x402.NetworkDevnet)

	resp, err := agent.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(sender.sent) != 0 {
		t.Errorf("agent paid %v for a 200 response", sender.sent)
	}
}

func TestAgentNoAutoRetry(t *testing.T) {
	server := paywalledServer(t, testSignature, 60)
	defer server.Close()

	sender := &fakeSender{balance: 5000, signature: testSignature}
	agent, _ := New(sender, x402.NetworkDevnet, WithoutAutoRetry())

	resp, err := agent.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want untouched 402", resp.StatusCode)
	}
	if len(sender.sent) != 0 {
		t.Errorf("agent paid with autoRetry disabled: %v", sender.sent)
	}
}

func TestAgentInsufficientBalance(t *testing.T) {
	server := paywalledServer(t, testSignature, 60)
	defer server.Close()

	sender := &fakeSender{balance: 500, signature: testSignature}
	agent, _ := New(sender, x402.NetworkDevnet)

	_, err := agent.Get(context.Background(), server.URL)
	var perr PaymentError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want PaymentError", err)
	}
	if perr.Code != apierrors.ErrCodeInsufficientBalance {
		t.Errorf("code = %s, want INSUFFICIENT_BALANCE", perr.Code)
	}
	if len(sender.sent) != 0 {
		t.Errorf("agent attempted transfer despite low balance: %v", sender.sent)
	}
}

func TestAgentUnsupportedNetwork(t *testing.T) {
	server := paywalledServer(t, testSignature, 60)
	defer server.Close()

	sender := &fakeSender{balance: 5000, signature: testSignature}
	agent, _ := New(sender, x402.NetworkMainnetBeta)

	_, err := agent.Get(context.Background(), server.URL)
	var perr PaymentError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want PaymentError", err)
	}
	if perr.Code != apierrors.ErrCodeUnsupportedRequirements {
		t.Errorf("code = %s, want UNSUPPORTED_PAYMENT_REQUIREMENTS", perr.Code)
	}
}

func TestAgentPaymentTimeout(t *testing.T) {
	server := paywalledServer(t, testSignature, 1)
	defer server.Close()

	sender := &fakeSender{balance: 5000, block: true}
	agent, _ := New(sender, x402.NetworkDevnet)

	_, err := agent.Get(context.Background(), server.URL)
	var perr PaymentError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want PaymentError", err)
	}
	if perr.Code != apierrors.ErrCodePaymentTimeout {
		t.Errorf("code = %s, want PAYMENT_TIMEOUT", perr.Code)
	}
}

func TestAgentDoesNotDoublePay(t *testing.T) {
	// Server never accepts the payment; the agent must return the second 402
	// rather than paying again.
	server := paywalledServer(t, "some-other-signature-the-server-wants-instead-0000000000000000000", 60)
	defer server.Close()

	sender := &fakeSender{balance: 5000, signature: testSignature}
	agent, _ := New(sender, x402.NetworkDevnet)

	resp, err := agent.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want the second 402 returned as-is", resp.StatusCode)
	}
	if len(sender.sent) != 1 {
		t.Errorf("agent paid %d times, want exactly 1", len(sender.sent))
	}
}
