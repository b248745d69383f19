package paywall

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gate402/server/internal/callbacks"
	apierrors "github.com/gate402/server/internal/errors"
	"github.com/gate402/server/internal/storage"
	"github.com/gate402/server/pkg/x402"
)

const (
	testWallet = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	testSig    = "5h2nkxGE3yCaQa4PVfTSsVJBcCqYBq2GhcGRVGvJSuPBNvZvWHjNtAWDtauLeDJrBvusGyBHiJMxVXQxJXWt41CL"
)

type fakeVerifier struct {
	result x402.VerificationResult
	err    error
	calls  int
}

func (f *fakeVerifier) VerifyPayment(ctx context.Context, signature, recipient string, requiredMicro uint64) (x402.VerificationResult, error) {
	f.calls++
	return f.result, f.err
}

func testResource() Resource {
	return Resource{
		Path:        "/api/premium",
		PriceUSD:    0.001,
		Description: "Premium API access",
		MimeType:    "application/json",
	}
}

func newTestService(t *testing.T, verifier x402.Verifier, queue storage.Queue, subs []callbacks.Subscriber) *Service {
	t.Helper()
	generator, err := x402.NewChallengeGenerator(testWallet, x402.NetworkDevnet)
	if err != nil {
		t.Fatalf("NewChallengeGenerator: %v", err)
	}
	service, err := NewService(ServiceOptions{
		Generator:   generator,
		Verifier:    verifier,
		Queue:       queue,
		Subscribers: subs,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service
}

func protectedHandler(t *testing.T, sawPayment *Payment) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payment, ok := PaymentFromContext(r.Context())
		if !ok {
			t.Error("downstream handler ran without payment context")
		}
		*sawPayment = payment
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":"premium"}`))
	})
}

func paymentHeader(t *testing.T, signature string) string {
	t.Helper()
	header, err := x402.EncodeHeader(x402.PaymentHeader{
		X402Version: x402.ProtocolVersion,
		Scheme:      x402.SchemeExact,
		Network:     x402.NetworkDevnet,
		Payload:     x402.HeaderPayload{Transaction: signature},
	})
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	return header
}

func TestMiddlewareIssuesChallenge(t *testing.T) {
	service := newTestService(t, &fakeVerifier{}, nil, nil)
	var payment Payment
	handler := service.Middleware(testResource())(protectedHandler(t, &payment))

	req := httptest.NewRequest(http.MethodGet, "/api/premium", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var challenge x402.PaymentRequirements
	if err := json.Unmarshal(rec.Body.Bytes(), &challenge); err != nil {
		t.Fatalf("challenge body does not parse: %v", err)
	}
	if err := challenge.Validate(); err != nil {
		t.Fatalf("challenge invalid: %v", err)
	}
	option := challenge.Accepts[0]
	if option.MaxAmountRequired != "1000" {
		t.Errorf("maxAmountRequired = %s, want 1000 micro for $0.001", option.MaxAmountRequired)
	}
	if option.Resource != "/api/premium" {
		t.Errorf("resource = %s, want /api/premium", option.Resource)
	}
	if option.PayTo.Asset != x402.USDCMintDevnet {
		t.Errorf("asset = %s, want devnet mint", option.PayTo.Asset)
	}
	if option.PayTo.Address == testWallet {
		t.Error("payTo.address is the wallet; must be the derived token account")
	}
}

func TestMiddlewareRejectsInvalidHeader(t *testing.T) {
	verifier := &fakeVerifier{}
	service := newTestService(t, verifier, nil, nil)
	var payment Payment
	handler := service.Middleware(testResource())(protectedHandler(t, &payment))

	req := httptest.NewRequest(http.MethodGet, "/api/premium", nil)
	req.Header.Set(x402.HeaderName, "!!!not-base64!!!")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var challenge x402.PaymentRequirements
	if err := json.Unmarshal(rec.Body.Bytes(), &challenge); err != nil {
		t.Fatalf("body does not parse as challenge: %v", err)
	}
	if want := string(apierrors.ErrCodeInvalidHeader); len(challenge.Error) < len(want) || challenge.Error[:len(want)] != want {
		t.Errorf("challenge error = %q, want it to lead with %s", challenge.Error, want)
	}
	if verifier.calls != 0 {
		t.Errorf("verifier called %d times for invalid header, want 0", verifier.calls)
	}
}

func TestMiddlewareAdmitsVerifiedPayment(t *testing.T) {
	blockTime := time.Unix(1_700_000_000, 0)
	verifier := &fakeVerifier{
		result: x402.VerificationResult{
			Payer:     "payerWallet",
			Amount:    1000,
			Signature: testSig,
			BlockTime: blockTime,
			Slot:      7,
		},
	}
	queue := storage.NewMemoryQueue()
	subs := []callbacks.Subscriber{{URL: "https://example.com/hook", Secret: "shh"}}
	service := newTestService(t, verifier, queue, subs)

	var payment Payment
	handler := service.Middleware(testResource())(protectedHandler(t, &payment))

	req := httptest.NewRequest(http.MethodGet, "/api/premium", nil)
	req.Header.Set(x402.HeaderName, paymentHeader(t, testSig))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	if payment.Payer != "payerWallet" || payment.Amount != 1000 {
		t.Errorf("payment context = %+v", payment)
	}
	if payment.AmountUSD != 0.001 {
		t.Errorf("amountUSD = %v, want 0.001", payment.AmountUSD)
	}
	if payment.Resource != "/api/premium" {
		t.Errorf("resource = %s", payment.Resource)
	}

	if rec.Header().Get(x402.SettlementHeaderName) == "" {
		t.Error("settlement header missing on success")
	}

	if n, _ := queue.Size(context.Background()); n != 1 {
		t.Errorf("queued webhooks = %d, want 1", n)
	}
}

func TestMiddlewareRejectsClientCorrectable(t *testing.T) {
	for _, code := range []apierrors.ErrorCode{
		apierrors.ErrCodeReplayAttack,
		apierrors.ErrCodeTransferMismatch,
		apierrors.ErrCodeTxExpired,
		apierrors.ErrCodeTxNotFound,
	} {
		t.Run(string(code), func(t *testing.T) {
			verifier := &fakeVerifier{err: x402.NewVerificationError(code, errors.New("rejected"))}
			queue := storage.NewMemoryQueue()
			service := newTestService(t, verifier, queue, []callbacks.Subscriber{{URL: "https://example.com/h", Secret: "s"}})

			var payment Payment
			handler := service.Middleware(testResource())(protectedHandler(t, &payment))

			req := httptest.NewRequest(http.MethodGet, "/api/premium", nil)
			req.Header.Set(x402.HeaderName, paymentHeader(t, testSig))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusPaymentRequired {
				t.Fatalf("status = %d, want 402", rec.Code)
			}
			var challenge x402.PaymentRequirements
			if err := json.Unmarshal(rec.Body.Bytes(), &challenge); err != nil {
				t.Fatalf("body does not parse as challenge: %v", err)
			}
			want := string(code)
			if len(challenge.Error) < len(want) || challenge.Error[:len(want)] != want {
				t.Errorf("challenge error = %q, want it to lead with %s", challenge.Error, want)
			}
			if n, _ := queue.Size(context.Background()); n != 0 {
				t.Errorf("queued webhooks = %d on rejection, want 0", n)
			}
		})
	}
}

func TestMiddlewareSurfacesTransientAs500(t *testing.T) {
	for _, code := range []apierrors.ErrorCode{apierrors.ErrCodeRPC, apierrors.ErrCodeVerification} {
		t.Run(string(code), func(t *testing.T) {
			verifier := &fakeVerifier{err: x402.NewVerificationError(code, errors.New("infra down"))}
			service := newTestService(t, verifier, nil, nil)

			var payment Payment
			handler := service.Middleware(testResource())(protectedHandler(t, &payment))

			req := httptest.NewRequest(http.MethodGet, "/api/premium", nil)
			req.Header.Set(x402.HeaderName, paymentHeader(t, testSig))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			var errResp apierrors.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("body does not parse as error response: %v", err)
			}
			if errResp.Error.Code != code {
				t.Errorf("error code = %s, want %s", errResp.Error.Code, code)
			}
			if !errResp.Error.Retryable {
				t.Error("transient error not marked retryable")
			}
		})
	}
}
