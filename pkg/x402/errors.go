package x402

import (
	"fmt"

	apierrors "github.com/gate402/server/internal/errors"
)

// VerificationError classifies failures encountered while validating a
// payment. Code drives the HTTP status and the cache policy; Err carries the
// technical cause for logging.
type VerificationError struct {
	Code    apierrors.ErrorCode
	Message string
	Err     error
}

func (e VerificationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e VerificationError) Unwrap() error {
	return e.Err
}

// NewVerificationError creates a verification error with a user-facing message.
func NewVerificationError(code apierrors.ErrorCode, err error) VerificationError {
	return VerificationError{
		Code:    code,
		Message: userMessage(code),
		Err:     err,
	}
}

// userMessage converts error codes to messages safe to show the payer.
func userMessage(code apierrors.ErrorCode) string {
	switch code {
	case apierrors.ErrCodeInvalidHeader:
		return "Payment header could not be parsed. Re-read the challenge and try again."
	case apierrors.ErrCodeTxNotFound:
		return "Transaction not found on the ledger. It may still be propagating; try again shortly."
	case apierrors.ErrCodeTxFailed:
		return "Transaction failed on the ledger. Submit a fresh transfer."
	case apierrors.ErrCodeNoTokenTransfer:
		return "Transaction contains no transfer of the required token."
	case apierrors.ErrCodeTransferMismatch:
		return "Transfer does not match the challenge: check the recipient account and amount."
	case apierrors.ErrCodeTxExpired:
		return "Transaction is older than the payment window. Submit a fresh transfer."
	case apierrors.ErrCodeReplayAttack:
		return "This payment has already been used. Each transfer satisfies exactly one request."
	case apierrors.ErrCodeRPC:
		return "Ledger RPC is temporarily unavailable. Retry the request."
	default:
		return fmt.Sprintf("Payment verification failed: %s", code)
	}
}
