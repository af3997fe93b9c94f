package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// ID enumerates the supported payment providers. Selection is resolved
// through a Registry at call time; unknown identifiers fail at the edge
// instead of falling through string-keyed dispatch.
type ID string

const (
	// Moolre is the Ghanaian mobile-money provider.
	Moolre ID = "moolre"
)

// ParseID normalises a raw provider name, defaulting to fallback when empty.
func ParseID(value string, fallback ID) (ID, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return fallback, nil
	}
	switch ID(trimmed) {
	case Moolre:
		return Moolre, nil
	}
	return "", fmt.Errorf("provider: unsupported provider %q", trimmed)
}

// Status is the normalised payment state reported by a provider.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// InitializeRequest carries everything a provider needs to open a payment session.
type InitializeRequest struct {
	OrderID        string
	AmountMinor    int64
	Currency       string
	CustomerEmail  string
	CustomerName   string
	CustomerPhone  string
	CallbackURL    string
	IdempotencyKey string
	Metadata       map[string]any
}

// InitializeResult is the uniform shape every adapter returns on success.
// Redirect-based channels set RedirectURL; OTP channels set RequiresOTP and
// a customer-facing message instead.
type InitializeResult struct {
	Reference   string
	RedirectURL string
	RequiresOTP bool
	Message     string
}

// VerifyResult reports the provider-side state of a payment attempt.
type VerifyResult struct {
	Status    Status
	Reference string
	OrderID   string
	Raw       []byte
}

// OTPChargeRequest confirms a mobile-money charge with the customer's one-time code.
// Amount is in major currency units, as displayed to the customer.
type OTPChargeRequest struct {
	Reference string
	Phone     string
	OTP       string
	Amount    float64
	OrderID   string
}

// OTPChargeResult is the outcome of an OTP-confirmed charge.
type OTPChargeResult struct {
	Message string
}

// WebhookResult contains the normalised payload extracted from a provider
// callback after signature verification.
type WebhookResult struct {
	Valid     bool
	Reference string
	OrderID   string
	Status    Status
	Payload   []byte
	Err       error
}

// Client abstracts the operations required from an upstream payment provider.
// Implementations convert transport and provider-side failures into *Error so
// callers can render the message directly; raw network errors never cross
// this boundary.
type Client interface {
	Initialize(ctx context.Context, req InitializeRequest) (InitializeResult, error)
	Verify(ctx context.Context, reference string) (VerifyResult, error)
	ChargeOTP(ctx context.Context, req OTPChargeRequest) (OTPChargeResult, error)
	VerifyWebhook(r *http.Request, body []byte) (WebhookResult, error)
}

// Error is a provider-reported or transport failure safe to surface to callers.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
