package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-sika/internal/common"
	"github.com/noah-isme/backend-sika/internal/intent"
	"github.com/noah-isme/backend-sika/internal/obs"
	"github.com/noah-isme/backend-sika/internal/provider"
)

// OTPService confirms mobile-money charges with the customer's one-time code.
type OTPService struct {
	Store    IntentStore
	Registry *provider.Registry
}

// OTPInput is the OTP confirmation request. OrderID is an explicit fallback
// for callers that lost the provider reference; the reference is never
// silently reinterpreted as an order identifier.
type OTPInput struct {
	Reference string  `json:"reference"`
	Phone     string  `json:"phone"`
	OTP       string  `json:"otp"`
	Amount    float64 `json:"amount,omitempty"`
	OrderID   string  `json:"orderId,omitempty"`
}

// OTPOutput carries the customer-facing confirmation message.
type OTPOutput struct {
	Message         string
	PaymentIntentID string
	OrderID         string
}

// Confirm resolves the stored intent, submits the OTP charge and moves the
// intent to processing. The charge still awaits approval on the handset, so
// the intent never jumps straight to succeeded here.
func (o *OTPService) Confirm(ctx context.Context, in OTPInput) (OTPOutput, error) {
	var zero OTPOutput
	if o == nil || o.Store == nil || o.Registry == nil {
		return zero, errors.New("otp service not configured")
	}
	ctx, span := otel.Tracer("payment.OTPService").Start(ctx, "PaymentOTP.Confirm")
	defer span.End()

	providerLabel := "unknown"
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", providerLabel),
			attribute.String("payment.otp.result", result),
		)
		if obs.PaymentOTPTotal != nil {
			obs.PaymentOTPTotal.WithLabelValues(providerLabel, result).Inc()
		}
	}()

	var details []FieldError
	if strings.TrimSpace(in.Reference) == "" {
		details = append(details, FieldError{Field: "reference", Rule: "required"})
	}
	if strings.TrimSpace(in.Phone) == "" {
		details = append(details, FieldError{Field: "phone", Rule: "required"})
	}
	if strings.TrimSpace(in.OTP) == "" {
		details = append(details, FieldError{Field: "otp", Rule: "required"})
	}
	if len(details) > 0 {
		result = "invalid"
		return zero, &common.AppError{
			Code:       "VALIDATION_ERROR",
			Message:    "invalid otp request",
			HTTPStatus: http.StatusBadRequest,
			Details:    details,
		}
	}

	it, err := o.resolveIntent(ctx, in)
	if err != nil {
		result = "not_found"
		return zero, common.NewAppError("INTENT_NOT_FOUND", "no payment intent matches the reference", http.StatusNotFound, err)
	}
	providerLabel = it.Provider
	span.SetAttributes(attribute.String("order.id", it.OrderID))

	_, client, err := o.Registry.Resolve(it.Provider)
	if err != nil {
		return zero, common.NewAppError("PROVIDER_NOT_SUPPORTED", err.Error(), http.StatusBadRequest, err)
	}

	amount := in.Amount
	if it.AmountMinor > 0 {
		amount = it.DisplayAmount()
	}

	charge, err := client.ChargeOTP(ctx, provider.OTPChargeRequest{
		Reference: strings.TrimSpace(in.Reference),
		Phone:     strings.TrimSpace(in.Phone),
		OTP:       strings.TrimSpace(in.OTP),
		Amount:    amount,
		OrderID:   it.OrderID,
	})
	if err != nil {
		span.RecordError(err)
		result = "provider_error"
		return zero, common.NewAppError("PROVIDER_ERROR", err.Error(), http.StatusBadRequest, err)
	}

	updated, err := o.Store.Transition(ctx, it.ID, intent.StatusProcessing, toJSON(map[string]any{"message": charge.Message}))
	if err != nil && !errors.Is(err, intent.ErrStaleTransition) {
		return zero, err
	}
	if errors.Is(err, intent.ErrStaleTransition) {
		updated = it
	}

	result = "success"
	message := charge.Message
	if message == "" {
		message = "Charge initiated. Approve the prompt on your phone to complete payment."
	}
	return OTPOutput{Message: message, PaymentIntentID: updated.ID, OrderID: updated.OrderID}, nil
}

func (o *OTPService) resolveIntent(ctx context.Context, in OTPInput) (intent.Intent, error) {
	it, err := o.Store.GetByProviderReference(ctx, strings.TrimSpace(in.Reference))
	if err == nil || !errors.Is(err, intent.ErrNotFound) {
		return it, err
	}
	if orderID := strings.TrimSpace(in.OrderID); orderID != "" {
		return o.Store.GetLatestByOrder(ctx, orderID)
	}
	return intent.Intent{}, intent.ErrNotFound
}
