package payment_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-sika/internal/common"
	"github.com/noah-isme/backend-sika/internal/intent"
	"github.com/noah-isme/backend-sika/internal/payment"
	"github.com/noah-isme/backend-sika/internal/provider"
)

func TestOTPConfirmMovesIntentToProcessing(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	prov := &stubProvider{otpResult: provider.OTPChargeResult{Message: "Approve the prompt on your phone."}}
	svc := &payment.OTPService{Store: store, Registry: newStubRegistry(prov)}

	it := seedIntent(store, intent.StatusPending, "TX-OTP")
	out, err := svc.Confirm(context.Background(), payment.OTPInput{
		Reference: "TX-OTP",
		Phone:     "233201234567",
		OTP:       "123456",
	})
	require.NoError(t, err)
	require.Equal(t, "Approve the prompt on your phone.", out.Message)
	require.Equal(t, it.ID, out.PaymentIntentID)

	stored, err := store.GetByID(context.Background(), it.ID)
	require.NoError(t, err)
	// An accepted OTP means the charge awaits handset approval, never settlement.
	require.Equal(t, intent.StatusProcessing, stored.Status)

	require.Equal(t, 1, prov.otpCalls)
	require.Equal(t, it.OrderID, prov.lastOTP.OrderID)
	require.InDelta(t, 100.50, prov.lastOTP.Amount, 0.001)
}

func TestOTPConfirmValidationCollectsAllFields(t *testing.T) {
	t.Parallel()

	svc := &payment.OTPService{Store: newStubStore(), Registry: newStubRegistry(&stubProvider{})}

	_, err := svc.Confirm(context.Background(), payment.OTPInput{})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "VALIDATION_ERROR", appErr.Code)
	require.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)

	details, ok := appErr.Details.([]payment.FieldError)
	require.True(t, ok)
	require.Len(t, details, 3)
	fields := map[string]bool{}
	for _, d := range details {
		fields[d.Field] = true
	}
	require.True(t, fields["reference"] && fields["phone"] && fields["otp"])
}

func TestOTPConfirmUnknownReferenceNotFound(t *testing.T) {
	t.Parallel()

	svc := &payment.OTPService{Store: newStubStore(), Registry: newStubRegistry(&stubProvider{})}

	_, err := svc.Confirm(context.Background(), payment.OTPInput{
		Reference: "TX-MISSING",
		Phone:     "233201234567",
		OTP:       "123456",
	})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "INTENT_NOT_FOUND", appErr.Code)
	require.Equal(t, http.StatusNotFound, appErr.HTTPStatus)
}

func TestOTPConfirmFallsBackToExplicitOrderID(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	prov := &stubProvider{}
	svc := &payment.OTPService{Store: store, Registry: newStubRegistry(prov)}

	it := seedIntent(store, intent.StatusPending, "")
	out, err := svc.Confirm(context.Background(), payment.OTPInput{
		Reference: "TX-LOST",
		Phone:     "233201234567",
		OTP:       "123456",
		OrderID:   it.OrderID,
	})
	require.NoError(t, err)
	require.Equal(t, it.OrderID, out.OrderID)
	require.Equal(t, 1, prov.otpCalls)
}

func TestOTPConfirmProviderRejection(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	prov := &stubProvider{otpErr: &provider.Error{Code: "TP20", Message: "invalid otp"}}
	svc := &payment.OTPService{Store: store, Registry: newStubRegistry(prov)}

	it := seedIntent(store, intent.StatusPending, "TX-BAD")
	_, err := svc.Confirm(context.Background(), payment.OTPInput{
		Reference: "TX-BAD",
		Phone:     "233201234567",
		OTP:       "000000",
	})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "PROVIDER_ERROR", appErr.Code)
	require.Contains(t, appErr.Message, "invalid otp")

	stored, err := store.GetByID(context.Background(), it.ID)
	require.NoError(t, err)
	require.Equal(t, intent.StatusPending, stored.Status)
}

func TestOTPConfirmDefaultMessage(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	prov := &stubProvider{}
	svc := &payment.OTPService{Store: store, Registry: newStubRegistry(prov)}

	seedIntent(store, intent.StatusPending, "TX-MSG")
	out, err := svc.Confirm(context.Background(), payment.OTPInput{
		Reference: "TX-MSG",
		Phone:     "233201234567",
		OTP:       "123456",
	})
	require.NoError(t, err)
	require.Contains(t, out.Message, "Approve the prompt on your phone")
}
