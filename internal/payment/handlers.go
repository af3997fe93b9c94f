package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-sika/internal/common"
)

// Handler exposes the payment HTTP surface: initialization, verification in
// both transports and OTP confirmation.
type Handler struct {
	Svc      *Service
	Verifier *Verifier
	OTP      *OTPService
	Logger   zerolog.Logger
}

type initializeResponse struct {
	Success         bool   `json:"success"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	RedirectURL     string `json:"redirectUrl,omitempty"`
	RequiresOTP     bool   `json:"requiresOtp,omitempty"`
	Message         string `json:"message,omitempty"`
	Provider        string `json:"provider,omitempty"`
}

type verifyResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
}

type otpResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type failureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// Initialize handles POST /api/payments/initialize.
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSON(w, http.StatusInternalServerError, failureResponse{Error: "payment handler unavailable"})
		return
	}
	var in InitializeInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSON(w, http.StatusBadRequest, failureResponse{Error: "invalid request body"})
		return
	}
	out, err := h.Svc.Initialize(r.Context(), in)
	if err != nil {
		h.respondFailure(w, err, "initialize payment")
		return
	}
	common.JSON(w, http.StatusOK, initializeResponse{
		Success:         true,
		PaymentIntentID: out.PaymentIntentID,
		RedirectURL:     out.RedirectURL,
		RequiresOTP:     out.RequiresOTP,
		Message:         out.Message,
		Provider:        string(out.Provider),
	})
}

// VerifyRedirect handles the GET provider callback. Every branch answers
// with a redirect; errors surface as the checkout failure marker rather than
// an error page.
func (h *Handler) VerifyRedirect(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Verifier == nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	q := r.URL.Query()
	in := VerifyInput{
		PaymentIntentID: strings.TrimSpace(q.Get("paymentIntentId")),
		Reference:       referenceFromQuery(q.Get("reference"), q.Get("trxref"), q.Get("tx_ref")),
		OrderID:         strings.TrimSpace(q.Get("orderId")),
		Provider:        strings.TrimSpace(q.Get("provider")),
	}
	outcome := h.Verifier.Verify(r.Context(), in)
	if outcome.Err != nil {
		h.Logger.Warn().Err(outcome.Err).Str("order_id", in.OrderID).Msg("payment verification callback failed")
	}
	http.Redirect(w, r, outcome.Redirect, http.StatusFound)
}

// VerifyStatus handles the POST polling transport.
func (h *Handler) VerifyStatus(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Verifier == nil {
		common.JSON(w, http.StatusInternalServerError, failureResponse{Error: "payment handler unavailable"})
		return
	}
	var body struct {
		PaymentIntentID string `json:"paymentIntentId"`
		Reference       string `json:"reference"`
		OrderID         string `json:"orderId"`
		Provider        string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		common.JSON(w, http.StatusBadRequest, failureResponse{Error: "invalid request body"})
		return
	}
	in := VerifyInput{
		PaymentIntentID: strings.TrimSpace(body.PaymentIntentID),
		Reference:       strings.TrimSpace(body.Reference),
		OrderID:         strings.TrimSpace(body.OrderID),
		Provider:        strings.TrimSpace(body.Provider),
	}
	if in.empty() {
		common.JSON(w, http.StatusBadRequest, failureResponse{Error: "one of paymentIntentId, reference or orderId is required"})
		return
	}
	outcome := h.Verifier.Verify(r.Context(), in)
	if outcome.Err != nil {
		h.respondFailure(w, outcome.Err, "verify payment")
		return
	}
	common.JSON(w, http.StatusOK, verifyResponse{
		Success: true,
		Status:  string(outcome.Status),
		OrderID: outcome.OrderID,
	})
}

// VerifyOTP handles POST /api/payments/verify-otp. Business failures answer
// 200 with success=false so storefront clients can render the provider's
// message inline.
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.OTP == nil {
		common.JSON(w, http.StatusInternalServerError, failureResponse{Error: "payment handler unavailable"})
		return
	}
	var in OTPInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSON(w, http.StatusBadRequest, failureResponse{Error: "invalid request body"})
		return
	}
	out, err := h.OTP.Confirm(r.Context(), in)
	if err != nil {
		var appErr *common.AppError
		if errors.As(err, &appErr) && appErr.Code == "VALIDATION_ERROR" {
			common.JSON(w, appErr.HTTPStatus, failureResponse{Error: appErr.Message, Details: appErr.Details})
			return
		}
		h.Logger.Warn().Err(err).Str("reference", in.Reference).Msg("otp confirmation failed")
		common.JSON(w, http.StatusOK, otpResponse{Success: false, Error: err.Error()})
		return
	}
	common.JSON(w, http.StatusOK, otpResponse{Success: true, Message: out.Message})
}

func (h *Handler) respondFailure(w http.ResponseWriter, err error, action string) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		common.JSON(w, appErr.Status(), failureResponse{Error: appErr.Message, Details: appErr.Details})
		return
	}
	h.Logger.Error().Err(err).Msgf("%s: unexpected error", action)
	common.JSON(w, http.StatusInternalServerError, failureResponse{Error: "internal error"})
}

func referenceFromQuery(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
