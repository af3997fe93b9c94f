package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// HTTPDoer is the outbound transport the Moolre adapter calls through. The
// resilience wrapper satisfies it, giving every provider call a bounded
// timeout, retries and a circuit breaker.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// MoolreClient implements Client against the Moolre open API (mobile money, GHS).
type MoolreClient struct {
	APIUser       string
	APIKey        string
	AccountNumber string
	BaseURL       string
	HTTP          HTTPDoer
}

const moolreDefaultBaseURL = "https://api.moolre.com"

// Moolre wire shapes. The open API wraps every response in
// {status, code, message, data}.
type moolrePaymentRequest struct {
	Type          int    `json:"type"`
	Channel       int    `json:"channel"`
	Currency      string `json:"currency"`
	Amount        string `json:"amount"`
	Payer         string `json:"payer,omitempty"`
	Email         string `json:"email,omitempty"`
	ExternalRef   string `json:"externalref"`
	Reference     string `json:"reference"`
	OTPCode       string `json:"otpcode,omitempty"`
	AccountNumber string `json:"accountnumber"`
	RedirectURL   string `json:"redirecturl,omitempty"`
	Description   string `json:"description,omitempty"`
}

type moolreStatusRequest struct {
	Type          int    `json:"type"`
	IDType        string `json:"idtype"`
	ID            string `json:"id"`
	AccountNumber string `json:"accountnumber"`
}

type moolreEnvelope struct {
	Status  int             `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type moolrePaymentData struct {
	TransactionID string `json:"transactionid"`
	CheckoutURL   string `json:"checkouturl"`
}

type moolreStatusData struct {
	TransactionID string `json:"transactionid"`
	ExternalRef   string `json:"externalref"`
	TxStatus      int    `json:"txstatus"`
}

// moolreOTPPending is the response code Moolre returns once an OTP or
// approval prompt has been pushed to the customer's handset.
const moolreOTPPending = "TP14"

// Initialize opens a payment session. Channels with a hosted checkout come
// back with a redirect URL; direct mobile-money charges come back as an OTP
// challenge for the customer's handset.
func (m MoolreClient) Initialize(ctx context.Context, req InitializeRequest) (InitializeResult, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return InitializeResult{}, newError("INVALID_REQUEST", "order id is required", nil)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "GHS"
	}
	payload := moolrePaymentRequest{
		Type:          1,
		Channel:       13,
		Currency:      currency,
		Amount:        fmt.Sprintf("%.2f", float64(req.AmountMinor)/100),
		Payer:         strings.TrimSpace(req.CustomerPhone),
		Email:         strings.TrimSpace(req.CustomerEmail),
		ExternalRef:   req.OrderID,
		Reference:     req.IdempotencyKey,
		AccountNumber: m.AccountNumber,
		RedirectURL:   req.CallbackURL,
	}
	env, err := m.post(ctx, "/open/transact/payment", payload)
	if err != nil {
		return InitializeResult{}, err
	}
	var data moolrePaymentData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return InitializeResult{}, newError("PROVIDER_RESPONSE", "unreadable provider response", err)
		}
	}
	reference := data.TransactionID
	if reference == "" {
		reference = req.IdempotencyKey
	}
	if env.Code == moolreOTPPending {
		msg := env.Message
		if msg == "" {
			msg = "Enter the OTP sent to your phone to continue."
		}
		return InitializeResult{Reference: reference, RequiresOTP: true, Message: msg}, nil
	}
	if env.Status != 1 {
		return InitializeResult{}, newError(env.Code, failureMessage(env.Message), nil)
	}
	if data.CheckoutURL == "" {
		return InitializeResult{}, newError("PROVIDER_RESPONSE", "provider returned no redirect url", nil)
	}
	return InitializeResult{Reference: reference, RedirectURL: data.CheckoutURL}, nil
}

// Verify re-queries the provider-side state of a payment attempt.
func (m MoolreClient) Verify(ctx context.Context, reference string) (VerifyResult, error) {
	if strings.TrimSpace(reference) == "" {
		return VerifyResult{}, newError("INVALID_REQUEST", "reference is required", nil)
	}
	payload := moolreStatusRequest{
		Type:          1,
		IDType:        "TRANSID",
		ID:            reference,
		AccountNumber: m.AccountNumber,
	}
	env, err := m.post(ctx, "/open/transact/status", payload)
	if err != nil {
		return VerifyResult{}, err
	}
	if env.Status != 1 {
		return VerifyResult{}, newError(env.Code, failureMessage(env.Message), nil)
	}
	var data moolreStatusData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return VerifyResult{}, newError("PROVIDER_RESPONSE", "unreadable provider response", err)
	}
	return VerifyResult{
		Status:    normaliseMoolreStatus(data.TxStatus),
		Reference: data.TransactionID,
		OrderID:   data.ExternalRef,
		Raw:       env.Data,
	}, nil
}

// ChargeOTP confirms a pending mobile-money charge with the customer's code.
// Success means the charge is now awaiting approval on the handset, not that
// funds have moved.
func (m MoolreClient) ChargeOTP(ctx context.Context, req OTPChargeRequest) (OTPChargeResult, error) {
	if strings.TrimSpace(req.Reference) == "" || strings.TrimSpace(req.OTP) == "" {
		return OTPChargeResult{}, newError("INVALID_REQUEST", "reference and otp are required", nil)
	}
	payload := moolrePaymentRequest{
		Type:          1,
		Channel:       13,
		Currency:      "GHS",
		Amount:        fmt.Sprintf("%.2f", req.Amount),
		Payer:         strings.TrimSpace(req.Phone),
		ExternalRef:   req.OrderID,
		Reference:     req.Reference,
		OTPCode:       strings.TrimSpace(req.OTP),
		AccountNumber: m.AccountNumber,
	}
	env, err := m.post(ctx, "/open/transact/payment", payload)
	if err != nil {
		return OTPChargeResult{}, err
	}
	if env.Status != 1 && env.Code != moolreOTPPending {
		return OTPChargeResult{}, newError(env.Code, failureMessage(env.Message), nil)
	}
	msg := env.Message
	if msg == "" {
		msg = "Charge initiated. Approve the prompt on your phone to complete payment."
	}
	return OTPChargeResult{Message: msg}, nil
}

// VerifyWebhook validates the callback signature and normalises the payload.
func (m MoolreClient) VerifyWebhook(r *http.Request, body []byte) (WebhookResult, error) {
	expected := m.computeSignature(body)
	provided := strings.TrimSpace(r.Header.Get("X-Moolre-Signature"))
	if expected == "" || provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return WebhookResult{Valid: false, Err: errors.New("invalid signature")}, nil
	}
	var payload struct {
		TransactionID string `json:"transactionid"`
		ExternalRef   string `json:"externalref"`
		TxStatus      int    `json:"txstatus"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookResult{Valid: false, Err: err}, nil
	}
	if payload.TransactionID == "" && payload.ExternalRef == "" {
		return WebhookResult{Valid: false, Err: errors.New("missing transaction reference")}, nil
	}
	return WebhookResult{
		Valid:     true,
		Reference: payload.TransactionID,
		OrderID:   payload.ExternalRef,
		Status:    normaliseMoolreStatus(payload.TxStatus),
		Payload:   body,
	}, nil
}

func (m MoolreClient) post(ctx context.Context, path string, payload any) (moolreEnvelope, error) {
	if m.HTTP == nil {
		return moolreEnvelope{}, newError("NOT_CONFIGURED", "payment provider unavailable", nil)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return moolreEnvelope{}, newError("INVALID_REQUEST", "unable to encode provider request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.host()+path, bytes.NewReader(body))
	if err != nil {
		return moolreEnvelope{}, newError("INVALID_REQUEST", "unable to build provider request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-USER", m.APIUser)
	req.Header.Set("X-API-PUBKEY", m.APIKey)

	resp, err := m.HTTP.Do(ctx, req)
	if err != nil {
		return moolreEnvelope{}, newError("PROVIDER_UNREACHABLE", "payment provider is unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env moolreEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return moolreEnvelope{}, newError("PROVIDER_RESPONSE", "unreadable provider response", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return moolreEnvelope{}, newError(env.Code, failureMessage(env.Message), nil)
	}
	return env, nil
}

func (m MoolreClient) host() string {
	host := strings.TrimRight(strings.TrimSpace(m.BaseURL), "/")
	if host == "" {
		return moolreDefaultBaseURL
	}
	return host
}

func (m MoolreClient) computeSignature(body []byte) string {
	key := strings.TrimSpace(m.APIKey)
	if key == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func failureMessage(message string) string {
	if strings.TrimSpace(message) == "" {
		return "payment provider rejected the request"
	}
	return message
}

// Moolre txstatus: 1 paid, 0 awaiting confirmation, anything else failed.
func normaliseMoolreStatus(txStatus int) Status {
	switch txStatus {
	case 1:
		return StatusSucceeded
	case 0:
		return StatusPending
	default:
		return StatusFailed
	}
}
