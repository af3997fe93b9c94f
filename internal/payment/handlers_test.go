package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-sika/internal/intent"
	"github.com/noah-isme/backend-sika/internal/payment"
	"github.com/noah-isme/backend-sika/internal/provider"
)

func newTestRouter(store *stubStore, prov *stubProvider) http.Handler {
	registry := newStubRegistry(prov)
	handler := &payment.Handler{
		Svc:      &payment.Service{Store: store, Registry: registry, PublicBaseURL: "https://shop.example.com"},
		Verifier: &payment.Verifier{Store: store, Registry: registry},
		OTP:      &payment.OTPService{Store: store, Registry: registry},
		Logger:   zerolog.Nop(),
	}
	r := chi.NewRouter()
	r.Post("/api/payments/initialize", handler.Initialize)
	r.Get("/api/payments/verify", handler.VerifyRedirect)
	r.Post("/api/payments/verify", handler.VerifyStatus)
	r.Post("/api/payments/verify-otp", handler.VerifyOTP)
	return r
}

func TestInitializeEndpoint(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	prov := &stubProvider{initResult: provider.InitializeResult{
		Reference:   "TX-HTTP",
		RedirectURL: "https://checkout.example.com/tx-http",
	}}
	srv := httptest.NewServer(newTestRouter(store, prov))
	defer srv.Close()

	body := map[string]any{
		"orderId":       uuid.NewString(),
		"amountMinor":   10050,
		"customerEmail": "buyer@example.com",
		"customerPhone": "233201234567",
	}
	payloadBytes, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/payments/initialize", "application/json", bytes.NewReader(payloadBytes))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Success         bool   `json:"success"`
		PaymentIntentID string `json:"paymentIntentId"`
		RedirectURL     string `json:"redirectUrl"`
		Provider        string `json:"provider"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.Success)
	require.NotEmpty(t, out.PaymentIntentID)
	require.Equal(t, "https://checkout.example.com/tx-http", out.RedirectURL)
	require.Equal(t, "moolre", out.Provider)
}

func TestInitializeEndpointValidationDetails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestRouter(newStubStore(), &stubProvider{}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/payments/initialize", "application/json",
		strings.NewReader(`{"orderId":"nope","amountMinor":0,"customerEmail":"bad"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out struct {
		Success bool `json:"success"`
		Details []struct {
			Field string `json:"field"`
			Rule  string `json:"rule"`
		} `json:"details"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.False(t, out.Success)
	require.Len(t, out.Details, 3)

	fields := make([]string, 0, len(out.Details))
	for _, d := range out.Details {
		fields = append(fields, d.Field)
	}
	require.ElementsMatch(t, []string{"orderId", "amountMinor", "customerEmail"}, fields)
}

func TestVerifyRedirectEndpoint(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	prov := &stubProvider{verifyResult: provider.VerifyResult{Status: provider.StatusSucceeded, Reference: "TX-GET"}}
	it := seedIntent(store, intent.StatusPending, "TX-GET")

	srv := httptest.NewServer(newTestRouter(store, prov))
	defer srv.Close()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(srv.URL + "/api/payments/verify?reference=TX-GET")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/order-confirmation?orderId="+it.OrderID+"&status=success", resp.Header.Get("Location"))
}

func TestVerifyRedirectEndpointNoIdentifiers(t *testing.T) {
	t.Parallel()

	prov := &stubProvider{}
	srv := httptest.NewServer(newTestRouter(newStubStore(), prov))
	defer srv.Close()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(srv.URL + "/api/payments/verify")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))
	require.Zero(t, prov.verifyCalls)
}

func TestVerifyRedirectEndpointFoldsReferenceAliases(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	prov := &stubProvider{verifyResult: provider.VerifyResult{Status: provider.StatusSucceeded, Reference: "TX-ALIAS"}}
	it := seedIntent(store, intent.StatusPending, "TX-ALIAS")

	srv := httptest.NewServer(newTestRouter(store, prov))
	defer srv.Close()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(srv.URL + "/api/payments/verify?trxref=TX-ALIAS")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/order-confirmation?orderId="+it.OrderID+"&status=success", resp.Header.Get("Location"))
}

func TestVerifyStatusEndpointRequiresIdentifier(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestRouter(newStubStore(), &stubProvider{}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/payments/verify", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVerifyStatusEndpoint(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	prov := &stubProvider{verifyResult: provider.VerifyResult{Status: provider.StatusPending, Reference: "TX-POLL"}}
	it := seedIntent(store, intent.StatusPending, "TX-POLL")

	srv := httptest.NewServer(newTestRouter(store, prov))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/payments/verify", "application/json",
		strings.NewReader(`{"orderId":"`+it.OrderID+`"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Success bool   `json:"success"`
		Status  string `json:"status"`
		OrderID string `json:"orderId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.Success)
	require.Equal(t, "pending", out.Status)
	require.Equal(t, it.OrderID, out.OrderID)
}

func TestVerifyStatusEndpointUnknownOrderNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestRouter(newStubStore(), &stubProvider{}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/payments/verify", "application/json",
		strings.NewReader(`{"orderId":"`+uuid.NewString()+`"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.False(t, out.Success)
	require.Contains(t, out.Error, "no payment intent")
}

func TestInitializeThenVerifyByIntentID(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	prov := &stubProvider{
		initResult:   provider.InitializeResult{Reference: "TX-E2E", RedirectURL: "https://checkout.example.com/tx-e2e"},
		verifyResult: provider.VerifyResult{Status: provider.StatusSucceeded, Reference: "TX-E2E"},
	}
	srv := httptest.NewServer(newTestRouter(store, prov))
	defer srv.Close()

	orderID := uuid.NewString()
	payload := `{"orderId":"` + orderID + `","amountMinor":10050,"customerEmail":"buyer@example.com","customerPhone":"233201234567"}`
	resp, err := http.Post(srv.URL+"/api/payments/initialize", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var initOut struct {
		PaymentIntentID string `json:"paymentIntentId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&initOut))
	require.NotEmpty(t, initOut.PaymentIntentID)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	verifyResp, err := client.Get(srv.URL + "/api/payments/verify?paymentIntentId=" + initOut.PaymentIntentID)
	require.NoError(t, err)
	defer func() { _ = verifyResp.Body.Close() }()
	require.Equal(t, http.StatusFound, verifyResp.StatusCode)
	require.Equal(t, "/order-confirmation?orderId="+orderID+"&status=success", verifyResp.Header.Get("Location"))

	stored, err := store.GetByID(context.Background(), initOut.PaymentIntentID)
	require.NoError(t, err)
	require.Equal(t, intent.StatusSucceeded, stored.Status)
}

func TestVerifyOTPEndpointBusinessFailure(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	prov := &stubProvider{otpErr: &provider.Error{Code: "TP20", Message: "invalid otp"}}
	seedIntent(store, intent.StatusPending, "TX-OTP-HTTP")

	srv := httptest.NewServer(newTestRouter(store, prov))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/payments/verify-otp", "application/json",
		strings.NewReader(`{"reference":"TX-OTP-HTTP","phone":"233201234567","otp":"000000"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.False(t, out.Success)
	require.Contains(t, out.Error, "invalid otp")
}

func TestVerifyOTPEndpointValidation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestRouter(newStubStore(), &stubProvider{}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/payments/verify-otp", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
