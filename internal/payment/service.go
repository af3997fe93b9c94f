package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-sika/internal/common"
	"github.com/noah-isme/backend-sika/internal/intent"
	"github.com/noah-isme/backend-sika/internal/obs"
	"github.com/noah-isme/backend-sika/internal/provider"
)

// IntentStore is the persistence surface the payment services require.
// *intent.Store satisfies it; tests supply stubs.
type IntentStore interface {
	Create(ctx context.Context, params intent.CreateParams) (intent.Intent, error)
	GetByID(ctx context.Context, id string) (intent.Intent, error)
	GetByProviderReference(ctx context.Context, reference string) (intent.Intent, error)
	GetLatestByOrder(ctx context.Context, orderID string) (intent.Intent, error)
	Transition(ctx context.Context, id string, next intent.Status, payload []byte) (intent.Intent, error)
}

// Service is the intent initiator: it validates checkout requests, opens a
// provider-side payment session and persists the local intent record.
type Service struct {
	Store         IntentStore
	Registry      *provider.Registry
	PublicBaseURL string
	Validate      *validator.Validate
}

// InitializeInput is the checkout request body.
type InitializeInput struct {
	OrderID       string         `json:"orderId" validate:"required,uuid"`
	AmountMinor   int64          `json:"amountMinor" validate:"required,gt=0"`
	Currency      string         `json:"currency" validate:"omitempty,len=3,alpha"`
	CustomerEmail string         `json:"customerEmail" validate:"required,email"`
	CustomerName  string         `json:"customerName" validate:"omitempty,max=120"`
	CustomerPhone string         `json:"customerPhone" validate:"omitempty,min=9,max=16"`
	Provider      string         `json:"provider" validate:"omitempty,oneof=moolre"`
	Metadata      map[string]any `json:"metadata"`
}

// InitializeOutput reports the opened intent. Redirect channels carry
// RedirectURL; OTP channels carry RequiresOTP plus a customer message.
type InitializeOutput struct {
	PaymentIntentID string
	Provider        provider.ID
	RedirectURL     string
	RequiresOTP     bool
	Message         string
}

// FieldError describes one invalid request field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

var (
	fallbackValidate     *validator.Validate
	fallbackValidateOnce sync.Once
)

// NewValidator builds a validator that reports fields under their json
// names, so validation details line up with the request body.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Initialize validates the request, calls the provider and persists one
// intent row per call. Provider failure persists nothing. Retries are not
// deduplicated locally: each call derives a fresh idempotency key and it is
// the provider's job to honour or ignore it.
func (s *Service) Initialize(ctx context.Context, in InitializeInput) (InitializeOutput, error) {
	var zero InitializeOutput
	if s == nil || s.Store == nil || s.Registry == nil {
		return zero, errors.New("payment service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Initialize")
	defer span.End()

	providerLabel := "unknown"
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", providerLabel),
			attribute.String("payment.initialize.result", result),
		)
		if obs.PaymentInitializeTotal != nil {
			obs.PaymentInitializeTotal.WithLabelValues(providerLabel, result).Inc()
		}
	}()

	if details := s.validateInput(in); len(details) > 0 {
		result = "invalid"
		return zero, &common.AppError{
			Code:       "VALIDATION_ERROR",
			Message:    "invalid payment request",
			HTTPStatus: http.StatusBadRequest,
			Details:    details,
		}
	}

	providerID, client, err := s.Registry.Resolve(in.Provider)
	if err != nil {
		result = "invalid"
		return zero, common.NewAppError("PROVIDER_NOT_SUPPORTED", err.Error(), http.StatusBadRequest, err)
	}
	providerLabel = string(providerID)
	span.SetAttributes(attribute.String("order.id", in.OrderID))

	req := provider.InitializeRequest{
		OrderID:        in.OrderID,
		AmountMinor:    in.AmountMinor,
		Currency:       in.Currency,
		CustomerEmail:  strings.TrimSpace(in.CustomerEmail),
		CustomerName:   strings.TrimSpace(in.CustomerName),
		CustomerPhone:  strings.TrimSpace(in.CustomerPhone),
		CallbackURL:    s.callbackURL(in.OrderID),
		IdempotencyKey: NewIdempotencyKey(in.OrderID),
		Metadata:       in.Metadata,
	}
	resp, err := client.Initialize(ctx, req)
	if err != nil {
		span.RecordError(err)
		result = "provider_error"
		return zero, common.NewAppError("PROVIDER_ERROR", err.Error(), http.StatusBadRequest, err)
	}

	created, err := s.Store.Create(ctx, intent.CreateParams{
		OrderID:           in.OrderID,
		AmountMinor:       in.AmountMinor,
		Currency:          in.Currency,
		Provider:          string(providerID),
		ProviderReference: resp.Reference,
		CustomerEmail:     strings.TrimSpace(in.CustomerEmail),
		CustomerName:      strings.TrimSpace(in.CustomerName),
		CustomerPhone:     strings.TrimSpace(in.CustomerPhone),
		Metadata:          in.Metadata,
	})
	if err != nil {
		span.RecordError(err)
		return zero, err
	}
	result = "success"
	return InitializeOutput{
		PaymentIntentID: created.ID,
		Provider:        providerID,
		RedirectURL:     resp.RedirectURL,
		RequiresOTP:     resp.RequiresOTP,
		Message:         resp.Message,
	}, nil
}

// validateInput collects every offending field, never just the first.
func (s *Service) validateInput(in InitializeInput) []FieldError {
	v := s.Validate
	if v == nil {
		fallbackValidateOnce.Do(func() { fallbackValidate = NewValidator() })
		v = fallbackValidate
	}
	err := v.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "request", Rule: "invalid"}}
	}
	details := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return details
}

func (s *Service) callbackURL(orderID string) string {
	base := strings.TrimRight(strings.TrimSpace(s.PublicBaseURL), "/")
	return base + "/api/payments/verify?orderId=" + url.QueryEscape(orderID)
}

// NewIdempotencyKey derives a timestamp-suffixed key from the order id. Two
// calls for the same order yield distinct keys, so local retries are not
// deduplicated by this service; only the provider can collapse them.
func NewIdempotencyKey(orderID string) string {
	return fmt.Sprintf("%s-%d", orderID, time.Now().UnixNano())
}

func toJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
