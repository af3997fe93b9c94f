package payment

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-sika/internal/common"
	"github.com/noah-isme/backend-sika/internal/intent"
	"github.com/noah-isme/backend-sika/internal/obs"
	"github.com/noah-isme/backend-sika/internal/provider"
)

// Verifier resolves a payment intent from callback identifiers, re-queries
// the provider and applies a guarded status transition.
type Verifier struct {
	Store    IntentStore
	Registry *provider.Registry

	// Redirect targets for the browser-facing GET callback.
	ConfirmationPath string // default /order-confirmation
	CheckoutPath     string // default /checkout
	FallbackPath     string // default /
}

// VerifyInput carries whichever identifiers the caller had. Reference aliases
// (trxref, tx_ref) are folded into Reference by the transport layer.
type VerifyInput struct {
	PaymentIntentID string
	Reference       string
	OrderID         string
	Provider        string
}

func (in VerifyInput) empty() bool {
	return strings.TrimSpace(in.PaymentIntentID) == "" &&
		strings.TrimSpace(in.Reference) == "" &&
		strings.TrimSpace(in.OrderID) == ""
}

// Outcome is the discriminated verification result. Redirect is always set
// for the GET transport; Err is set when the POST transport should report a
// failure instead of a status.
type Outcome struct {
	Redirect        string
	Status          intent.Status
	OrderID         string
	PaymentIntentID string
	Err             error
}

// Verify drives one verification pass. With no resolvable identifier the
// caller is sent to the safe default page and the provider is never queried.
func (v *Verifier) Verify(ctx context.Context, in VerifyInput) Outcome {
	if v == nil || v.Store == nil || v.Registry == nil {
		return Outcome{Redirect: v.fallbackPath(), Err: errors.New("verifier not configured")}
	}
	ctx, span := otel.Tracer("payment.Verifier").Start(ctx, "PaymentVerifier.Verify")
	defer span.End()

	providerLabel := "unknown"
	statusLabel := "none"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", providerLabel),
			attribute.String("payment.verify.status", statusLabel),
		)
		if obs.PaymentVerifyTotal != nil {
			obs.PaymentVerifyTotal.WithLabelValues(providerLabel, statusLabel).Inc()
		}
	}()

	if in.empty() {
		return Outcome{Redirect: v.fallbackPath()}
	}

	it, err := v.resolveIntent(ctx, in)
	if err != nil {
		statusLabel = "not_found"
		if errors.Is(err, intent.ErrNotFound) {
			err = common.NewAppError("INTENT_NOT_FOUND", "no payment intent matches the given identifiers", http.StatusNotFound, err)
		}
		return Outcome{
			Redirect: v.failureRedirect(in.OrderID),
			OrderID:  in.OrderID,
			Err:      err,
		}
	}
	span.SetAttributes(attribute.String("order.id", it.OrderID))

	reference := strings.TrimSpace(in.Reference)
	if reference == "" {
		reference = it.ProviderReference
	}
	if reference == "" {
		// No reference to ask the provider about; the attempt is unverifiable.
		failed, terr := v.Store.Transition(ctx, it.ID, intent.StatusFailed, toJSON(map[string]any{"reason": "no provider reference"}))
		if terr != nil && !errors.Is(terr, intent.ErrStaleTransition) {
			return Outcome{Redirect: v.failureRedirect(it.OrderID), OrderID: it.OrderID, Err: terr}
		}
		statusLabel = string(failed.Status)
		return v.outcomeFor(failed)
	}

	providerName := in.Provider
	if providerName == "" {
		providerName = it.Provider
	}
	_, client, err := v.Registry.Resolve(providerName)
	if err != nil {
		statusLabel = "provider_error"
		return Outcome{Redirect: v.failureRedirect(it.OrderID), OrderID: it.OrderID, Err: err}
	}
	providerLabel = providerName
	if providerLabel == "" {
		providerLabel = string(v.Registry.Default())
	}

	result, err := client.Verify(ctx, reference)
	if err != nil {
		span.RecordError(err)
		statusLabel = "provider_error"
		return Outcome{Redirect: v.failureRedirect(it.OrderID), OrderID: it.OrderID, PaymentIntentID: it.ID, Err: err}
	}

	next := mapProviderStatus(result.Status)
	updated, err := v.Store.Transition(ctx, it.ID, next, result.Raw)
	if errors.Is(err, intent.ErrStaleTransition) {
		// Out-of-order callback; the stored status is already further along.
		err = nil
	}
	if err != nil {
		return Outcome{Redirect: v.failureRedirect(it.OrderID), OrderID: it.OrderID, PaymentIntentID: it.ID, Err: err}
	}
	statusLabel = string(updated.Status)
	return v.outcomeFor(updated)
}

func (v *Verifier) resolveIntent(ctx context.Context, in VerifyInput) (intent.Intent, error) {
	if id := strings.TrimSpace(in.PaymentIntentID); id != "" {
		return v.Store.GetByID(ctx, id)
	}
	if ref := strings.TrimSpace(in.Reference); ref != "" {
		it, err := v.Store.GetByProviderReference(ctx, ref)
		if err == nil || !errors.Is(err, intent.ErrNotFound) {
			return it, err
		}
	}
	if orderID := strings.TrimSpace(in.OrderID); orderID != "" {
		return v.Store.GetLatestByOrder(ctx, orderID)
	}
	return intent.Intent{}, intent.ErrNotFound
}

func (v *Verifier) outcomeFor(it intent.Intent) Outcome {
	out := Outcome{Status: it.Status, OrderID: it.OrderID, PaymentIntentID: it.ID}
	switch it.Status {
	case intent.StatusSucceeded:
		out.Redirect = v.confirmationRedirect(it.OrderID, "success")
	case intent.StatusPending, intent.StatusProcessing:
		out.Redirect = v.confirmationRedirect(it.OrderID, "pending")
	default:
		out.Redirect = v.failureRedirect(it.OrderID)
	}
	return out
}

func (v *Verifier) confirmationRedirect(orderID, marker string) string {
	path := v.ConfirmationPath
	if path == "" {
		path = "/order-confirmation"
	}
	q := url.Values{}
	q.Set("orderId", orderID)
	q.Set("status", marker)
	return path + "?" + q.Encode()
}

func (v *Verifier) failureRedirect(orderID string) string {
	path := v.CheckoutPath
	if path == "" {
		path = "/checkout"
	}
	q := url.Values{}
	q.Set("error", "payment_failed")
	if strings.TrimSpace(orderID) != "" {
		q.Set("orderId", orderID)
	}
	return path + "?" + q.Encode()
}

func (v *Verifier) fallbackPath() string {
	if v == nil || v.FallbackPath == "" {
		return "/"
	}
	return v.FallbackPath
}

func mapProviderStatus(status provider.Status) intent.Status {
	switch status {
	case provider.StatusSucceeded:
		return intent.StatusSucceeded
	case provider.StatusProcessing:
		return intent.StatusProcessing
	case provider.StatusPending:
		return intent.StatusPending
	default:
		return intent.StatusFailed
	}
}
