package payment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-sika/internal/common"
	"github.com/noah-isme/backend-sika/internal/intent"
	"github.com/noah-isme/backend-sika/internal/obs"
	"github.com/noah-isme/backend-sika/internal/provider"
)

// Webhook handles asynchronous provider callbacks: signature verification,
// replay protection and a guarded status transition.
type Webhook struct {
	Store     IntentStore
	Registry  *provider.Registry
	Replay    *redis.Client
	ReplayTTL time.Duration
}

// Handle processes POST /api/webhooks/payment/{provider}.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil || h.Registry == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	providerKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	result := "error"
	defer func() {
		if obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues(providerKey, result).Inc()
		}
	}()
	_, client, err := h.Registry.Resolve(providerKey)
	if err != nil || providerKey == "" {
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", "unknown provider", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	verdict, err := client.VerifyWebhook(r, body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
		return
	}
	if !verdict.Valid {
		result = "invalid_signature"
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}

	var replayKey string
	if h.Replay != nil && h.ReplayTTL > 0 {
		replayKey = fmt.Sprintf("wh:%s:%s", providerKey, common.Sha256Hex(body))
		claimed, err := h.Replay.SetNX(r.Context(), replayKey, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !claimed {
			result = "replay"
			common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate webhook", nil)
			return
		}
	}

	it, err := h.resolveIntent(r, verdict)
	if err != nil {
		result = "not_found"
		common.JSONError(w, http.StatusNotFound, "INTENT_NOT_FOUND", "no intent matches the callback", nil)
		return
	}

	payload := verdict.Payload
	if payload == nil {
		payload = body
	}
	next := mapProviderStatus(verdict.Status)
	if _, err := h.Store.Transition(r.Context(), it.ID, next, payload); err != nil {
		if errors.Is(err, intent.ErrStaleTransition) {
			// Late callback for an already-settled intent; acknowledged, not applied.
			result = "stale"
			w.WriteHeader(http.StatusNoContent)
			return
		}
		// Release the replay marker so the provider's retry of the same
		// payload is not mistaken for a duplicate after a store hiccup.
		h.releaseReplay(r, replayKey)
		common.JSONError(w, http.StatusInternalServerError, "INTENT_UPDATE_ERROR", err.Error(), nil)
		return
	}
	result = string(next)
	w.WriteHeader(http.StatusNoContent)
}

func (h Webhook) releaseReplay(r *http.Request, key string) {
	if h.Replay == nil || key == "" {
		return
	}
	_ = h.Replay.Del(r.Context(), key).Err()
}

func (h Webhook) resolveIntent(r *http.Request, verdict provider.WebhookResult) (intent.Intent, error) {
	if ref := strings.TrimSpace(verdict.Reference); ref != "" {
		it, err := h.Store.GetByProviderReference(r.Context(), ref)
		if err == nil || !errors.Is(err, intent.ErrNotFound) {
			return it, err
		}
	}
	if orderID := strings.TrimSpace(verdict.OrderID); orderID != "" {
		return h.Store.GetLatestByOrder(r.Context(), orderID)
	}
	return intent.Intent{}, intent.ErrNotFound
}
