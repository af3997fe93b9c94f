package common

import (
	"context"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Idem rejects duplicate writes keyed by the Idempotency-Key header. The
// first request claims the key in Redis; replays inside TTL get a 409.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

// Middleware enforces idempotency on the wrapped handler. Requests without
// the header pass through untouched.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if key == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		redisKey := "idem:" + Sha256Hex([]byte(key))
		claimed, err := i.R.SetNX(r.Context(), redisKey, "locked", i.TTL).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", map[string]any{"error": err.Error()})
			return
		}
		if !claimed {
			JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
			return
		}
		defer func() {
			// Refresh the TTL even if the handler panics.
			_ = i.R.Expire(context.Background(), redisKey, i.TTL).Err()
		}()
		next.ServeHTTP(w, r)
	})
}
