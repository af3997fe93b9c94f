package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists payment intents and their audit events in Postgres.
type Store struct {
	Pool *pgxpool.Pool
}

// NewStore constructs a store bound to the provided pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// CreateParams captures everything required to open a new intent row.
type CreateParams struct {
	OrderID           string
	AmountMinor       int64
	Currency          string
	Provider          string
	ProviderReference string
	CustomerEmail     string
	CustomerName      string
	CustomerPhone     string
	Metadata          map[string]any
}

const intentColumns = `id, order_id, amount_minor, currency, provider, provider_reference,
	status, customer_email, customer_name, customer_phone, metadata, created_at, updated_at`

// Create inserts a pending intent and its creation audit event.
func (s *Store) Create(ctx context.Context, params CreateParams) (Intent, error) {
	if s == nil || s.Pool == nil {
		return Intent{}, errors.New("intent: store not configured")
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "GHS"
	}
	meta := params.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Intent{}, fmt.Errorf("intent: encode metadata: %w", err)
	}
	id := uuid.NewString()
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO payment_intents (
			id, order_id, amount_minor, currency, provider, provider_reference,
			status, customer_email, customer_name, customer_phone, metadata
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11)
		RETURNING `+intentColumns,
		id, params.OrderID, params.AmountMinor, currency, params.Provider,
		params.ProviderReference, string(StatusPending), params.CustomerEmail,
		params.CustomerName, params.CustomerPhone, metaJSON,
	)
	created, err := scanIntent(row)
	if err != nil {
		return Intent{}, err
	}
	_ = s.InsertEvent(ctx, created.ID, created.Status, metaJSON)
	return created, nil
}

// GetByID fetches an intent by its identifier.
func (s *Store) GetByID(ctx context.Context, id string) (Intent, error) {
	return s.get(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id)
}

// GetByProviderReference fetches the intent correlated with a provider callback.
func (s *Store) GetByProviderReference(ctx context.Context, reference string) (Intent, error) {
	return s.get(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE provider_reference = $1`, reference)
}

// GetLatestByOrder returns the most recent intent for an order. Lossy when an
// order accumulated several intents; callers prefer reference lookup.
func (s *Store) GetLatestByOrder(ctx context.Context, orderID string) (Intent, error) {
	return s.get(ctx, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, orderID)
}

func (s *Store) get(ctx context.Context, query, arg string) (Intent, error) {
	if s == nil || s.Pool == nil {
		return Intent{}, errors.New("intent: store not configured")
	}
	it, err := scanIntent(s.Pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Intent{}, ErrNotFound
	}
	return it, err
}

// Transition moves an intent to the next status with a guarded UPDATE: the
// row only matches when its current status may legally precede next, so an
// out-of-order callback cannot regress a settled intent. Returns
// ErrStaleTransition when the guard rejects the write.
func (s *Store) Transition(ctx context.Context, id string, next Status, payload []byte) (Intent, error) {
	if s == nil || s.Pool == nil {
		return Intent{}, errors.New("intent: store not configured")
	}
	if !next.Valid() {
		return Intent{}, fmt.Errorf("intent: unknown status %q", next)
	}
	row := s.Pool.QueryRow(ctx, `
		UPDATE payment_intents
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+intentColumns,
		id, string(next), priorStatuses(next),
	)
	updated, err := scanIntent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.GetByID(ctx, id)
		if getErr != nil {
			return Intent{}, getErr
		}
		if current.Status == next {
			return current, nil
		}
		return current, ErrStaleTransition
	}
	if err != nil {
		return Intent{}, err
	}
	_ = s.InsertEvent(ctx, updated.ID, updated.Status, payload)
	return updated, nil
}

// InsertEvent appends an audit row recording a status observation.
func (s *Store) InsertEvent(ctx context.Context, intentID string, status Status, payload []byte) error {
	if s == nil || s.Pool == nil {
		return errors.New("intent: store not configured")
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO payment_intent_events (id, intent_id, status, payload)
		VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), intentID, string(status), payload,
	)
	return err
}

func scanIntent(row pgx.Row) (Intent, error) {
	var (
		it       Intent
		provider *string
		ref      *string
		email    *string
		name     *string
		phone    *string
		metaJSON []byte
		status   string
	)
	err := row.Scan(
		&it.ID, &it.OrderID, &it.AmountMinor, &it.Currency, &provider, &ref,
		&status, &email, &name, &phone, &metaJSON, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return Intent{}, err
	}
	it.Status = Status(status)
	if provider != nil {
		it.Provider = *provider
	}
	if ref != nil {
		it.ProviderReference = *ref
	}
	if email != nil {
		it.CustomerEmail = *email
	}
	if name != nil {
		it.CustomerName = *name
	}
	if phone != nil {
		it.CustomerPhone = *phone
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &it.Metadata)
	}
	return it, nil
}
