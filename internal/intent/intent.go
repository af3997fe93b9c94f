package intent

import (
	"errors"
	"strings"
	"time"
)

// Status tracks a payment intent through its lifecycle. Transitions only move
// forward; succeeded and failed are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// ErrStaleTransition is returned when a status write would move an intent
// backwards, e.g. a late "pending" callback arriving after settlement.
var ErrStaleTransition = errors.New("intent: stale status transition rejected")

// ErrNotFound is returned by store lookups that match no row.
var ErrNotFound = errors.New("intent: not found")

var statusRank = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusSucceeded:  2,
	StatusFailed:     2,
}

// ParseStatus normalises a raw status string.
func ParseStatus(value string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusRank[s]
	return s, ok
}

// Valid reports whether the status is one of the known lifecycle states.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal forward step.
// Skipping processing is allowed (redirect providers settle straight from
// pending); regressions and moves out of terminal states are not.
func (s Status) CanTransition(next Status) bool {
	from, okFrom := statusRank[s]
	to, okTo := statusRank[next]
	if !okFrom || !okTo {
		return false
	}
	if s.Terminal() {
		return false
	}
	return to > from
}

// priorStatuses lists the states an intent may currently hold for a
// transition into next to be legal. Used by the store's guarded UPDATE.
func priorStatuses(next Status) []string {
	var prior []string
	for s := range statusRank {
		if s.CanTransition(next) {
			prior = append(prior, string(s))
		}
	}
	return prior
}

// Intent is one attempt to collect payment for an order. Rows are never
// deleted; failed attempts stay behind as an audit trail and a retried
// checkout spawns a fresh intent for the same order.
type Intent struct {
	ID                string
	OrderID           string
	AmountMinor       int64
	Currency          string
	Provider          string
	ProviderReference string
	Status            Status
	CustomerEmail     string
	CustomerName      string
	CustomerPhone     string
	Metadata          map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DisplayAmount converts the stored minor-unit amount into major units,
// e.g. 10050 pesewas -> 100.50 GHS.
func (i Intent) DisplayAmount() float64 {
	return float64(i.AmountMinor) / 100
}
