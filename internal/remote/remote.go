package remote

import (
	"context"
	"time"

	"github.com/roach88/pubsync/internal/record"
)

// Store is the remote record store.
type Store interface {
	// Query streams the first page of records matching q to each and returns
	// a continuation cursor, or "" when the result set is exhausted.
	Query(ctx context.Context, q Query, each func(record.Record)) (Cursor, error)

	// Continue streams the next page of a query started with Query.
	Continue(ctx context.Context, c Cursor, limit int, each func(record.Record)) (Cursor, error)

	// FetchByID returns a single record. Returns ErrNotFound if absent.
	FetchByID(ctx context.Context, id string) (record.Record, error)

	// CreateSubscription saves a subscription and returns the stored handle.
	CreateSubscription(ctx context.Context, spec SubscriptionSpec) (Subscription, error)

	// FetchSubscription returns the subscription with the given ID, or nil if
	// it does not exist.
	FetchSubscription(ctx context.Context, id string) (*Subscription, error)

	// DeleteSubscription removes a subscription. Deleting an absent
	// subscription is not an error.
	DeleteSubscription(ctx context.Context, id string) error
}

// Query selects records of one type modified strictly after ModifiedAfter.
type Query struct {
	RecordType    string
	ModifiedAfter time.Time
	// Descending sorts by modification time, newest first.
	Descending bool
	// Limit is the page size. Zero means the store's maximum.
	Limit int
}

// Cursor is an opaque continuation token issued by a store.
// The empty cursor means "done".
type Cursor string

// Done reports whether the cursor marks the end of a result set.
func (c Cursor) Done() bool { return c == "" }

// EventKind is a record change a subscription fires on.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// AllEvents lists every event kind in notification-reason order.
var AllEvents = []EventKind{EventCreated, EventUpdated, EventDeleted}

// SubscriptionSpec describes a standing query subscription.
type SubscriptionSpec struct {
	ID         string      `json:"id"`
	RecordType string      `json:"record_type"`
	Predicate  string      `json:"predicate"`
	FiresOn    []EventKind `json:"fires_on"`
	// DesiredKeys lists fields to include in push payloads.
	DesiredKeys []string `json:"desired_keys,omitempty"`
}

// Subscription is a stored subscription as reported by the remote store.
type Subscription struct {
	ID         string      `json:"id"`
	RecordType string      `json:"record_type"`
	Predicate  string      `json:"predicate"`
	FiresOn    []EventKind `json:"fires_on"`
}

// Operation names used in TransportError.Op and metrics labels.
const (
	OpQuery              = "query"
	OpContinue           = "continue"
	OpFetchByID          = "fetch-by-id"
	OpCreateSubscription = "create-subscription"
	OpFetchSubscription  = "fetch-subscription"
	OpDeleteSubscription = "delete-subscription"
)
