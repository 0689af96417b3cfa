// Package settings persists small typed values (flags, identifiers,
// timestamps) under string keys. The sync engine keeps its SyncState here.
package settings

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Well-known key suffixes, scoped by Scope.
const (
	SubscriptionCreatedSuffix = "subscription.public"
	SubscriptionIDSuffix      = "subscription.public.id"
	WatermarkSuffix           = "record.latestmodificationdate"
)

// Store is the typed settings contract consumed by the engine.
// Missing keys read as the zero value without error.
type Store interface {
	Bool(ctx context.Context, key string) (bool, error)
	SetBool(ctx context.Context, key string, v bool) error
	String(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key string, v string) error
	// Time reports ok=false when the key has never been written.
	Time(ctx context.Context, key string) (t time.Time, ok bool, err error)
	SetTime(ctx context.Context, key string, v time.Time) error
	Delete(ctx context.Context, key string) error
}

// Scope builds keys for one (store identity, record type) pair so several
// engines can share one Store without colliding.
type Scope struct {
	Identity   string
	RecordType string
}

// Key returns "<identity>.<recordType>.<suffix>".
func (s Scope) Key(suffix string) string {
	return s.Identity + "." + s.RecordType + "." + suffix
}

// SubscriptionCreated is the key of the "subscription exists" flag. Its
// value doubles as the engine's subscription identifier.
func (s Scope) SubscriptionCreated() string { return s.Key(SubscriptionCreatedSuffix) }

func (s Scope) SubscriptionID() string { return s.Key(SubscriptionIDSuffix) }

func (s Scope) Watermark() string { return s.Key(WatermarkSuffix) }

// Keys lists every key owned by the scope.
func (s Scope) Keys() []string {
	return []string{s.SubscriptionCreated(), s.SubscriptionID(), s.Watermark()}
}

// KV is the raw string storage underneath a Typed store.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Typed implements Store on top of a KV. Booleans are stored as
// strconv.FormatBool, timestamps as RFC 3339 with nanoseconds in UTC.
type Typed struct {
	kv KV
}

var _ Store = (*Typed)(nil)

// NewTyped wraps kv.
func NewTyped(kv KV) *Typed {
	return &Typed{kv: kv}
}

func (t *Typed) Bool(ctx context.Context, key string) (bool, error) {
	raw, ok, err := t.kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("setting %q: invalid bool %q", key, raw)
	}
	return v, nil
}

func (t *Typed) SetBool(ctx context.Context, key string, v bool) error {
	return t.kv.Put(ctx, key, strconv.FormatBool(v))
}

func (t *Typed) String(ctx context.Context, key string) (string, error) {
	raw, _, err := t.kv.Get(ctx, key)
	return raw, err
}

func (t *Typed) SetString(ctx context.Context, key string, v string) error {
	return t.kv.Put(ctx, key, v)
}

func (t *Typed) Time(ctx context.Context, key string) (time.Time, bool, error) {
	raw, ok, err := t.kv.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	v, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("setting %q: invalid timestamp %q", key, raw)
	}
	return v.UTC(), true, nil
}

func (t *Typed) SetTime(ctx context.Context, key string, v time.Time) error {
	return t.kv.Put(ctx, key, v.UTC().Format(time.RFC3339Nano))
}

func (t *Typed) Delete(ctx context.Context, key string) error {
	return t.kv.Delete(ctx, key)
}

// Reset deletes every key owned by scope.
func Reset(ctx context.Context, s Store, scope Scope) error {
	for _, key := range scope.Keys() {
		if err := s.Delete(ctx, key); err != nil {
			return fmt.Errorf("reset %s: %w", key, err)
		}
	}
	return nil
}
