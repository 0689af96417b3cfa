// Package memory provides an in-memory remote.Store with scripted failures.
//
// It backs the engine and projector tests and the CLI's offline mode. Every
// call is recorded so tests can assert on ordering, and failures can be
// queued per operation with FailNext.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/pubsync/internal/record"
	"github.com/roach88/pubsync/internal/remote"
)

// DefaultMaxPage is the page size used when a query asks for Limit 0.
const DefaultMaxPage = 100

// Compile-time contract assertion.
var _ remote.Store = (*Store)(nil)

// Call records one invocation of a Store method.
type Call struct {
	Op string
	// Arg is the record ID, subscription ID, record type or cursor involved.
	Arg string
	// Limit is the requested page size for query operations.
	Limit int
}

// Store is a thread-safe in-memory remote store.
type Store struct {
	mu            sync.Mutex
	records       map[string]record.Record
	subscriptions map[string]remote.Subscription
	failures      map[string][]error
	calls         []Call
	queries       map[int][]record.Record
	nextQuery     int
	maxPage       int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records:       make(map[string]record.Record),
		subscriptions: make(map[string]remote.Subscription),
		failures:      make(map[string][]error),
		queries:       make(map[int][]record.Record),
		maxPage:       DefaultMaxPage,
	}
}

// SetMaxPage overrides the page size used for Limit 0 queries.
func (s *Store) SetMaxPage(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxPage = n
}

// Put inserts or replaces a record.
func (s *Store) Put(r record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = r.Clone()
}

// Remove deletes a record.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// PutSubscription stores a subscription directly, bypassing CreateSubscription.
func (s *Store) PutSubscription(sub remote.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.ID] = sub
}

// Subscriptions returns the stored subscriptions sorted by ID.
func (s *Store) Subscriptions() []remote.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]remote.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		out = append(out, sub)
	}
	slices.SortFunc(out, func(a, b remote.Subscription) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// FailNext queues errors returned by the next calls of op, in order.
func (s *Store) FailNext(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], errs...)
}

// Calls returns a copy of the call log.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CallCount returns how many times op was invoked.
func (s *Store) CallCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// logCall logs the call and pops a scripted failure. Caller holds s.mu.
func (s *Store) logCall(op, arg string, limit int) error {
	s.calls = append(s.calls, Call{Op: op, Arg: arg, Limit: limit})
	if q := s.failures[op]; len(q) > 0 {
		err := q[0]
		s.failures[op] = q[1:]
		return err
	}
	return nil
}

// Query snapshots the matching records and streams the first page.
func (s *Store) Query(ctx context.Context, q remote.Query, each func(record.Record)) (remote.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	if err := s.logCall(remote.OpQuery, q.RecordType, q.Limit); err != nil {
		s.mu.Unlock()
		return "", err
	}

	var matched []record.Record
	for _, r := range s.records {
		if r.Type == q.RecordType && r.ModifiedAt.After(q.ModifiedAfter) {
			matched = append(matched, r.Clone())
		}
	}
	slices.SortFunc(matched, func(a, b record.Record) int {
		c := a.ModifiedAt.Compare(b.ModifiedAt)
		if q.Descending {
			c = -c
		}
		if c == 0 {
			return strings.Compare(a.ID, b.ID)
		}
		return c
	})

	id := s.nextQuery
	s.nextQuery++
	s.queries[id] = matched
	page, cursor := s.page(id, 0, q.Limit)
	s.mu.Unlock()

	for _, r := range page {
		each(r)
	}
	return cursor, nil
}

// Continue streams the page starting at the cursor's offset.
func (s *Store) Continue(ctx context.Context, c remote.Cursor, limit int, each func(record.Record)) (remote.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	if err := s.logCall(remote.OpContinue, string(c), limit); err != nil {
		s.mu.Unlock()
		return "", err
	}
	id, offset, err := parseCursor(c)
	if err != nil {
		s.mu.Unlock()
		return "", remote.Fatal(remote.OpContinue, err)
	}
	if _, ok := s.queries[id]; !ok {
		s.mu.Unlock()
		return "", remote.Fatal(remote.OpContinue, fmt.Errorf("unknown cursor %q", c))
	}
	page, cursor := s.page(id, offset, limit)
	s.mu.Unlock()

	for _, r := range page {
		each(r)
	}
	return cursor, nil
}

// page slices a snapshot. Caller holds s.mu.
func (s *Store) page(id, offset, limit int) ([]record.Record, remote.Cursor) {
	if limit <= 0 {
		limit = s.maxPage
	}
	all := s.queries[id]
	end := min(offset+limit, len(all))
	page := all[offset:end]
	if end >= len(all) {
		delete(s.queries, id)
		return page, ""
	}
	return page, remote.Cursor(fmt.Sprintf("%d:%d", id, end))
}

func parseCursor(c remote.Cursor) (int, int, error) {
	idStr, offStr, ok := strings.Cut(string(c), ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed cursor %q", c)
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed cursor %q", c)
	}
	off, err := strconv.Atoi(offStr)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed cursor %q", c)
	}
	return id, off, nil
}

// FetchByID returns a clone of the stored record.
func (s *Store) FetchByID(ctx context.Context, id string) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.logCall(remote.OpFetchByID, id, 0); err != nil {
		return record.Record{}, err
	}
	r, ok := s.records[id]
	if !ok {
		return record.Record{}, remote.ErrNotFound
	}
	return r.Clone(), nil
}

// CreateSubscription saves the subscription under spec.ID, replacing any
// existing one with the same ID.
func (s *Store) CreateSubscription(ctx context.Context, spec remote.SubscriptionSpec) (remote.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return remote.Subscription{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.logCall(remote.OpCreateSubscription, spec.ID, 0); err != nil {
		return remote.Subscription{}, err
	}
	sub := remote.Subscription{
		ID:         spec.ID,
		RecordType: spec.RecordType,
		Predicate:  spec.Predicate,
		FiresOn:    slices.Clone(spec.FiresOn),
	}
	s.subscriptions[sub.ID] = sub
	return sub, nil
}

// FetchSubscription returns the subscription or nil.
func (s *Store) FetchSubscription(ctx context.Context, id string) (*remote.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.logCall(remote.OpFetchSubscription, id, 0); err != nil {
		return nil, err
	}
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

// DeleteSubscription removes the subscription if present.
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.logCall(remote.OpDeleteSubscription, id, 0); err != nil {
		return err
	}
	delete(s.subscriptions, id)
	return nil
}
