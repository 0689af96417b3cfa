// Package projector applies remote sync events to a local entity store.
//
// A Projector owns one engine.Engine and is its Handler. Pulled batches and
// push notifications become inserts, field updates and deletes on a
// store.Store, each wrapped in a commit.
//
// Watermark seeding follows the deferred variant: the first pull runs from
// the persisted watermark (epoch on a fresh install), and once the batch is
// committed the projector hands the freshest fetched-or-local modification
// time back through Batch.SeedWatermark.
package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/pubsync/internal/engine"
	"github.com/roach88/pubsync/internal/record"
	"github.com/roach88/pubsync/internal/remote"
	"github.com/roach88/pubsync/internal/settings"
	"github.com/roach88/pubsync/internal/store"
)

// Config configures a projector. EntityName is required.
type Config struct {
	// EntityName is the local entity kind, e.g. "Item".
	EntityName string
	// RecordType defaults to "CD_" + EntityName.
	RecordType    string
	StoreIdentity string

	PageSize           int
	WatermarkSeedDelay time.Duration
	MaxRetryAttempts   int
	Subscription       engine.SubscriptionConfig
}

// EngineConfig derives the engine configuration.
func (c Config) EngineConfig() engine.Config {
	rt := c.RecordType
	if rt == "" && c.EntityName != "" {
		rt = RemoteFieldPrefix + c.EntityName
	}
	return engine.Config{
		StoreIdentity:      c.StoreIdentity,
		RecordType:         rt,
		Subscription:       c.Subscription,
		PageSize:           c.PageSize,
		WatermarkSeedDelay: c.WatermarkSeedDelay,
		MaxRetryAttempts:   c.MaxRetryAttempts,
	}
}

type options struct {
	logger     *slog.Logger
	engineOpts []engine.Option
}

// Option configures a Projector.
type Option func(*options)

// WithLogger sets the logger for the projector and its engine.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEngineOptions passes options through to engine.New.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, opts...) }
}

// Projector mirrors one remote record type into one local entity kind.
type Projector struct {
	cfg    Config
	local  store.Store
	engine *engine.Engine
	log    *slog.Logger
}

// New wires a projector to its stores and builds the engine it drives.
func New(local store.Store, ss settings.Store, rs remote.Store, cfg Config, opts ...Option) (*Projector, error) {
	if cfg.EntityName == "" {
		return nil, errors.New("projector: entity name is required")
	}
	if local == nil {
		return nil, errors.New("projector: local store is required")
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Projector{
		cfg:   cfg,
		local: local,
		log:   o.logger.With("component", "projector", "entity", cfg.EntityName),
	}
	engineOpts := append([]engine.Option{engine.WithLogger(o.logger)}, o.engineOpts...)
	e, err := engine.New(cfg.EngineConfig(), rs, ss, handler{p}, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("projector %s: %w", cfg.EntityName, err)
	}
	p.engine = e
	return p, nil
}

// Run drives the engine until ctx is done.
func (p *Projector) Run(ctx context.Context) error { return p.engine.Run(ctx) }

// Start prepares the subscription; the initial pull follows HandleStart.
func (p *Projector) Start() { p.engine.Start() }

// ProcessNotification forwards a push payload to the engine.
func (p *Projector) ProcessNotification(payload []byte) bool {
	return p.engine.ProcessNotification(payload)
}

// Engine returns the owned engine.
func (p *Projector) Engine() *engine.Engine { return p.engine }

// Store returns the local store.
func (p *Projector) Store() store.Store { return p.local }

// EntityName returns the local entity kind.
func (p *Projector) EntityName() string { return p.cfg.EntityName }

// Create inserts one entity per record and commits once for the whole
// batch. Records whose identifier does not decode are skipped. Records
// without an identifier get a fresh ID, so creating them twice yields two
// rows.
func (p *Projector) Create(ctx context.Context, records []record.Record) error {
	staged := 0
	for _, r := range records {
		e, _, err := Project(r)
		if err != nil {
			p.log.Warn("skipping record", "record_id", r.ID, "error", err)
			continue
		}
		p.local.Insert(e)
		staged++
	}
	if err := p.local.Commit(ctx); err != nil {
		return fmt.Errorf("create %d entities: %w", staged, err)
	}
	p.log.Debug("entities created", "count", staged)
	return nil
}

// Update copies the record's fields onto the existing entity with the same
// identifier and commits. A record with no identifier, or one that matches
// no local entity, is ignored.
func (p *Projector) Update(ctx context.Context, r record.Record) error {
	mapped, hasID, err := Project(r)
	if err != nil {
		return err
	}
	if !hasID {
		p.log.Debug("update without identifier ignored", "record_id", r.ID)
		return nil
	}

	existing, err := p.local.FetchByID(ctx, mapped.ID)
	if errors.Is(err, store.ErrNotFound) {
		p.log.Debug("update for unknown entity ignored", "id", mapped.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", mapped.ID, err)
	}

	fields := existing.Fields.Clone()
	for name, v := range mapped.Fields {
		fields[name] = v
	}
	p.local.UpdateFields(mapped.ID, fields, mapped.ModifiedAt)
	if err := p.local.Commit(ctx); err != nil {
		return fmt.Errorf("update %s: %w", mapped.ID, err)
	}
	return nil
}

// Delete removes the entity whose primary key is identifier. Identifiers
// that are not UUIDs, and unknown entities, are ignored.
func (p *Projector) Delete(ctx context.Context, identifier string) error {
	id, err := uuid.Parse(identifier)
	if err != nil {
		p.log.Debug("delete with non-UUID identifier ignored", "record_id", identifier)
		return nil
	}
	if _, err := p.local.FetchByID(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete %s: %w", id, err)
	}
	p.local.Delete(id)
	if err := p.local.Commit(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// FetchLatestLocalEntity returns the entity with the greatest modification
// time, or nil when the store is empty.
func (p *Projector) FetchLatestLocalEntity(ctx context.Context) (*record.Entity, error) {
	return p.local.FetchLatest(ctx)
}
