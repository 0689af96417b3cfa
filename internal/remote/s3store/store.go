// Package s3store implements remote.Store on an S3-compatible bucket.
//
// Layout under the configured prefix:
//
//	records/<id>.json        one record document per record
//	subscriptions/<id>.json  one subscription per ID
//
// Queries list the record objects, filter by type and modification time and
// page through the result with a keyset cursor, so continuations stay valid
// across process restarts. SDK-level retries are disabled: throttling and
// unavailability surface as remote.TransportError with a retry-after hint
// and the engine decides whether to retry.
package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/roach88/pubsync/internal/record"
	"github.com/roach88/pubsync/internal/remote"
)

// DefaultMaxPage is the page size used when a query asks for Limit 0.
const DefaultMaxPage = 400

var _ remote.Store = (*Store)(nil)

// Config holds construction parameters. Credentials fall back to the
// default AWS chain when AccessKeyID is empty.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional; enables a custom endpoint (e.g. MinIO)
	Prefix          string // optional key prefix, e.g. "pubsync/"
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool

	// HTTPClient overrides the SDK transport. Tests use it to serve a fake
	// bucket.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Store is a remote.Store backed by S3.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
	log    *slog.Logger
}

// New creates a store from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
		o.Retryer = aws.NopRetryer{}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log.With("component", "s3store", "bucket", cfg.Bucket),
	}, nil
}

// document is the stored form of a record.
type document struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	ModifiedAt time.Time       `json:"modified_at"`
	Fields     json.RawMessage `json:"fields"`
}

func (s *Store) recordKey(id string) string {
	return s.prefix + "records/" + id + ".json"
}

func (s *Store) subscriptionKey(id string) string {
	return s.prefix + "subscriptions/" + id + ".json"
}

// Put writes a record. It is how records are published to the bucket.
func (s *Store) Put(ctx context.Context, r record.Record) error {
	if r.ID == "" || strings.ContainsAny(r.ID, "/") {
		return fmt.Errorf("invalid record id %q", r.ID)
	}
	fields, err := record.MarshalFields(r.Fields)
	if err != nil {
		return err
	}
	body, err := json.Marshal(document{ID: r.ID, Type: r.Type, ModifiedAt: r.ModifiedAt.UTC(), Fields: fields})
	if err != nil {
		return err
	}
	return classify("put", s.putObject(ctx, s.recordKey(r.ID), body))
}

// Remove deletes a record.
func (s *Store) Remove(ctx context.Context, id string) error {
	key := s.recordKey(id)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key})
	return classify("remove", err)
}

// FetchByID returns the record stored under id.
func (s *Store) FetchByID(ctx context.Context, id string) (record.Record, error) {
	body, err := s.getObject(ctx, s.recordKey(id))
	if err != nil {
		if isNotFound(err) {
			return record.Record{}, remote.ErrNotFound
		}
		return record.Record{}, classify(remote.OpFetchByID, err)
	}
	r, err := decodeRecord(body)
	if err != nil {
		return record.Record{}, remote.Fatal(remote.OpFetchByID, err)
	}
	return r, nil
}

// Query streams the first page of matching records.
func (s *Store) Query(ctx context.Context, q remote.Query, each func(record.Record)) (remote.Cursor, error) {
	c := cursor{Type: q.RecordType, After: q.ModifiedAfter, Desc: q.Descending}
	return s.page(ctx, remote.OpQuery, c, q.Limit, each)
}

// Continue streams the page after the cursor's last record.
func (s *Store) Continue(ctx context.Context, cur remote.Cursor, limit int, each func(record.Record)) (remote.Cursor, error) {
	c, err := decodeCursor(cur)
	if err != nil {
		return "", remote.Fatal(remote.OpContinue, err)
	}
	return s.page(ctx, remote.OpContinue, c, limit, each)
}

func (s *Store) page(ctx context.Context, op string, c cursor, limit int, each func(record.Record)) (remote.Cursor, error) {
	if limit <= 0 {
		limit = DefaultMaxPage
	}
	matched, err := s.matching(ctx, c)
	if err != nil {
		return "", classify(op, err)
	}

	end := min(limit, len(matched))
	for _, r := range matched[:end] {
		each(r)
	}
	if end == len(matched) {
		return "", nil
	}
	last := matched[end-1]
	c.LastModified = last.ModifiedAt
	c.LastID = last.ID
	c.Started = true
	return c.encode()
}

// matching loads every record of c.Type modified after c.After and beyond
// the cursor position, in cursor order.
func (s *Store) matching(ctx context.Context, c cursor) ([]record.Record, error) {
	keys, err := s.listKeys(ctx, s.prefix+"records/")
	if err != nil {
		return nil, err
	}
	var out []record.Record
	for _, key := range keys {
		body, err := s.getObject(ctx, key)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		r, err := decodeRecord(body)
		if err != nil {
			s.log.Warn("skipping malformed record object", "key", key, "error", err)
			continue
		}
		if r.Type != c.Type || !r.ModifiedAt.After(c.After) {
			continue
		}
		if c.Started && c.compare(r.ModifiedAt, r.ID) <= 0 {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b record.Record) int {
		return c.order(a.ModifiedAt, a.ID, b.ModifiedAt, b.ID)
	})
	return out, nil
}

// CreateSubscription stores the subscription, replacing any with the same ID.
func (s *Store) CreateSubscription(ctx context.Context, spec remote.SubscriptionSpec) (remote.Subscription, error) {
	sub := remote.Subscription{
		ID:         spec.ID,
		RecordType: spec.RecordType,
		Predicate:  spec.Predicate,
		FiresOn:    slices.Clone(spec.FiresOn),
	}
	body, err := json.Marshal(sub)
	if err != nil {
		return remote.Subscription{}, remote.Fatal(remote.OpCreateSubscription, err)
	}
	if err := s.putObject(ctx, s.subscriptionKey(spec.ID), body); err != nil {
		return remote.Subscription{}, classify(remote.OpCreateSubscription, err)
	}
	return sub, nil
}

// FetchSubscription returns the subscription or nil when absent.
func (s *Store) FetchSubscription(ctx context.Context, id string) (*remote.Subscription, error) {
	body, err := s.getObject(ctx, s.subscriptionKey(id))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, classify(remote.OpFetchSubscription, err)
	}
	var sub remote.Subscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, remote.Fatal(remote.OpFetchSubscription, fmt.Errorf("decode subscription %s: %w", id, err))
	}
	return &sub, nil
}

// DeleteSubscription removes the subscription. S3 deletes are idempotent.
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	key := s.subscriptionKey(id)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil && !isNotFound(err) {
		return classify(remote.OpDeleteSubscription, err)
	}
	return nil
}

func (s *Store) putObject(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	return err
}

func (s *Store) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if path.Ext(key) == ".json" {
				keys = append(keys, key)
			}
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		return keys, nil
	}
}

func decodeRecord(body []byte) (record.Record, error) {
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return record.Record{}, fmt.Errorf("decode record: %w", err)
	}
	if doc.ID == "" {
		return record.Record{}, errors.New("decode record: missing id")
	}
	fields := record.Fields{}
	if len(doc.Fields) > 0 {
		var err error
		if fields, err = record.UnmarshalFields(doc.Fields); err != nil {
			return record.Record{}, fmt.Errorf("decode record %s: %w", doc.ID, err)
		}
	}
	return record.Record{ID: doc.ID, Type: doc.Type, Fields: fields, ModifiedAt: doc.ModifiedAt.UTC()}, nil
}
