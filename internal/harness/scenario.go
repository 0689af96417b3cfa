package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/roach88/pubsync/internal/projector"
	"github.com/roach88/pubsync/internal/record"
	"github.com/roach88/pubsync/internal/remote"
)

// DefaultEntity is the entity kind used when a scenario names none.
const DefaultEntity = "Item"

// DefaultStart is the fake clock's starting instant.
var DefaultStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// Scenario defines a sync scenario: the remote records that exist before
// the flow, the steps to perform and the assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Entity is the local entity kind. Defaults to DefaultEntity.
	Entity string `yaml:"entity,omitempty"`

	// PageSize and MaxRetryAttempts tune the engine. Zero keeps the
	// engine defaults.
	PageSize         int `yaml:"page_size,omitempty"`
	MaxRetryAttempts int `yaml:"max_retry_attempts,omitempty"`

	// Remote lists records present in the remote store before the flow.
	Remote []RemoteRecord `yaml:"remote,omitempty"`

	Flow []Step `yaml:"flow"`

	// Assertions validate the trace and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// RemoteRecord is a remote record in scenario form. Field names without
// the remote prefix get it added; CD_id and CD_entityName are filled in.
type RemoteRecord struct {
	ID string `yaml:"id"`

	// At is the modification time as an offset from the scenario start.
	At time.Duration `yaml:"at"`

	// Fields holds strings, integers, booleans or {time: RFC3339} maps.
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Step is one flow action.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// By is the clock advance (advance).
	By time.Duration `yaml:"by,omitempty"`

	// Record is the record to store remotely (put).
	Record *RemoteRecord `yaml:"record,omitempty"`

	// ID is the record to remove or notify about (remove, notify).
	ID string `yaml:"id,omitempty"`

	// Kind is created, updated or deleted (notify).
	Kind string `yaml:"kind,omitempty"`

	// Op is the remote operation to fail (fail).
	Op string `yaml:"op,omitempty"`

	// RetryAfter makes the scripted failure retryable (fail). Zero
	// scripts a fatal failure.
	RetryAfter time.Duration `yaml:"retry_after,omitempty"`

	// Times is how many consecutive calls fail (fail). Defaults to 1.
	Times int `yaml:"times,omitempty"`
}

// Step actions.
const (
	ActionStart   = "start"
	ActionAdvance = "advance"
	ActionPut     = "put"
	ActionRemove  = "remove"
	ActionNotify  = "notify"
	ActionFail    = "fail"
	ActionRestart = "restart"
)

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Count is the expected number (local_count, call_count).
	Count int `yaml:"count,omitempty"`

	// ID identifies a local row (local_entity, local_absent).
	ID string `yaml:"id,omitempty"`

	// Expect holds expected field values by local name (local_entity).
	// Subset match: unlisted fields are not checked.
	Expect map[string]any `yaml:"expect,omitempty"`

	// At is "epoch" or an offset from the scenario start (watermark).
	At string `yaml:"at,omitempty"`

	// Status is the expected engine status (status).
	Status string `yaml:"status,omitempty"`

	// Op is the remote operation (call_count).
	Op string `yaml:"op,omitempty"`

	// Ops is the expected call order (call_order).
	Ops []string `yaml:"ops,omitempty"`
}

// Assertion type constants.
const (
	AssertLocalCount  = "local_count"
	AssertLocalEntity = "local_entity"
	AssertLocalAbsent = "local_absent"
	AssertWatermark   = "watermark"
	AssertStatus      = "status"
	AssertCallCount   = "call_count"
	AssertCallOrder   = "call_order"
)

// WatermarkEpoch is the At value of a watermark that never advanced.
const WatermarkEpoch = "epoch"

var remoteOps = []string{
	remote.OpQuery,
	remote.OpContinue,
	remote.OpFetchByID,
	remote.OpCreateSubscription,
	remote.OpFetchSubscription,
	remote.OpDeleteSubscription,
}

var statuses = []string{"unknown", "verifying", "creating", "active", "stale", "halted"}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML: empty document")
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Entity == "" {
		scenario.Entity = DefaultEntity
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// RecordType returns the remote record type the scenario's entity maps to.
func (s *Scenario) RecordType() string {
	return projector.RemoteFieldPrefix + s.Entity
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.PageSize < 0 {
		return fmt.Errorf("page_size must be non-negative")
	}
	if s.MaxRetryAttempts < 0 {
		return fmt.Errorf("max_retry_attempts must be non-negative")
	}

	for i, r := range s.Remote {
		if err := validateRecord(fmt.Sprintf("remote[%d]", i), &r); err != nil {
			return err
		}
	}
	for i := range s.Flow {
		if err := validateStep(i, &s.Flow[i]); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateRecord(where string, r *RemoteRecord) error {
	if r.ID == "" {
		return fmt.Errorf("%s: id is required", where)
	}
	if r.At < 0 {
		return fmt.Errorf("%s: at must be non-negative", where)
	}
	for name, v := range r.Fields {
		if _, err := toValue(v); err != nil {
			return fmt.Errorf("%s.fields.%s: %w", where, name, err)
		}
	}
	return nil
}

// validateStep checks the parameters each action requires.
func validateStep(index int, st *Step) error {
	switch st.Action {
	case ActionStart, ActionRestart:
	case ActionAdvance:
		if st.By <= 0 {
			return fmt.Errorf("flow[%d]: by must be positive for advance", index)
		}
	case ActionPut:
		if st.Record == nil {
			return fmt.Errorf("flow[%d]: record is required for put", index)
		}
		return validateRecord(fmt.Sprintf("flow[%d].record", index), st.Record)
	case ActionRemove:
		if st.ID == "" {
			return fmt.Errorf("flow[%d]: id is required for remove", index)
		}
	case ActionNotify:
		if st.ID == "" {
			return fmt.Errorf("flow[%d]: id is required for notify", index)
		}
		if !slices.Contains(remote.AllEvents, remote.EventKind(st.Kind)) {
			return fmt.Errorf("flow[%d]: kind must be created, updated or deleted, got %q", index, st.Kind)
		}
	case ActionFail:
		if !slices.Contains(remoteOps, st.Op) {
			return fmt.Errorf("flow[%d]: unknown remote operation %q", index, st.Op)
		}
		if st.RetryAfter < 0 || st.Times < 0 {
			return fmt.Errorf("flow[%d]: retry_after and times must be non-negative", index)
		}
		if st.Times == 0 {
			st.Times = 1
		}
	case "":
		return fmt.Errorf("flow[%d]: action is required", index)
	default:
		return fmt.Errorf("flow[%d]: unknown action %q", index, st.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertLocalCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for local_count", index)
		}
	case AssertLocalEntity:
		if _, err := uuid.Parse(a.ID); err != nil {
			return fmt.Errorf("assertions[%d]: id must be a UUID for local_entity", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for local_entity", index)
		}
		for name, v := range a.Expect {
			if _, err := toValue(v); err != nil {
				return fmt.Errorf("assertions[%d].expect.%s: %w", index, name, err)
			}
		}
	case AssertLocalAbsent:
		if _, err := uuid.Parse(a.ID); err != nil {
			return fmt.Errorf("assertions[%d]: id must be a UUID for local_absent", index)
		}
	case AssertWatermark:
		if _, err := parseOffset(a.At); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertStatus:
		if !slices.Contains(statuses, a.Status) {
			return fmt.Errorf("assertions[%d]: unknown status %q", index, a.Status)
		}
	case AssertCallCount:
		if !slices.Contains(remoteOps, a.Op) {
			return fmt.Errorf("assertions[%d]: unknown remote operation %q", index, a.Op)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for call_count", index)
		}
	case AssertCallOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for call_order", index)
		}
		for _, op := range a.Ops {
			if !slices.Contains(remoteOps, op) {
				return fmt.Errorf("assertions[%d]: unknown remote operation %q", index, op)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// parseOffset reads a watermark At value. Epoch reads as nil.
func parseOffset(at string) (*time.Duration, error) {
	switch at {
	case "":
		return nil, fmt.Errorf("at is required for watermark")
	case WatermarkEpoch:
		return nil, nil
	}
	d, err := time.ParseDuration(at)
	if err != nil {
		return nil, fmt.Errorf("at must be %q or a duration: %w", WatermarkEpoch, err)
	}
	return &d, nil
}

// toValue converts a decoded YAML scalar to a record value.
func toValue(v any) (record.Value, error) {
	switch val := v.(type) {
	case string:
		return record.String(val), nil
	case int:
		return record.Int(val), nil
	case int64:
		return record.Int(val), nil
	case bool:
		return record.Bool(val), nil
	case time.Time:
		return record.NewTime(val), nil
	case map[string]any:
		raw, ok := val["time"].(string)
		if !ok || len(val) != 1 {
			return nil, fmt.Errorf("maps must be {time: RFC3339}")
		}
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid time %q", raw)
		}
		return record.NewTime(t), nil
	default:
		return nil, fmt.Errorf("unsupported value %v (%T)", v, v)
	}
}

// Record builds the remote record for entity, relative to start.
func (r RemoteRecord) Record(entity string, start time.Time) record.Record {
	fields := make(record.Fields, len(r.Fields)+2)
	for name, v := range r.Fields {
		val, _ := toValue(v)
		if !strings.HasPrefix(name, projector.RemoteFieldPrefix) {
			name = projector.RemoteFieldPrefix + name
		}
		fields[record.NormalizeName(name)] = val
	}
	fields[projector.RemoteFieldPrefix+projector.IDField] = record.String(r.ID)
	fields[projector.RemoteFieldPrefix+projector.EntityNameField] = record.String(entity)
	return record.Record{
		ID:         r.ID,
		Type:       projector.RemoteFieldPrefix + entity,
		Fields:     fields,
		ModifiedAt: start.Add(r.At),
	}
}
