// Package notify decodes push-notification payloads into typed change
// events.
//
// The transport that delivers payloads is outside this module; callers hand
// raw bytes to the engine, which uses a Decoder to classify them.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/pubsync/internal/record"
	"github.com/roach88/pubsync/internal/remote"
)

// ErrUnrecognized is returned for payloads that are not query notifications.
var ErrUnrecognized = errors.New("notify: unrecognized payload")

// Notification is a decoded single-record change event.
type Notification struct {
	SubscriptionID string
	RecordType     string
	Kind           remote.EventKind
	RecordID       string
}

// Decoder maps an opaque payload to a Notification.
type Decoder interface {
	Decode(payload []byte) (Notification, error)
}

// Reason codes carried in the "fo" field.
const (
	ReasonCreated = 1
	ReasonUpdated = 2
	ReasonDeleted = 3
)

// wire is the JSON payload shape:
//
//	{"aps": {...}, "ck": {"qry": {"sid": "...", "rt": "CD_Item", "rid": "...", "fo": 1}}}
type wire struct {
	CK *struct {
		Query *struct {
			SubscriptionID string `json:"sid"`
			RecordType     string `json:"rt"`
			RecordID       string `json:"rid"`
			Reason         int    `json:"fo"`
		} `json:"qry"`
	} `json:"ck"`
}

// JSONDecoder decodes the default JSON payload shape.
type JSONDecoder struct{}

// Decode implements Decoder.
func (JSONDecoder) Decode(payload []byte) (Notification, error) {
	var w wire
	if err := json.Unmarshal(payload, &w); err != nil {
		return Notification{}, &record.DecodeError{Reason: "malformed notification", Err: err}
	}
	if w.CK == nil || w.CK.Query == nil {
		return Notification{}, ErrUnrecognized
	}
	q := w.CK.Query
	if q.SubscriptionID == "" {
		return Notification{}, &record.DecodeError{Field: "sid", Reason: "missing subscription id"}
	}
	if q.RecordID == "" {
		return Notification{}, &record.DecodeError{Field: "rid", Reason: "missing record id"}
	}

	n := Notification{SubscriptionID: q.SubscriptionID, RecordType: q.RecordType, RecordID: q.RecordID}
	switch q.Reason {
	case ReasonCreated:
		n.Kind = remote.EventCreated
	case ReasonUpdated:
		n.Kind = remote.EventUpdated
	case ReasonDeleted:
		n.Kind = remote.EventDeleted
	default:
		return Notification{}, &record.DecodeError{Field: "fo", Reason: fmt.Sprintf("unknown notification reason %d", q.Reason)}
	}
	return n, nil
}

// Encode builds a payload in the default JSON shape.
func Encode(n Notification) ([]byte, error) {
	var reason int
	switch n.Kind {
	case remote.EventCreated:
		reason = ReasonCreated
	case remote.EventUpdated:
		reason = ReasonUpdated
	case remote.EventDeleted:
		reason = ReasonDeleted
	default:
		return nil, fmt.Errorf("notify: unknown event kind %q", n.Kind)
	}
	return json.Marshal(map[string]any{
		"ck": map[string]any{
			"qry": map[string]any{
				"sid": n.SubscriptionID,
				"rt":  n.RecordType,
				"rid": n.RecordID,
				"fo":  reason,
			},
		},
	})
}
