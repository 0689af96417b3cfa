package s3store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/pubsync/internal/remote"
)

// cursor is a keyset position: the query parameters plus the last record
// handed out. It is encoded as base64url JSON.
type cursor struct {
	Type         string    `json:"t"`
	After        time.Time `json:"a"`
	Desc         bool      `json:"d,omitempty"`
	Started      bool      `json:"s,omitempty"`
	LastModified time.Time `json:"m,omitzero"`
	LastID       string    `json:"i,omitempty"`
}

// order compares two records in cursor order: modification time (newest
// first when Desc), then ID ascending.
func (c cursor) order(am time.Time, aid string, bm time.Time, bid string) int {
	n := am.Compare(bm)
	if c.Desc {
		n = -n
	}
	if n == 0 {
		return strings.Compare(aid, bid)
	}
	return n
}

// compare positions a record relative to the cursor's last record.
func (c cursor) compare(m time.Time, id string) int {
	return c.order(m, id, c.LastModified, c.LastID)
}

func (c cursor) encode() (remote.Cursor, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return remote.Cursor(base64.RawURLEncoding.EncodeToString(data)), nil
}

func decodeCursor(rc remote.Cursor) (cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(string(rc))
	if err != nil {
		return cursor{}, fmt.Errorf("malformed cursor: %w", err)
	}
	var c cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return cursor{}, fmt.Errorf("malformed cursor: %w", err)
	}
	if c.Type == "" || !c.Started {
		return cursor{}, fmt.Errorf("malformed cursor: missing position")
	}
	return c, nil
}
