package testutil

import (
	"fmt"
	"time"

	"github.com/roach88/pubsync/internal/record"
)

// RecordID returns a deterministic UUID-shaped record name for index i.
func RecordID(i int) string {
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", i)
}

// Records builds n remote records of recordType. Record i is modified at
// base+i seconds and carries CD_id (its own ID) and CD_title fields, the way
// a mirrored Core Data row would.
func Records(recordType string, n int, base time.Time) []record.Record {
	out := make([]record.Record, n)
	for i := range out {
		id := RecordID(i + 1)
		out[i] = record.Record{
			ID:   id,
			Type: recordType,
			Fields: record.Fields{
				"CD_id":         record.String(id),
				"CD_title":      record.String(fmt.Sprintf("item %d", i+1)),
				"CD_entityName": record.String(recordType),
			},
			ModifiedAt: base.Add(time.Duration(i+1) * time.Second),
		}
	}
	return out
}
