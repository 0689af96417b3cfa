package cli

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeConfig writes a two-entity config backed by a SQLite file in dir and
// returns its path.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	doc := `store_identity: default
database:
  driver: sqlite3
  dsn: ` + filepath.Join(dir, "pubsync.db") + `
remote:
  bucket: test-bucket
http:
  listen: 127.0.0.1:0
entities:
  - name: Item
  - name: Note
`
	path := filepath.Join(dir, "pubsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
