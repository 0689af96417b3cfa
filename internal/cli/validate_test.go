package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runValidateCmd(t *testing.T, format, path string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format, ConfigPath: path})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(nil)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidate_OK(t *testing.T) {
	out, err := runValidateCmd(t, "text", writeConfig(t, t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, "config OK\n", out)
}

func TestValidate_OKJSON(t *testing.T) {
	out, err := runValidateCmd(t, "json", writeConfig(t, t.TempDir()))
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Entities)
}

func TestValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: mysql\nentities: []\n"), 0o644))

	out, err := runValidateCmd(t, "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E003]: config invalid")
	assert.Contains(t, out, "database.driver")
	assert.Contains(t, out, "remote.bucket")
}

func TestValidate_InvalidJSONListsIssues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("remote:\n  bucket: b\nentities:\n  - name: Item\n  - name: Item\n"), 0o644))

	out, err := runValidateCmd(t, "json", path)
	require.Error(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfigInvalid, resp.Error.Code)
	assert.NotEmpty(t, resp.Error.Details)
}

func TestValidate_MissingFile(t *testing.T) {
	out, err := runValidateCmd(t, "text", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeConfigMissing)
}
