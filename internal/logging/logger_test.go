package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := New(Options{Level: "info", Format: "json", Out: &buf})
	require.NoError(t, err)

	log.Info("Successfully migrated batch", "batch", 3, "records", 10)
	log.V(1).Info("Skipping batch due to checkpoint", "batch", 0)
	log.Error(errors.New("timeout"), "Failed to migrate batch", "batch", 4, "severity", "critical")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2, "debug line is filtered at info level")

	var info map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &info))
	assert.Equal(t, "info", info["level"])
	assert.Equal(t, "Successfully migrated batch", info["msg"])
	assert.EqualValues(t, 3, info["batch"])
	assert.Contains(t, info, "ts")

	var failed map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &failed))
	assert.Equal(t, "error", failed["level"])
	assert.Equal(t, "timeout", failed["error"])
	assert.Equal(t, "critical", failed["severity"])
}

func TestNewDebugEnablesV1(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := New(Options{Level: "debug", Format: "console", Out: &buf})
	require.NoError(t, err)
	log.V(1).Info("Skipping batch due to checkpoint")
	assert.Contains(t, buf.String(), "Skipping batch due to checkpoint")
}

func TestNewRejectsUnknownOptions(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
	_, err = New(Options{Format: "xml"})
	assert.Error(t, err)
}
