package monitoring_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liteproxy/liteproxy/internal/monitoring"
)

func readJSONL(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestTracker_Disabled(t *testing.T) {
	tr, err := monitoring.NewTracker(monitoring.TelemetryConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, tr.Enabled())

	// No-op, no panic.
	tr.RecordRequest(&monitoring.RequestEvent{RequestID: "x"})
	tr.RecordInit(&monitoring.InitEvent{Event: "init"})
	assert.NoError(t, tr.Close())
}

func TestTracker_NilIsSafe(t *testing.T) {
	var tr *monitoring.Tracker
	tr.RecordRequest(&monitoring.RequestEvent{})
	assert.False(t, tr.Enabled())
	assert.NoError(t, tr.Close())
}

func TestTracker_WritesRequestAndInitEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "requests.jsonl")

	tr, err := monitoring.NewTracker(monitoring.TelemetryConfig{Enabled: true, LogPath: path})
	require.NoError(t, err)
	require.True(t, tr.Enabled())

	tr.RecordRequest(&monitoring.RequestEvent{
		RequestID:  "req-1",
		Timestamp:  time.Now(),
		Method:     "GET",
		Route:      "/api/v9/users/@me/guilds",
		StatusCode: 200,
		Success:    true,
	})
	tr.RecordRequest(&monitoring.RequestEvent{RequestID: "req-2", StatusCode: 404})
	tr.RecordInit(&monitoring.InitEvent{Event: "gateway_init", Version: "1.0.0", ServerPort: 8080})
	require.NoError(t, tr.Close())

	events := readJSONL(t, path)
	require.Len(t, events, 2)
	assert.Equal(t, "req-1", events[0]["request_id"])
	assert.Equal(t, "/api/v9/users/@me/guilds", events[0]["route"])
	assert.Equal(t, float64(404), events[1]["status_code"])

	inits := readJSONL(t, filepath.Join(dir, "logs", "init.jsonl"))
	require.Len(t, inits, 1)
	assert.Equal(t, "gateway_init", inits[0]["event"])
}
