package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepline/manifest/internal/causality"
	"github.com/prepline/manifest/internal/ir"
	"github.com/prepline/manifest/internal/store"
)

func seedOutbox(t *testing.T, dbPath string, seqs ...int64) {
	t.Helper()
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	events := make([]store.EventInput, 0, len(seqs))
	for _, seq := range seqs {
		events = append(events, store.EventInput{
			ID:        uuid.NewString(),
			EventType: "shift.assigned",
			Seq:       seq,
			Payload:   ir.Object{"employee_id": ir.String("emp-1")},
		})
	}
	require.NoError(t, st.Apply(context.Background(), store.Commit{
		AggregateType: "Shift",
		AggregateID:   "shift-1",
		State:         ir.Object{"status": ir.String("assigned")},
		LastSeq:       seqs[len(seqs)-1],
		Clock:         causality.Clock{"node-a": 1},
		SchemaHash:    "deadbeef",
		Events:        events,
	}))
}

func TestRelay_DrainWritesEnvelopeLines(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "manifest.db")
	seedOutbox(t, dbPath, 1, 2)

	stdout, _, err := execCLI(t, "relay", "--drain", "--db", dbPath)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)

	for i, line := range lines {
		var env struct {
			EventType   string          `json:"eventType"`
			AggregateID string          `json:"aggregateId"`
			Seq         int64           `json:"seq"`
			VectorClock json.RawMessage `json:"vectorClock"`
			SchemaHash  string          `json:"schemaHash"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &env))
		assert.Equal(t, "shift.assigned", env.EventType)
		assert.Equal(t, "shift-1", env.AggregateID)
		assert.Equal(t, int64(i+1), env.Seq)
		assert.JSONEq(t, `{"node-a":1}`, string(env.VectorClock))
		assert.Equal(t, "deadbeef", env.SchemaHash)
	}

	// Everything was retired.
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	n, err := st.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelay_DrainEmptyOutboxExitsClean(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "manifest.db")
	seedOutbox(t, dbPath, 1)

	_, _, err := execCLI(t, "relay", "--drain", "--db", dbPath)
	require.NoError(t, err)

	// Second drain has nothing to do.
	stdout, _, err := execCLI(t, "relay", "--drain", "--db", dbPath)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(stdout))
}

func TestDead_EmptyStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "manifest.db")
	seedOutbox(t, dbPath, 1)

	stdout, _, err := execCLI(t, "dead", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "No dead rows")
}

func TestDead_ListsDeadRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "manifest.db")
	seedOutbox(t, dbPath, 1)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	rows, err := st.ClaimBatch(context.Background(), "w", 1, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, st.MarkDead(context.Background(), rows[0].ID, "payload too large"))
	require.NoError(t, st.Close())

	stdout, _, err := execCLI(t, "dead", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "1 dead row(s)")
	assert.Contains(t, stdout, "payload too large")

	stdout, _, err = execCLI(t, "--format", "json", "dead", "--db", dbPath)
	require.NoError(t, err)
	var resp struct {
		Status string `json:"status"`
		Data   []struct {
			EventType string `json:"eventType"`
			Attempts  int    `json:"attempts"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "shift.assigned", resp.Data[0].EventType)
}
