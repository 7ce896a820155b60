package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/radproof/pkg/runtime"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScenarioAndTargetDocs(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutScenario("sc-1", "basic-auth", "apiVersion: scenario/v1"))
	doc, err := s.GetScenario("sc-1")
	require.NoError(t, err)
	assert.Equal(t, "apiVersion: scenario/v1", doc)

	// Upsert replaces the document in place.
	require.NoError(t, s.PutScenario("sc-1", "basic-auth", "apiVersion: scenario/v1 # v2"))
	doc, err = s.GetScenario("sc-1")
	require.NoError(t, err)
	assert.Contains(t, doc, "v2")

	_, err = s.GetScenario("missing")
	assert.Error(t, err)

	require.NoError(t, s.PutTarget("tg-1", "lab-db", "name: lab-db"))
	doc, err = s.GetTarget("tg-1")
	require.NoError(t, err)
	assert.Equal(t, "name: lab-db", doc)
}

func TestExecutionLifecycle(t *testing.T) {
	s := newTestStore(t)

	rec := &runtime.ExecutionRecord{
		ID:         "20260825T120000-abcd",
		ScenarioID: "sc-1",
		TargetID:   "tg-1",
		StartedAt:  time.Now().Truncate(time.Second),
		Status:     runtime.ExecRunning,
	}
	require.NoError(t, s.CreateExecution(rec))

	got, err := s.GetExecution(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, runtime.ExecRunning, got.Status)
	assert.Nil(t, got.EndedAt)

	ended := time.Now().Truncate(time.Second)
	rec.EndedAt = &ended
	rec.Status = runtime.ExecCompleted
	rec.ResultID = "res-1"
	require.NoError(t, s.FinishExecution(rec))

	got, err = s.GetExecution(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, runtime.ExecCompleted, got.Status)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, "res-1", got.ResultID)

	// Finishing a record that was never created is an error.
	err = s.FinishExecution(&runtime.ExecutionRecord{ID: "ghost", Status: runtime.ExecFailed})
	assert.Error(t, err)
}

func TestAppendLogAndOrderedRetrieval(t *testing.T) {
	s := newTestStore(t)

	base := time.Now()
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.AppendLog(runtime.LogEntry{
			ID:          "entry-" + string(rune('0'+i)),
			ExecutionID: "exec-1",
			Seq:         int64(i),
			Timestamp:   base.Add(time.Duration(i) * time.Millisecond),
			Level:       runtime.LevelInfo,
			Message:     "message",
		}))
	}
	// A different execution's entries must never leak into the stream.
	require.NoError(t, s.AppendLog(runtime.LogEntry{
		ID: "other", ExecutionID: "exec-2", Seq: 1, Timestamp: base, Level: runtime.LevelInfo, Message: "other",
	}))

	entries, err := s.Logs("exec-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.Equal(t, "exec-1", e.ExecutionID)
	}

	tail, err := s.Logs("exec-1", 3)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(4), tail[0].Seq)
}

func TestSaveResultWriteOnce(t *testing.T) {
	s := newTestStore(t)

	res := &runtime.TestResult{
		ID:           "res-1",
		ScenarioName: "basic-auth",
		Status:       runtime.ResultPass,
		Timestamp:    time.Now().Truncate(time.Second),
		LatencyMS:    1234,
		Target:       "lab-db",
		Details:      map[string]string{"executionId": "exec-1", "verdict": "success"},
	}
	require.NoError(t, s.SaveResult("exec-1", res))

	// The unique execution_id constraint makes a second write fail.
	dup := *res
	dup.ID = "res-2"
	assert.Error(t, s.SaveResult("exec-1", &dup))

	got, err := s.ResultForExecution("exec-1")
	require.NoError(t, err)
	assert.Equal(t, runtime.ResultPass, got.Status)
	assert.Equal(t, "success", got.Details["verdict"])
	assert.Equal(t, int64(1234), got.LatencyMS)

	_, err = s.ResultForExecution("exec-none")
	assert.Error(t, err)
}

func TestListResultsNewestFirst(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveResult("exec-"+string(rune('a'+i)), &runtime.TestResult{
			ID:           "res-" + string(rune('a'+i)),
			ScenarioName: "s",
			Status:       runtime.ResultPass,
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			Target:       "t",
			Details:      map[string]string{},
		}))
	}

	results, err := s.ListResults(2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "res-c", results[0].ID)
	assert.Equal(t, "res-b", results[1].ID)
}

func TestStoreIsLogSink(t *testing.T) {
	var _ runtime.LogSink = newTestStore(t)
}
