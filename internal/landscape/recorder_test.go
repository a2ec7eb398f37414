package landscape

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tachyon-beep/elspeth/internal/contracts"
	"github.com/tachyon-beep/elspeth/internal/payloadstore"
)

// newTestRecorder starts a disposable Postgres container per test, matching
// tarsy's test/util/database.go container shape, minus the shared-container
// schema-per-test optimization (this suite is small enough not to need it).
func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("elspeth_test"),
		postgres.WithUsername("elspeth"),
		postgres.WithPassword("elspeth"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	store, err := payloadstore.NewFSStore(t.TempDir())
	require.NoError(t, err)

	cfg := Config{
		Host:     host,
		Port:     port.Int(),
		User:     "elspeth",
		Password: "elspeth",
		Database: "elspeth_test",
		SSLMode:  "disable",
	}
	rec, err := Open(ctx, cfg, store)
	require.NoError(t, err)
	t.Cleanup(rec.Close)
	return rec
}

func seedGraph(t *testing.T, rec *Recorder, ctx context.Context) (runID, sourceNodeID, transformNodeID, sinkNodeID, edgeID string) {
	t.Helper()
	run, err := rec.BeginRun(ctx, map[string]any{"pipeline": "test"}, "sha256-rfc8785-v1")
	require.NoError(t, err)
	runID = run.RunID

	seq0 := 0
	source, err := rec.RegisterNode(ctx, runID, "csv_source", contracts.NodeTypeSource, "1.0.0", contracts.DeterminismIORead, map[string]any{}, "", &seq0)
	require.NoError(t, err)
	sourceNodeID = source.NodeID

	seq1 := 1
	transform, err := rec.RegisterNode(ctx, runID, "uppercase", contracts.NodeTypeTransform, "1.0.0", contracts.DeterminismDeterministic, map[string]any{}, "", &seq1)
	require.NoError(t, err)
	transformNodeID = transform.NodeID

	seq2 := 2
	sink, err := rec.RegisterNode(ctx, runID, "file_sink", contracts.NodeTypeSink, "1.0.0", contracts.DeterminismIOWrite, map[string]any{}, "", &seq2)
	require.NoError(t, err)
	sinkNodeID = sink.NodeID

	edge, err := rec.RegisterEdge(ctx, runID, transformNodeID, sinkNodeID, "default", contracts.RoutingModeMove)
	require.NoError(t, err)
	edgeID = edge.EdgeID
	return
}

func TestRecorder_BeginRunAndRegisterGraph(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()
	runID, sourceNodeID, transformNodeID, sinkNodeID, edgeID := seedGraph(t, rec, ctx)
	require.NotEmpty(t, runID)
	require.NotEmpty(t, sourceNodeID)
	require.NotEmpty(t, transformNodeID)
	require.NotEmpty(t, sinkNodeID)
	require.NotEmpty(t, edgeID)
}

func TestRecorder_DuplicateEdgeLabelConflicts(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()
	runID, _, transformNodeID, sinkNodeID, _ := seedGraph(t, rec, ctx)

	_, err := rec.RegisterEdge(ctx, runID, transformNodeID, sinkNodeID, "default", contracts.RoutingModeMove)
	require.ErrorIs(t, err, contracts.ErrEdgeLabelConflict)
}

func TestRecorder_RowTokenNodeStateLifecycle(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()
	runID, sourceNodeID, transformNodeID, _, _ := seedGraph(t, rec, ctx)

	row, err := rec.CreateRow(ctx, runID, sourceNodeID, 0, map[string]any{"name": "ada"}, "")
	require.NoError(t, err)
	require.NotNil(t, row.SourceDataRef)

	tok, err := rec.CreateToken(ctx, row.RowID, "")
	require.NoError(t, err)

	state, err := rec.BeginNodeState(ctx, tok.TokenID, transformNodeID, 1, map[string]any{"name": "ada"})
	require.NoError(t, err)
	require.Equal(t, 1, state.Attempt)
	require.Equal(t, contracts.NodeStateOpen, state.Status)

	err = rec.CompleteNodeState(ctx, state.StateID, contracts.NodeStateCompleted, map[string]any{"name": "ADA"}, 5, nil)
	require.NoError(t, err)

	err = rec.CompleteNodeState(ctx, state.StateID, contracts.NodeStateCompleted, nil, 5, nil)
	require.ErrorIs(t, err, contracts.ErrStateNotOpen)

	state2, err := rec.BeginNodeState(ctx, tok.TokenID, transformNodeID, 2, map[string]any{"name": "ada"})
	require.NoError(t, err)
	require.Equal(t, 2, state2.Attempt, "attempts are monotonic per (token, node) — I2")
}

func TestRecorder_RoutingEventRequiresRegisteredEdge(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()
	runID, sourceNodeID, transformNodeID, _, edgeID := seedGraph(t, rec, ctx)

	row, err := rec.CreateRow(ctx, runID, sourceNodeID, 0, map[string]any{"name": "ada"}, "")
	require.NoError(t, err)
	tok, err := rec.CreateToken(ctx, row.RowID, "")
	require.NoError(t, err)
	state, err := rec.BeginNodeState(ctx, tok.TokenID, transformNodeID, 1, map[string]any{"name": "ada"})
	require.NoError(t, err)

	ev, err := rec.RecordRoutingEvent(ctx, state.StateID, edgeID, contracts.RoutingModeMove, map[string]any{"label": "default"})
	require.NoError(t, err)
	require.Equal(t, edgeID, ev.EdgeID)
}

func TestRecorder_BatchLifecycleEnforced(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()
	runID, _, transformNodeID, _, _ := seedGraph(t, rec, ctx)

	batch, err := rec.CreateBatch(ctx, runID, transformNodeID)
	require.NoError(t, err)

	row, err := rec.CreateRow(ctx, runID, transformNodeID, 0, map[string]any{"name": "ada"}, "")
	require.NoError(t, err)
	tok, err := rec.CreateToken(ctx, row.RowID, "")
	require.NoError(t, err)

	require.NoError(t, rec.AddBatchMember(ctx, batch.BatchID, tok.TokenID, 0))

	require.NoError(t, rec.UpdateBatchStatus(ctx, batch.BatchID, contracts.BatchExecuting, "size_threshold"))
	require.Error(t, rec.AddBatchMember(ctx, batch.BatchID, tok.TokenID, 1), "batch left draft, must reject new members")

	require.NoError(t, rec.UpdateBatchStatus(ctx, batch.BatchID, contracts.BatchCompleted, ""))
	err = rec.UpdateBatchStatus(ctx, batch.BatchID, contracts.BatchExecuting, "")
	require.ErrorIs(t, err, contracts.ErrInvalidBatchTransition)
}

func TestRecorder_ArtifactRequiresContentHash(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()
	runID, sourceNodeID, transformNodeID, sinkNodeID, _ := seedGraph(t, rec, ctx)

	row, err := rec.CreateRow(ctx, runID, sourceNodeID, 0, map[string]any{"name": "ada"}, "")
	require.NoError(t, err)
	tok, err := rec.CreateToken(ctx, row.RowID, "")
	require.NoError(t, err)
	state, err := rec.BeginNodeState(ctx, tok.TokenID, transformNodeID, 1, map[string]any{"name": "ada"})
	require.NoError(t, err)

	_, err = rec.RegisterArtifact(ctx, runID, state.StateID, sinkNodeID, contracts.ArtifactTypeFile, "/tmp/out.csv", "", 0, nil)
	require.Error(t, err)

	artifact, err := rec.RegisterArtifact(ctx, runID, state.StateID, sinkNodeID, contracts.ArtifactTypeFile, "/tmp/out.csv", "deadbeef", 128, map[string]any{"rows": 1})
	require.NoError(t, err)
	require.Equal(t, "deadbeef", artifact.ContentHash)
}

func TestRecorder_FinalizeRunComputesGrade(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()
	runID, _, _, _, _ := seedGraph(t, rec, ctx)

	require.NoError(t, rec.FinalizeRun(ctx, runID, contracts.RunStatusCompleted))

	status, err := rec.RunStatus(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, contracts.RunStatusCompleted, status)

	// seedGraph registers io_read, deterministic and io_write nodes only.
	grade, err := rec.RunReproducibilityGrade(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, contracts.GradeFullReproducible, grade)
}

func TestRecorder_ExplainRowReturnsLineage(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()
	runID, sourceNodeID, transformNodeID, _, _ := seedGraph(t, rec, ctx)

	row, err := rec.CreateRow(ctx, runID, sourceNodeID, 0, map[string]any{"name": "ada"}, "")
	require.NoError(t, err)
	tok, err := rec.CreateToken(ctx, row.RowID, "")
	require.NoError(t, err)
	state, err := rec.BeginNodeState(ctx, tok.TokenID, transformNodeID, 1, map[string]any{"name": "ada"})
	require.NoError(t, err)
	require.NoError(t, rec.CompleteNodeState(ctx, state.StateID, contracts.NodeStateCompleted, map[string]any{"name": "ADA"}, 3, nil))

	lineage, err := rec.ExplainRow(ctx, runID, row.RowID)
	require.NoError(t, err)
	require.True(t, lineage.PayloadAvailable)
	require.Equal(t, "ada", fmt.Sprint(lineage.SourceData["name"]))
	require.Len(t, lineage.Tokens, 1)
	require.Len(t, lineage.NodeStates, 1)
}

func TestRecorder_CheckpointLifecycle(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()
	runID, sourceNodeID, transformNodeID, _, _ := seedGraph(t, rec, ctx)

	row, err := rec.CreateRow(ctx, runID, sourceNodeID, 0, map[string]any{"name": "ada"}, "")
	require.NoError(t, err)
	tok, err := rec.CreateToken(ctx, row.RowID, "")
	require.NoError(t, err)

	has, err := rec.HasCheckpoints(ctx, runID)
	require.NoError(t, err)
	require.False(t, has)

	_, err = rec.CreateCheckpoint(ctx, runID, tok.TokenID, transformNodeID, 1, nil, map[string]any{"batch_size": 10})
	require.NoError(t, err)

	has, err = rec.HasCheckpoints(ctx, runID)
	require.NoError(t, err)
	require.True(t, has)

	latest, found, err := rec.LatestCheckpoint(ctx, runID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(1), latest.SequenceNumber)

	require.NoError(t, rec.DeleteCheckpointsForRun(ctx, runID))
	has, err = rec.HasCheckpoints(ctx, runID)
	require.NoError(t, err)
	require.False(t, has)
}
