package task

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndauphine/etl-orchestrator/internal/connection"
	"github.com/johndauphine/etl-orchestrator/internal/etlerr"
	"github.com/johndauphine/etl-orchestrator/internal/model"
	"github.com/johndauphine/etl-orchestrator/internal/store"
)

type fixture struct {
	store   *store.Store
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	st, err := store.New(db, store.WithRetry(2, time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	for _, c := range []*model.Connection{
		{ID: "mysql", Name: "shop", Type: model.RowStore, Host: "h", Port: 3306},
		{ID: "pg", Name: "warehouse", Type: model.ColumnarStore, Host: "h", Port: 5432},
		{ID: "redis", Name: "cache", Type: model.KVStore, Host: "h", Port: 6379},
	} {
		c.CreatedAt, c.UpdatedAt = time.Now().UTC(), time.Now().UTC()
		require.NoError(t, st.InsertConnection(ctx, c))
	}
	return &fixture{store: st, manager: New(st, connection.New(st))}
}

type runningSet map[string]bool

func (r runningSet) IsRunning(id string) bool { return r[id] }

func copySpec() Spec {
	return Spec{
		Name:               "copy from users",
		Type:               "row-to-columnar-copy",
		SourceConnectionID: "mysql",
		TargetConnectionID: "pg",
		Config:             model.Config{"batch_size": 500},
	}
}

func TestCreateStoresPendingTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.manager.Create(ctx, copySpec())
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.StatusPending, created.Status)
	assert.Equal(t, model.RowToColumnarCopy, created.Type)

	got, err := f.manager.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "copy from users", got.Name)
	assert.Equal(t, float64(500), got.Config["batch_size"])

	all, err := f.manager.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateAcceptsLegacyTypeNames(t *testing.T) {
	f := newFixture(t)
	spec := copySpec()
	spec.Type = "mysql_to_postgres"
	created, err := f.manager.Create(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, model.RowToColumnarCopy, created.Type)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name    string
		mutate  func(*Spec)
		wantMsg string
	}{
		{"missing name", func(s *Spec) { s.Name = " " }, "name is required"},
		{"unknown type", func(s *Spec) { s.Type = "teleport" }, "unsupported task type"},
		{"missing source", func(s *Spec) { s.SourceConnectionID = "" }, "source connection is required"},
		{"source does not exist", func(s *Spec) { s.SourceConnectionID = "ghost" }, `source connection "ghost" does not exist`},
		{"missing target", func(s *Spec) { s.TargetConnectionID = "" }, "requires a target connection"},
		{"wrong source kind", func(s *Spec) { s.SourceConnectionID = "pg" }, "needs a row-store source"},
		{"wrong target kind", func(s *Spec) { s.TargetConnectionID = "redis" }, "needs a columnar-store target"},
		{"zero batch size", func(s *Spec) { s.Config = model.Config{"batch_size": 0} }, "batch_size must be a positive integer"},
		{"fractional retries", func(s *Spec) { s.Config = model.Config{"max_retries": 1.5} }, "max_retries must be an integer"},
		{"table not a string", func(s *Spec) { s.Config = model.Config{"source_table": 42} }, "source_table must be a string"},
		{"bad resume", func(s *Spec) { s.Config = model.Config{"resume": "maybe"} }, "resume must be a boolean"},
		{
			name: "materialize without query or table",
			mutate: func(s *Spec) {
				s.Name, s.Type, s.TargetConnectionID = "warm cache", "row-to-kv-materialize", "redis"
				s.Config = nil
			},
			wantMsg: "source_query is required",
		},
		{
			name: "negative expiry",
			mutate: func(s *Spec) {
				s.Type, s.TargetConnectionID = "row-to-kv-materialize", "redis"
				s.Config = model.Config{"expire_seconds": -1}
			},
			wantMsg: "expire_seconds must be >= 0",
		},
		{
			name: "statement on kv",
			mutate: func(s *Spec) {
				s.Type, s.SourceConnectionID, s.TargetConnectionID = "custom-statement", "redis", ""
				s.Config = model.Config{"sql": "SELECT 1"}
			},
			wantMsg: "custom statements cannot run on kv-store",
		},
		{
			name: "statement without sql",
			mutate: func(s *Spec) {
				s.Name, s.Type, s.TargetConnectionID = "cleanup", "custom-statement", ""
				s.Config = nil
			},
			wantMsg: "sql is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := copySpec()
			tt.mutate(&spec)
			_, err := f.manager.Create(context.Background(), spec)
			require.Error(t, err)
			assert.ErrorIs(t, err, etlerr.ErrValidation)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestCreateReportsEveryProblem(t *testing.T) {
	f := newFixture(t)
	spec := copySpec()
	spec.Name = ""
	spec.Config = model.Config{"batch_size": -1, "schema": true}
	_, err := f.manager.Create(context.Background(), spec)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"name is required", "batch_size", "schema must be a string"} {
		assert.True(t, strings.Contains(msg, want), "%q missing from %q", want, msg)
	}
}

func TestCreateInferableFieldsOnlyWarn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Create(ctx, Spec{Name: "nightly", Type: "row-to-columnar-copy", SourceConnectionID: "mysql", TargetConnectionID: "pg"})
	require.NoError(t, err)
	_, err = f.manager.Create(ctx, Spec{Name: "cache from users", Type: "columnar-to-kv-materialize", SourceConnectionID: "pg", TargetConnectionID: "redis"})
	require.NoError(t, err)
	_, err = f.manager.Create(ctx, Spec{Name: "sql ping", Type: "custom-statement", SourceConnectionID: "pg"})
	require.NoError(t, err)
}

func TestUpdateKeepsStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.manager.Create(ctx, copySpec())
	require.NoError(t, err)
	require.NoError(t, f.manager.MarkRunning(ctx, created.ID, time.Now()))

	spec := copySpec()
	spec.Name = "copy from orders"
	spec.Config = model.Config{"source_table": "orders"}
	updated, err := f.manager.Update(ctx, created.ID, spec)
	require.NoError(t, err)
	assert.Equal(t, "copy from orders", updated.Name)

	got, err := f.manager.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
	assert.Equal(t, "orders", got.Config["source_table"])

	spec.Type = "nope"
	_, err = f.manager.Update(ctx, created.ID, spec)
	assert.ErrorIs(t, err, etlerr.ErrValidation)

	_, err = f.manager.Update(ctx, "missing", copySpec())
	assert.ErrorIs(t, err, etlerr.ErrNotFound)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.manager.Create(ctx, copySpec())
	require.NoError(t, err)

	f.manager.SetRunningChecker(runningSet{created.ID: true})
	err = f.manager.Delete(ctx, created.ID)
	assert.ErrorIs(t, err, etlerr.ErrConflict)

	f.manager.SetRunningChecker(runningSet{})
	require.NoError(t, f.manager.AddHistory(ctx, &model.History{TaskID: created.ID, Status: model.StatusCompleted, StartTime: time.Now()}))
	require.NoError(t, f.manager.Delete(ctx, created.ID))

	_, err = f.manager.Get(ctx, created.ID)
	assert.ErrorIs(t, err, etlerr.ErrNotFound)
	assert.ErrorIs(t, f.manager.Delete(ctx, created.ID), etlerr.ErrNotFound)
}

func TestUpdateStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.manager.Create(ctx, copySpec())
	require.NoError(t, err)

	_, err = f.manager.UpdateStatus(ctx, created.ID, model.StatusCompleted)
	assert.ErrorIs(t, err, etlerr.ErrConflict, "pending cannot complete without running")

	_, err = f.manager.UpdateStatus(ctx, created.ID, "paused")
	assert.ErrorIs(t, err, etlerr.ErrValidation)

	got, err := f.manager.UpdateStatus(ctx, created.ID, model.StatusRunning)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)

	_, err = f.manager.UpdateStatus(ctx, created.ID, model.StatusCancelled)
	require.NoError(t, err)

	_, err = f.manager.UpdateStatus(ctx, created.ID, model.StatusCancelled)
	assert.ErrorIs(t, err, etlerr.ErrConflict, "terminal tasks cannot be cancelled")

	_, err = f.manager.UpdateStatus(ctx, created.ID, model.StatusRunning)
	assert.NoError(t, err, "terminal tasks can be re-run")
}

func TestHistoryDefaultsAndOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.manager.Create(ctx, copySpec())
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		h := &model.History{TaskID: created.ID, Status: model.StatusCompleted, StartTime: base.Add(time.Duration(i) * time.Minute), RowsProcessed: int64(i)}
		require.NoError(t, f.manager.AddHistory(ctx, h))
		assert.NotNil(t, h.EndTime, "end time defaults to now")
	}

	hist, err := f.manager.History(ctx, created.ID, 0)
	require.NoError(t, err)
	require.Len(t, hist, DefaultHistoryLimit)
	assert.Equal(t, int64(11), hist[0].RowsProcessed)
	assert.True(t, hist[0].StartTime.After(hist[1].StartTime))

	hist, err = f.manager.History(ctx, created.ID, 3)
	require.NoError(t, err)
	assert.Len(t, hist, 3)

	_, err = f.manager.History(ctx, "missing", 0)
	assert.ErrorIs(t, err, etlerr.ErrNotFound)
}

func TestFinishAndSaveConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.manager.Create(ctx, copySpec())
	require.NoError(t, err)

	start := time.Now().UTC()
	require.NoError(t, f.manager.MarkRunning(ctx, created.ID, start))
	require.NoError(t, f.manager.SaveConfig(ctx, created.ID, model.Config{"source_table": "users", "batch_size": 500}))
	require.NoError(t, f.manager.Finish(ctx, created.ID, model.StatusCompleted, start.Add(time.Second), model.Config{"rows_processed": 10}, "", false))

	got, err := f.manager.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "users", got.Config["source_table"])
	assert.Equal(t, float64(10), got.Result["rows_processed"])
	require.NotNil(t, got.EndTime)

	cps := f.manager.Checkpoints()
	require.NoError(t, cps.SaveCheckpoint(ctx, &model.Checkpoint{TaskID: created.ID, Offset: 5}))
	cp, err := cps.GetCheckpoint(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cp.Offset)
}

func TestUpdateClearsCheckpointWhenDefinitionChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spec := copySpec()
	spec.Config = model.Config{"source_table": "users", "batch_size": 2}
	created, err := f.manager.Create(ctx, spec)
	require.NoError(t, err)
	cps := f.manager.Checkpoints()
	save := func() {
		require.NoError(t, cps.SaveCheckpoint(ctx, &model.Checkpoint{TaskID: created.ID, Offset: 4, RowsDone: 4, RowsTotal: 6}))
	}

	save()
	spec.Description = "nightly"
	_, err = f.manager.Update(ctx, created.ID, spec)
	require.NoError(t, err)
	cp, err := cps.GetCheckpoint(ctx, created.ID)
	require.NoError(t, err)
	assert.NotNil(t, cp, "a description change keeps the watermark")

	spec.Config = model.Config{"source_table": "orders", "batch_size": 2}
	_, err = f.manager.Update(ctx, created.ID, spec)
	require.NoError(t, err)
	cp, err = cps.GetCheckpoint(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, cp)

	save()
	spec.SourceConnectionID = "mysql2"
	require.NoError(t, f.store.InsertConnection(ctx, &model.Connection{
		ID: "mysql2", Name: "shop replica", Type: model.RowStore, Host: "h", Port: 3306,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}))
	_, err = f.manager.Update(ctx, created.ID, spec)
	require.NoError(t, err)
	cp, err = cps.GetCheckpoint(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestCreateStatementIgnoresTargetKind(t *testing.T) {
	f := newFixture(t)
	created, err := f.manager.Create(context.Background(), Spec{
		Name:               "purge sessions",
		Type:               "custom-statement",
		SourceConnectionID: "mysql",
		TargetConnectionID: "redis",
		Config:             model.Config{"sql": "DELETE FROM sessions"},
	})
	require.NoError(t, err)
	assert.Equal(t, "redis", created.TargetConnectionID)
}
