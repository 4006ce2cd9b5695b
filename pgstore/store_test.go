package pgstore_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/xray"
	"github.com/ashita-ai/xray/migrations"
	"github.com/ashita-ai/xray/pgstore"
)

var testStore *pgstore.Store

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "xray",
			"POSTGRES_PASSWORD": "xray",
			"POSTGRES_DB":       "xray",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "skipping pgstore tests: no container runtime: %v\n", err)
		os.Exit(0)
	}

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5432")
	dsn := fmt.Sprintf("postgres://xray:xray@%s:%s/xray?sslmode=disable", host, port.Port())

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	testStore, err = pgstore.New(ctx, dsn, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create store: %v\n", err)
		os.Exit(1)
	}

	if err := testStore.RunMigrations(ctx, migrations.FS); err != nil {
		fmt.Fprintf(os.Stderr, "migrations failed: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	testStore.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func testExecution(id string) xray.Execution {
	return xray.Execution{
		ID:        id,
		Name:      "pipeline-run",
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
		Steps:     []xray.StepRecord{},
		Tags:      []string{"demo"},
		Notes:     "trace",
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	ctx := context.Background()

	exec := testExecution("pg_exec_1")
	require.NoError(t, testStore.SaveExecution(ctx, exec))
	t.Cleanup(func() { _ = testStore.DeleteExecution(ctx, exec.ID) })

	got, err := testStore.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.Name, got.Name)
	assert.True(t, exec.StartedAt.Equal(got.StartedAt))
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, []string{"demo"}, got.Tags)
	assert.Empty(t, got.Steps)

	now := time.Now().UTC().Truncate(time.Millisecond)
	exec.CompletedAt = &now
	require.NoError(t, testStore.SaveExecution(ctx, exec))

	got, err = testStore.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, now.Equal(*got.CompletedAt))
}

func TestGetNotFound(t *testing.T) {
	_, err := testStore.GetExecution(context.Background(), "pg_missing")
	assert.ErrorIs(t, err, xray.ErrNotFound)
}

func TestAddStepIdempotentAndOrdered(t *testing.T) {
	ctx := context.Background()
	exec := testExecution("pg_exec_steps")
	require.NoError(t, testStore.SaveExecution(ctx, exec))
	t.Cleanup(func() { _ = testStore.DeleteExecution(ctx, exec.ID) })

	step := xray.StepRecord{
		ID:        "pg_step_1",
		Name:      "evaluate",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Input:     map[string]any{"query": "widgets"},
		Evaluations: []xray.CandidateEvaluation{{
			ID:        "cand_1",
			Label:     "Widget",
			Metrics:   map[string]float64{"price": 19.99},
			Results:   map[string]xray.FilterResult{"affordable": {Passed: true, Detail: "ok"}},
			Qualified: true,
		}},
		Selection: &xray.Selection{ID: "cand_1", Reason: "cheapest"},
	}
	require.NoError(t, testStore.AddStep(ctx, exec.ID, step))
	require.NoError(t, testStore.AddStep(ctx, exec.ID, xray.StepRecord{ID: "pg_step_2", Name: "notify"}))

	step.Reasoning = "revised"
	require.NoError(t, testStore.AddStep(ctx, exec.ID, step))

	got, err := testStore.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "evaluate", got.Steps[0].Name)
	assert.Equal(t, "revised", got.Steps[0].Reasoning)
	require.Len(t, got.Steps[0].Evaluations, 1)
	assert.Equal(t, 19.99, got.Steps[0].Evaluations[0].Metrics["price"])
	assert.Equal(t, "notify", got.Steps[1].Name)

	// Absent fields come back absent.
	assert.Nil(t, got.Steps[1].Input)
	assert.Nil(t, got.Steps[1].Evaluations)
	assert.Nil(t, got.Steps[1].Selection)
}

func TestAddStepUnknownExecution(t *testing.T) {
	err := testStore.AddStep(context.Background(), "pg_missing", xray.StepRecord{ID: "s"})
	assert.ErrorIs(t, err, xray.ErrNotFound)
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	ids := []string{"pg_list_1", "pg_list_2", "pg_list_3"}
	for i, id := range ids {
		exec := testExecution(id)
		exec.StartedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, testStore.SaveExecution(ctx, exec))
	}
	t.Cleanup(func() { _ = testStore.DeleteExecutions(ctx, ids) })

	all, err := testStore.ListExecutions(ctx, 0, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(all), 3)
	// Newest of the seeded batch sorts before the oldest.
	posOf := func(id string) int {
		for i, e := range all {
			if e.ID == id {
				return i
			}
		}
		return -1
	}
	assert.Less(t, posOf("pg_list_3"), posOf("pg_list_1"))

	require.NoError(t, testStore.DeleteExecutions(ctx, []string{"pg_list_1", "pg_list_2"}))
	_, err = testStore.GetExecution(ctx, "pg_list_1")
	assert.ErrorIs(t, err, xray.ErrNotFound)

	n, err := testStore.CountExecutions(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}
