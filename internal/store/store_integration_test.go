//go:build integration

package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/wsaxqd/home-work2-sub001/internal/behavior"
	"github.com/wsaxqd/home-work2-sub001/internal/knowledge"
	"github.com/wsaxqd/home-work2-sub001/internal/recommend"
)

func openPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("learnengine"),
		postgres.WithUsername("learn"),
		postgres.WithPassword("learn"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	s, err := Open(ctx, DriverPostgres, dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIntegration_Postgres_ConcurrentAttempts(t *testing.T) {
	s := openPostgres(t)
	graph, err := knowledge.New([]knowledge.KnowledgePoint{
		{ID: "kp", Subject: "math", Grade: 3, Name: "KP", Difficulty: 1},
	})
	require.NoError(t, err)
	cfg := behavior.DefaultConfig()
	cfg.MaxConflictRetries = 10
	agg, err := behavior.NewAggregator(s.Behavior(), graph, cfg, nil, nil, nil)
	require.NoError(t, err)

	const n = 40
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := agg.RecordAttempt(context.Background(), attempt(fmt.Sprintf("p%d", i), i%3 != 0, t0)); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	rec, err := s.Behavior().GetRecord(context.Background(), "u1", "kp")
	require.NoError(t, err)
	require.Equal(t, n, rec.TotalAttempts)
	require.Equal(t, rec.TotalAttempts, rec.CorrectCount+rec.WrongCount)
	require.Equal(t, int64(n), rec.Version)
}

func TestIntegration_Postgres_OpenRecommendationUnique(t *testing.T) {
	s := openPostgres(t)
	repo := s.Recommendations()
	ctx := context.Background()

	require.NoError(t, repo.SaveRun(ctx, nil, []recommend.Recommendation{newRec("a")}))
	require.ErrorIs(t, repo.SaveRun(ctx, nil, []recommend.Recommendation{newRec("a")}), ErrConflict)
}
