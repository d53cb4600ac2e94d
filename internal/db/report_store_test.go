package db

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/civicreport/internal/models"
)

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "$1", placeholders(1, 1))
	assert.Equal(t, "$3, $4, $5", placeholders(3, 3))
}

func TestFilterClause(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	where, args := filterClause("u1", models.ReportFilter{
		Status:   models.StatusPending,
		Category: models.CategoryRoads,
		From:     &from,
	})
	assert.Equal(t, "user_id = $1 AND NOT is_resolved AND category = $2 AND created_at >= $3", where)
	assert.Equal(t, []any{"u1", "roads", from}, args)
}

// newTestPostgres connects to POSTGRES_TEST_DSN and clears the reports
// table. Tests are skipped when the variable is unset.
func newTestPostgres(t *testing.T) *Postgres {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	pg, err := InitPostgres(context.Background(), dsn, 5, 5, time.Minute, time.Minute)
	require.NoError(t, err)
	t.Cleanup(pg.Close)
	_, err = pg.DB.Exec(`TRUNCATE reports`)
	require.NoError(t, err)
	return pg
}

func TestPostgresReportLifecycle(t *testing.T) {
	pg := newTestPostgres(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	rep := models.NewTestReport("r1", "u1", 12.9, 77.6, base)
	require.NoError(t, pg.Insert(ctx, rep))
	assert.ErrorIs(t, pg.Insert(ctx, rep), models.ErrConflict)

	got, err := pg.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Public Works", got.Department)
	assert.Equal(t, []string{}, got.MediaURLs)

	resolved, err := pg.Update(ctx, "r1", func(r *models.Report) error {
		r.MarkResolved(base.Add(2 * time.Hour))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, resolved.ResolutionConsistent())
	assert.Equal(t, int64(2*time.Hour/time.Millisecond), *resolved.TimeTakenToResolve)

	stats, err := pg.UserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 2.0, stats.AvgResolutionHours)

	require.NoError(t, pg.Delete(ctx, "r1"))
	_, err = pg.Get(ctx, "r1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, pg.Delete(ctx, "r1"), models.ErrNotFound)
}

func TestPostgresListByUserPagination(t *testing.T) {
	pg := newTestPostgres(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 25; i++ {
		id := "u1-" + twoDigits(i)
		require.NoError(t, pg.Insert(ctx, models.NewTestReport(id, "u1", 12.9, 77.6, base.Add(time.Duration(i)*time.Minute))))
	}

	page, total, err := pg.ListByUser(ctx, "u1", models.ReportFilter{Page: 2, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	require.Len(t, page, 10)
	assert.Equal(t, "u1-15", page[0].ID)
	assert.Equal(t, "u1-06", page[9].ID)
}

func TestPostgresResolveRacingDelete(t *testing.T) {
	pg := newTestPostgres(t)
	ctx := context.Background()
	require.NoError(t, pg.Insert(ctx, models.NewTestReport("r1", "u1", 1, 1, time.Now().UTC())))

	var wg sync.WaitGroup
	var updateErr, deleteErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, updateErr = pg.Update(ctx, "r1", func(r *models.Report) error {
			r.MarkResolved(time.Now().UTC())
			return nil
		})
	}()
	go func() {
		defer wg.Done()
		deleteErr = pg.Delete(ctx, "r1")
	}()
	wg.Wait()

	require.NoError(t, deleteErr)
	if updateErr != nil {
		assert.ErrorIs(t, updateErr, models.ErrNotFound)
	}
	_, err := pg.Get(ctx, "r1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func twoDigits(i int) string {
	return string([]byte{byte('0' + i/10), byte('0' + i%10)})
}
