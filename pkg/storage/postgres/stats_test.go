package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/smsforward/pkg/model"
	"github.com/kart-io/smsforward/pkg/stats"
)

var statsCols = []string{"date", "total_received", "total_forwarded", "total_failed", "total_ignored",
	"average_processing_time", "processing_samples", "success_rate"}

func TestStatsRepository_PutAndGet(t *testing.T) {
	mock := newMock(t)
	repo := NewStatsRepository(mock, nil)
	ctx := context.Background()
	day := model.ForwardStatistics{Date: "2024-03-01", TotalReceived: 4, TotalForwarded: 3, TotalIgnored: 1,
		AverageProcessingTime: 25, ProcessingSamples: 4, SuccessRate: 0.75}

	mock.ExpectExec(sql(putStatsSQL)).
		WithArgs("2024-03-01", int64(4), int64(3), int64(0), int64(1), float64(25), int64(4), 0.75).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(sql(getStatsSQL)).WithArgs("2024-03-01").
		WillReturnRows(pgxmock.NewRows(statsCols).AddRow("2024-03-01", int64(4), int64(3), int64(0), int64(1), float64(25), int64(4), 0.75))
	mock.ExpectQuery(sql(getStatsSQL)).WithArgs("2024-03-02").WillReturnRows(pgxmock.NewRows(statsCols))

	require.NoError(t, repo.Put(ctx, day))
	got, err := repo.Get(ctx, "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, day, got)

	_, err = repo.Get(ctx, "2024-03-02")
	assert.ErrorIs(t, err, stats.ErrNotFound)
}

func TestStatsRepository_RangeAndDelete(t *testing.T) {
	mock := newMock(t)
	repo := NewStatsRepository(mock, nil)
	ctx := context.Background()

	mock.ExpectQuery(sql(rangeStatsSQL)).WithArgs("2024-03-01", "2024-03-07").
		WillReturnRows(pgxmock.NewRows(statsCols).
			AddRow("2024-03-01", int64(2), int64(2), int64(0), int64(0), float64(10), int64(2), float64(1)).
			AddRow("2024-03-03", int64(1), int64(0), int64(1), int64(0), float64(30), int64(1), float64(0)))
	mock.ExpectExec(sql(deleteStatsSQL)).WithArgs("2024-02-01").WillReturnResult(pgxmock.NewResult("DELETE", 12))

	days, err := repo.Range(ctx, "2024-03-01", "2024-03-07")
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2024-03-03", days[1].Date)
	assert.Equal(t, int64(1), days[1].TotalFailed)

	n, err := repo.DeleteOlderThan(ctx, "2024-02-01")
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}
