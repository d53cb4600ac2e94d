package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSumDaily(t *testing.T) {
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	total := sumDaily([]DailyActivity{
		{Date: day, Created: 3, Resolved: 1, MediaUploaded: 2},
		{Date: day.AddDate(0, 0, -1), Created: 2, Updated: 4, Deleted: 1},
	})
	assert.Equal(t, int64(5), total.Created)
	assert.Equal(t, int64(4), total.Updated)
	assert.Equal(t, int64(1), total.Resolved)
	assert.Equal(t, int64(1), total.Deleted)
	assert.Equal(t, int64(2), total.MediaUploaded)
}

func TestResolutionRate(t *testing.T) {
	assert.Equal(t, 0.0, resolutionRate(0, 5))
	assert.Equal(t, 50.0, resolutionRate(4, 2))
	assert.Equal(t, 33.33, resolutionRate(3, 1))
}

func TestGenerateActivityReportRejectsBadWindow(t *testing.T) {
	_, err := GenerateActivityReport(context.Background(), nil, 0)
	assert.Error(t, err)
}
