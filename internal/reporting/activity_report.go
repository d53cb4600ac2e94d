// Package reporting builds report activity summaries from the ClickHouse
// report_events log: daily volumes, category breakdowns with resolution
// times, and the devices reports are filed from.
package reporting

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DailyActivity counts lifecycle events on one day.
type DailyActivity struct {
	Date          time.Time `json:"date"`
	Created       int64     `json:"created"`
	Updated       int64     `json:"updated"`
	Resolved      int64     `json:"resolved"`
	Deleted       int64     `json:"deleted"`
	MediaUploaded int64     `json:"media_uploaded"`
}

// CategoryActivity summarises one category over the reporting window.
type CategoryActivity struct {
	Category           string  `json:"category"`
	Created            int64   `json:"created"`
	Resolved           int64   `json:"resolved"`
	ResolutionRate     float64 `json:"resolution_rate"` // percentage of created that were resolved
	AvgResolutionHours float64 `json:"avg_resolution_hours"`
}

// DeviceActivity counts created reports per device type and country.
type DeviceActivity struct {
	DeviceType string `json:"device_type"`
	Country    string `json:"country"`
	Created    int64  `json:"created"`
}

// ActivitySummary is the full activity report.
type ActivitySummary struct {
	Days       int                `json:"days"`
	Totals     DailyActivity      `json:"totals"`
	Daily      []DailyActivity    `json:"daily"`
	Categories []CategoryActivity `json:"categories"`
	Devices    []DeviceActivity   `json:"devices"`
}

// GenerateActivityReport queries ClickHouse for the last days of activity.
func GenerateActivityReport(ctx context.Context, db *sql.DB, days int) (*ActivitySummary, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}
	summary := &ActivitySummary{Days: days}

	daily, err := getDailyActivity(ctx, db, days)
	if err != nil {
		return nil, fmt.Errorf("get daily activity: %w", err)
	}
	summary.Daily = daily
	summary.Totals = sumDaily(daily)

	categories, err := getCategoryActivity(ctx, db, days)
	if err != nil {
		return nil, fmt.Errorf("get category activity: %w", err)
	}
	summary.Categories = categories

	devices, err := getDeviceActivity(ctx, db, days, 10)
	if err != nil {
		return nil, fmt.Errorf("get device activity: %w", err)
	}
	summary.Devices = devices

	return summary, nil
}

func sumDaily(daily []DailyActivity) DailyActivity {
	total := DailyActivity{Date: time.Now().UTC()}
	for _, d := range daily {
		total.Created += d.Created
		total.Updated += d.Updated
		total.Resolved += d.Resolved
		total.Deleted += d.Deleted
		total.MediaUploaded += d.MediaUploaded
	}
	return total
}

// resolutionRate returns resolved/created as a percentage rounded to two places.
func resolutionRate(created, resolved int64) float64 {
	if created <= 0 {
		return 0
	}
	rate := float64(resolved) / float64(created) * 100
	return float64(int64(rate*100+0.5)) / 100
}

func getDailyActivity(ctx context.Context, db *sql.DB, days int) ([]DailyActivity, error) {
	query := `
		SELECT
			toDate(timestamp) as date,
			countIf(event_type = 'created') as created,
			countIf(event_type = 'updated') as updated,
			countIf(event_type = 'resolved') as resolved,
			countIf(event_type = 'deleted') as deleted,
			countIf(event_type = 'media_uploaded') as media_uploaded
		FROM report_events
		WHERE timestamp >= now() - INTERVAL ? DAY
		GROUP BY date
		ORDER BY date DESC`

	rows, err := db.QueryContext(ctx, query, days)
	if err != nil {
		return nil, fmt.Errorf("query daily activity: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []DailyActivity
	for rows.Next() {
		var d DailyActivity
		if err := rows.Scan(&d.Date, &d.Created, &d.Updated, &d.Resolved, &d.Deleted, &d.MediaUploaded); err != nil {
			return nil, fmt.Errorf("scan daily activity: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func getCategoryActivity(ctx context.Context, db *sql.DB, days int) ([]CategoryActivity, error) {
	query := `
		SELECT
			category,
			countIf(event_type = 'created') as created,
			countIf(event_type = 'resolved') as resolved,
			round(avgIf(resolution_ms, event_type = 'resolved') / 3600000, 2) as avg_hours
		FROM report_events
		WHERE category != ''
			AND timestamp >= now() - INTERVAL ? DAY
		GROUP BY category
		ORDER BY created DESC`

	rows, err := db.QueryContext(ctx, query, days)
	if err != nil {
		return nil, fmt.Errorf("query category activity: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []CategoryActivity
	for rows.Next() {
		var c CategoryActivity
		var avg sql.NullFloat64
		if err := rows.Scan(&c.Category, &c.Created, &c.Resolved, &avg); err != nil {
			return nil, fmt.Errorf("scan category activity: %w", err)
		}
		if avg.Valid {
			c.AvgResolutionHours = avg.Float64
		}
		c.ResolutionRate = resolutionRate(c.Created, c.Resolved)
		out = append(out, c)
	}
	return out, rows.Err()
}

func getDeviceActivity(ctx context.Context, db *sql.DB, days, limit int) ([]DeviceActivity, error) {
	query := `
		SELECT
			device_type,
			country,
			count() as created
		FROM report_events
		WHERE event_type = 'created'
			AND timestamp >= now() - INTERVAL ? DAY
		GROUP BY device_type, country
		ORDER BY created DESC
		LIMIT ?`

	rows, err := db.QueryContext(ctx, query, days, limit)
	if err != nil {
		return nil, fmt.Errorf("query device activity: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []DeviceActivity
	for rows.Next() {
		var d DeviceActivity
		if err := rows.Scan(&d.DeviceType, &d.Country, &d.Created); err != nil {
			return nil, fmt.Errorf("scan device activity: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
