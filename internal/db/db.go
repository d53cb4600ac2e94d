package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/patrickwarner/civicreport/internal/models"
)

// reportColumns lists the reports table columns in scan order.
const reportColumns = `id, user_id, title, description, category, priority, department, media_urls, audio_url,
    latitude, longitude, address, is_resolved, created_at, updated_at, resolved_at, time_taken_ms`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanReport reads one row selected with reportColumns.
func scanReport(row rowScanner) (*models.Report, error) {
	var r models.Report
	var category, priority string
	var lat, lng sql.NullFloat64
	var resolvedAt sql.NullTime
	var taken sql.NullInt64
	if err := row.Scan(&r.ID, &r.UserID, &r.Title, &r.Description, &category, &priority, &r.Department,
		pq.Array(&r.MediaURLs), &r.AudioURL, &lat, &lng, &r.Address, &r.IsResolved,
		&r.CreatedAt, &r.UpdatedAt, &resolvedAt, &taken); err != nil {
		return nil, err
	}
	r.Category = models.Category(category)
	r.Priority = models.Priority(priority)
	if r.MediaURLs == nil {
		r.MediaURLs = []string{}
	}
	if lat.Valid {
		v := lat.Float64
		r.Latitude = &v
	}
	if lng.Valid {
		v := lng.Float64
		r.Longitude = &v
	}
	if resolvedAt.Valid {
		v := resolvedAt.Time.UTC()
		r.ResolvedAt = &v
	}
	if taken.Valid {
		v := taken.Int64
		r.TimeTakenToResolve = &v
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// reportArgs returns the column values of r in reportColumns order.
func reportArgs(r *models.Report) []any {
	mediaURLs := r.MediaURLs
	if mediaURLs == nil {
		mediaURLs = []string{}
	}
	return []any{
		r.ID, r.UserID, r.Title, r.Description, string(r.Category), string(r.Priority), r.Department,
		pq.Array(mediaURLs), r.AudioURL, nullFloat(r.Latitude), nullFloat(r.Longitude), r.Address,
		r.IsResolved, r.CreatedAt, r.UpdatedAt, nullTime(r.ResolvedAt), nullInt(r.TimeTakenToResolve),
	}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// placeholders returns "$from, $from+1, ..." for n arguments.
func placeholders(from, n int) string {
	out := make([]byte, 0, n*4)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ", "...)
		}
		out = append(out, fmt.Sprintf("$%d", from+i)...)
	}
	return string(out)
}
