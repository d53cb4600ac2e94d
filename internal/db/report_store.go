package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/patrickwarner/civicreport/internal/models"
)

var _ models.ReportStore = (*Postgres)(nil)

// uniqueViolation is the SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

func (p *Postgres) Insert(ctx context.Context, r *models.Report) error {
	query := `INSERT INTO reports (` + reportColumns + `) VALUES (` + placeholders(1, 17) + `)`
	if _, err := p.DB.ExecContext(ctx, query, reportArgs(r)...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("insert report %s: %w", r.ID, models.ErrConflict)
		}
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*models.Report, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

// filterClause renders the WHERE clause for a user's listing.
func filterClause(userID string, f models.ReportFilter) (string, []any) {
	conds := []string{"user_id = $1"}
	args := []any{userID}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	switch f.Status {
	case models.StatusResolved:
		conds = append(conds, "is_resolved")
	case models.StatusPending:
		conds = append(conds, "NOT is_resolved")
	}
	if f.Category != "" {
		add("category = $%d", string(f.Category))
	}
	if f.Priority != "" {
		add("priority = $%d", string(f.Priority))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	return strings.Join(conds, " AND "), args
}

func (p *Postgres) ListByUser(ctx context.Context, userID string, f models.ReportFilter) ([]models.Report, int, error) {
	f = f.Normalized()
	where, args := filterClause(userID, f)

	var total int
	if err := p.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}
	if total == 0 {
		return []models.Report{}, 0, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM reports WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		reportColumns, where, len(args)+1, len(args)+2)
	rows, err := p.DB.QueryContext(ctx, query, append(args, f.Limit, f.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	reports := make([]models.Report, 0, f.Limit)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate reports: %w", err)
	}
	return reports, total, nil
}

// Update locks the row for the duration of fn so concurrent updates,
// resolves and deletes of the same report are applied one at a time.
func (p *Postgres) Update(ctx context.Context, id string, fn func(*models.Report) error) (*models.Report, error) {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, err := scanReport(tx.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock report: %w", err)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, models.ErrNoChange) {
			return current, nil
		}
		return nil, err
	}
	next.ID = current.ID

	args := reportArgs(next)
	// id stays as $1, the remaining columns follow in order
	cols := strings.Split(reportColumns, ",")
	sets := make([]string, 0, len(cols)-1)
	for i, c := range cols[1:] {
		sets = append(sets, fmt.Sprintf("%s = $%d", strings.TrimSpace(c), i+2))
	}
	if _, err := tx.ExecContext(ctx, `UPDATE reports SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...); err != nil {
		return nil, fmt.Errorf("update report: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return next, nil
}

// Delete relies on the row lock taken by DELETE itself: it waits for an
// in-flight Update of the same report, and an Update that starts afterwards
// finds no row and reports ErrNotFound.
func (p *Postgres) Delete(ctx context.Context, id string) error {
	res, err := p.DB.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (p *Postgres) WithinBounds(ctx context.Context, b models.Bounds, status string) ([]models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports
        WHERE latitude IS NOT NULL AND longitude IS NOT NULL
          AND latitude BETWEEN $1 AND $2 AND longitude BETWEEN $3 AND $4`
	switch status {
	case models.StatusResolved:
		query += ` AND is_resolved`
	case models.StatusPending:
		query += ` AND NOT is_resolved`
	}
	rows, err := p.DB.QueryContext(ctx, query, b.MinLat, b.MaxLat, b.MinLng, b.MaxLng)
	if err != nil {
		return nil, fmt.Errorf("query bounds: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *Postgres) UserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT category, priority, is_resolved, COUNT(*), COALESCE(SUM(time_taken_ms), 0)
        FROM reports WHERE user_id = $1 GROUP BY category, priority, is_resolved`, userID)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	stats := models.NewUserStats(userID)
	var totalMillis int64
	for rows.Next() {
		var category, priority string
		var resolved bool
		var count int
		var millis int64
		if err := rows.Scan(&category, &priority, &resolved, &count, &millis); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.Total += count
		stats.ByCategory[category] += count
		stats.ByPriority[priority] += count
		if resolved {
			stats.Resolved += count
			totalMillis += millis
		} else {
			stats.Pending += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	stats.SetAverage(totalMillis)
	return stats, nil
}
