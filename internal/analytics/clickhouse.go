package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/civicreport/internal/observability"
)

// Event types written to report_events.
const (
	EventCreated       = "created"
	EventUpdated       = "updated"
	EventResolved      = "resolved"
	EventDeleted       = "deleted"
	EventMediaUploaded = "media_uploaded"
)

// AnalyticsService defines the interface for analytics operations.
// Implementations should handle cases where underlying storage is unavailable
// by returning ErrUnavailable.
type AnalyticsService interface {
	// RecordEvent appends one report lifecycle event.
	RecordEvent(ctx context.Context, ev Event) error
}

// Event is one row of the report_events table.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	EventType  string    `json:"event_type"`
	ReportID   string    `json:"report_id"`
	UserID     string    `json:"user_id"`
	ActorID    string    `json:"actor_id"`
	Category   string    `json:"category"`
	Priority   string    `json:"priority"`
	Department string    `json:"department"`
	// ResolutionMS is set for resolved events.
	ResolutionMS int64 `json:"resolution_ms"`
	// MediaCount and MediaBytes are set for media_uploaded events.
	MediaCount int    `json:"media_count"`
	MediaBytes int64  `json:"media_bytes"`
	DeviceType string `json:"device_type"`
	OS         string `json:"os"`
	Country    string `json:"country"`
}

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = fmt.Errorf("analytics unavailable")

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB      *sql.DB
	Metrics observability.MetricsRegistry
}

var _ AnalyticsService = (*Analytics)(nil)

const createEventsTable = `CREATE TABLE IF NOT EXISTS report_events (
       timestamp     DateTime64(3),
       event_type    LowCardinality(String),
       report_id     String,
       user_id       String,
       actor_id      String,
       category      LowCardinality(String),
       priority      LowCardinality(String),
       department    String,
       resolution_ms Int64,
       media_count   UInt16,
       media_bytes   Int64,
       device_type   LowCardinality(String),
       os            LowCardinality(String),
       country       LowCardinality(String)
   ) ENGINE=MergeTree() ORDER BY (event_type, timestamp)`

// InitClickHouse connects to ClickHouse and ensures the report_events table exists.
func InitClickHouse(ctx context.Context, dsn string, metrics observability.MetricsRegistry) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(25)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, createEventsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Analytics{DB: db, Metrics: metrics}, nil
}

// RecordEvent inserts a single event row into report_events.
func (a *Analytics) RecordEvent(ctx context.Context, ev Event) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	stmt := `INSERT INTO report_events (timestamp, event_type, report_id, user_id, actor_id, category, priority, department, resolution_ms, media_count, media_bytes, device_type, os, country) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := a.DB.ExecContext(ctx, stmt, ev.Timestamp, ev.EventType, ev.ReportID, ev.UserID, ev.ActorID,
		ev.Category, ev.Priority, ev.Department, ev.ResolutionMS, uint16(ev.MediaCount), ev.MediaBytes,
		ev.DeviceType, ev.OS, ev.Country); err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("event_type", ev.EventType))
		if a.Metrics != nil {
			a.Metrics.IncrementAnalyticsErrors()
		}
		return fmt.Errorf("insert %s event: %w", ev.EventType, err)
	}
	return nil
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

// GetEventsByReportID returns the history of a report ordered by timestamp.
func (a *Analytics) GetEventsByReportID(ctx context.Context, id string) ([]Event, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT timestamp, event_type, report_id, user_id, actor_id, category, priority, department, resolution_ms, media_count, media_bytes, device_type, os, country FROM report_events WHERE report_id=? ORDER BY timestamp`
	rows, err := a.DB.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []Event
	for rows.Next() {
		var ev Event
		var mediaCount uint16
		if err := rows.Scan(&ev.Timestamp, &ev.EventType, &ev.ReportID, &ev.UserID, &ev.ActorID, &ev.Category,
			&ev.Priority, &ev.Department, &ev.ResolutionMS, &mediaCount, &ev.MediaBytes, &ev.DeviceType, &ev.OS, &ev.Country); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.MediaCount = int(mediaCount)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}
