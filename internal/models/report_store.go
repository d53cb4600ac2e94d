package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ReportStore persists reports. Implementations must serialize Update and
// Delete calls for the same id so that a resolve racing a delete either
// completes first or observes ErrNotFound.
type ReportStore interface {
	// Insert stores a new report. The ID must already be assigned.
	Insert(ctx context.Context, r *Report) error
	// Get returns a copy of the report or ErrNotFound.
	Get(ctx context.Context, id string) (*Report, error)
	// ListByUser returns one page of a user's reports, newest first, and the
	// total number of reports matching the filter.
	ListByUser(ctx context.Context, userID string, f ReportFilter) ([]Report, int, error)
	// Update loads the report, applies fn to a copy and persists the result
	// atomically. If fn returns ErrNoChange the current report is returned
	// without writing; any other error aborts the update.
	Update(ctx context.Context, id string, fn func(*Report) error) (*Report, error)
	// Delete removes the report permanently or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
	// WithinBounds returns reports with coordinates inside b. status may be
	// empty, StatusResolved or StatusPending.
	WithinBounds(ctx context.Context, b Bounds, status string) ([]Report, error)
	// UserStats aggregates the user's reports.
	UserStats(ctx context.Context, userID string) (*UserStats, error)
	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}

// InMemoryReportStore implements ReportStore in process memory. A single
// RWMutex serializes writers, which is sufficient for tests and single-node
// development.
type InMemoryReportStore struct {
	mu      sync.RWMutex
	reports map[string]*Report
}

var _ ReportStore = (*InMemoryReportStore)(nil)

// NewInMemoryReportStore creates an empty store.
func NewInMemoryReportStore() *InMemoryReportStore {
	return &InMemoryReportStore{reports: make(map[string]*Report)}
}

func (s *InMemoryReportStore) Insert(ctx context.Context, r *Report) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("insert report: missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[r.ID]; exists {
		return fmt.Errorf("insert report %s: %w", r.ID, ErrConflict)
	}
	s.reports[r.ID] = r.Clone()
	return nil
}

func (s *InMemoryReportStore) Get(ctx context.Context, id string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *InMemoryReportStore) ListByUser(ctx context.Context, userID string, f ReportFilter) ([]Report, int, error) {
	f = f.Normalized()

	s.mu.RLock()
	var matched []*Report
	for _, r := range s.reports {
		if r.UserID == userID && f.Matches(r) {
			matched = append(matched, r.Clone())
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(matched)

	total := len(matched)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	page := make([]Report, 0, end-start)
	for _, r := range matched[start:end] {
		page = append(page, *r)
	}
	return page, total, nil
}

func (s *InMemoryReportStore) Update(ctx context.Context, id string, fn func(*Report) error) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return current.Clone(), nil
		}
		return nil, err
	}
	next.ID = current.ID
	s.reports[id] = next
	return next.Clone(), nil
}

func (s *InMemoryReportStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return ErrNotFound
	}
	delete(s.reports, id)
	return nil
}

func (s *InMemoryReportStore) WithinBounds(ctx context.Context, b Bounds, status string) ([]Report, error) {
	filter := ReportFilter{Status: status}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Report
	for _, r := range s.reports {
		if !r.HasCoordinates() || !filter.Matches(r) {
			continue
		}
		if b.Contains(*r.Latitude, *r.Longitude) {
			out = append(out, *r.Clone())
		}
	}
	return out, nil
}

func (s *InMemoryReportStore) UserStats(ctx context.Context, userID string) (*UserStats, error) {
	stats := NewUserStats(userID)
	var totalMillis int64

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reports {
		if r.UserID != userID {
			continue
		}
		stats.Total++
		if r.IsResolved {
			stats.Resolved++
			if r.TimeTakenToResolve != nil {
				totalMillis += *r.TimeTakenToResolve
			}
		} else {
			stats.Pending++
		}
		stats.ByCategory[string(r.Category)]++
		stats.ByPriority[string(r.Priority)]++
	}
	stats.SetAverage(totalMillis)
	return stats, nil
}

func (s *InMemoryReportStore) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of stored reports.
func (s *InMemoryReportStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}

func sortNewestFirst(reports []*Report) {
	sort.Slice(reports, func(i, j int) bool {
		if reports[i].CreatedAt.Equal(reports[j].CreatedAt) {
			return reports[i].ID > reports[j].ID
		}
		return reports[i].CreatedAt.After(reports[j].CreatedAt)
	})
}
