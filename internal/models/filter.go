package models

import "time"

// Pagination defaults for listing a user's reports.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// ReportFilter narrows and paginates a user's reports.
type ReportFilter struct {
	Status   string // StatusResolved, StatusPending or empty for both
	Category Category
	Priority Priority
	From     *time.Time // inclusive lower bound on createdAt
	To       *time.Time // inclusive upper bound on createdAt
	Page     int
	Limit    int
}

// Normalized returns a copy with pagination defaults applied.
func (f ReportFilter) Normalized() ReportFilter {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return f
}

// Offset is the number of matching reports skipped before the page.
func (f ReportFilter) Offset() int {
	n := f.Normalized()
	return (n.Page - 1) * n.Limit
}

// Matches reports whether r passes the non-pagination criteria.
func (f ReportFilter) Matches(r *Report) bool {
	switch f.Status {
	case StatusResolved:
		if !r.IsResolved {
			return false
		}
	case StatusPending:
		if r.IsResolved {
			return false
		}
	}
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Priority != "" && r.Priority != f.Priority {
		return false
	}
	if f.From != nil && r.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && r.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

// ReportPage is one page of a filtered listing.
type ReportPage struct {
	Reports     []Report `json:"reports"`
	Total       int      `json:"total"`
	CurrentPage int      `json:"currentPage"`
	TotalPages  int      `json:"totalPages"`
	Limit       int      `json:"limit"`
}

// TotalPages returns ceil(total/limit).
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
