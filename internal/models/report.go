package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Category classifies a civic issue. Each category is routed to a default
// department unless the reporter names one explicitly.
type Category string

const (
	CategoryRoads          Category = "roads"
	CategoryWater          Category = "water"
	CategorySanitation     Category = "sanitation"
	CategoryElectricity    Category = "electricity"
	CategoryInfrastructure Category = "infrastructure"
	CategoryEnvironment    Category = "environment"
	CategorySafety         Category = "safety"
	CategoryOther          Category = "other"
)

var defaultDepartments = map[Category]string{
	CategoryRoads:          "Public Works",
	CategoryWater:          "Water Supply",
	CategorySanitation:     "Sanitation",
	CategoryElectricity:    "Electricity Board",
	CategoryInfrastructure: "Urban Development",
	CategoryEnvironment:    "Environment",
	CategorySafety:         "Public Safety",
	CategoryOther:          "General Administration",
}

// Categories lists every supported category in display order.
func Categories() []Category {
	return []Category{
		CategoryRoads,
		CategoryWater,
		CategorySanitation,
		CategoryElectricity,
		CategoryInfrastructure,
		CategoryEnvironment,
		CategorySafety,
		CategoryOther,
	}
}

// ParseCategory normalizes s and reports whether it names a known category.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	_, ok := defaultDepartments[c]
	return c, ok
}

// DefaultDepartment returns the department a category is routed to.
func (c Category) DefaultDepartment() string {
	return defaultDepartments[c]
}

// Title returns the capitalized category name.
func (c Category) Title() string {
	if c == "" {
		return ""
	}
	return strings.ToUpper(string(c[:1])) + string(c[1:])
}

// Priority expresses how urgently a report should be handled.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Priorities lists every supported priority from lowest to highest.
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
}

// ParsePriority normalizes s and reports whether it names a known priority.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Priorities() {
		if p == known {
			return p, true
		}
	}
	return p, false
}

// Report statuses used when filtering.
const (
	StatusResolved = "resolved"
	StatusPending  = "pending"
)

// Report is a user-submitted record of a civic issue.
type Report struct {
	ID          string   `json:"id"`
	UserID      string   `json:"userId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
	Priority    Priority `json:"priority"`
	Department  string   `json:"department"`
	MediaURLs   []string `json:"mediaUrls"`
	AudioURL    string   `json:"audioUrl,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	Address     string   `json:"address"`

	IsResolved bool       `json:"isResolved"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	// TimeTakenToResolve is resolvedAt - createdAt in milliseconds.
	TimeTakenToResolve *int64 `json:"timeTakenToResolve,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are set.
func (r *Report) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// MarkResolved performs the one-way transition to resolved at the given
// instant. Clock skew between createdAt and now never yields a negative
// elapsed time.
func (r *Report) MarkResolved(now time.Time) {
	elapsed := now.Sub(r.CreatedAt).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	resolvedAt := now
	r.IsResolved = true
	r.ResolvedAt = &resolvedAt
	r.TimeTakenToResolve = &elapsed
	r.UpdatedAt = now
}

// ResolutionConsistent checks that the resolution fields are set if and only
// if the report is resolved.
func (r *Report) ResolutionConsistent() bool {
	if r.IsResolved {
		return r.ResolvedAt != nil && r.TimeTakenToResolve != nil && *r.TimeTakenToResolve >= 0
	}
	return r.ResolvedAt == nil && r.TimeTakenToResolve == nil
}

// Clone returns a deep copy so callers can mutate it without touching store state.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	c := *r
	c.MediaURLs = append([]string{}, r.MediaURLs...)
	if r.Latitude != nil {
		v := *r.Latitude
		c.Latitude = &v
	}
	if r.Longitude != nil {
		v := *r.Longitude
		c.Longitude = &v
	}
	if r.ResolvedAt != nil {
		v := *r.ResolvedAt
		c.ResolvedAt = &v
	}
	if r.TimeTakenToResolve != nil {
		v := *r.TimeTakenToResolve
		c.TimeTakenToResolve = &v
	}
	return &c
}

// ReportInput is the payload accepted when creating a report.
type ReportInput struct {
	UserID      string   `json:"userId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Priority    string   `json:"priority"`
	Department  string   `json:"department"`
	MediaURLs   []string `json:"mediaUrls"`
	AudioURL    string   `json:"audioUrl"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Address     string   `json:"address"`
}

// ReportPatch carries a partial update. Nil fields are left untouched.
//
// The trailing raw fields are owned by create and resolve; their presence in
// a patch is rejected rather than silently ignored.
type ReportPatch struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Category    *string   `json:"category"`
	Priority    *string   `json:"priority"`
	Department  *string   `json:"department"`
	MediaURLs   *[]string `json:"mediaUrls"`
	AudioURL    *string   `json:"audioUrl"`
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
	Address     *string   `json:"address"`

	ID                 json.RawMessage `json:"id,omitempty"`
	UserID             json.RawMessage `json:"userId,omitempty"`
	IsResolved         json.RawMessage `json:"isResolved,omitempty"`
	CreatedAt          json.RawMessage `json:"createdAt,omitempty"`
	ResolvedAt         json.RawMessage `json:"resolvedAt,omitempty"`
	TimeTakenToResolve json.RawMessage `json:"timeTakenToResolve,omitempty"`
}

// ProtectedFields returns the names of fields present in the patch that
// cannot be changed through an update.
func (p ReportPatch) ProtectedFields() []string {
	var fields []string
	for _, f := range []struct {
		name string
		raw  json.RawMessage
	}{
		{"id", p.ID},
		{"userId", p.UserID},
		{"isResolved", p.IsResolved},
		{"createdAt", p.CreatedAt},
		{"resolvedAt", p.ResolvedAt},
		{"timeTakenToResolve", p.TimeTakenToResolve},
	} {
		if len(f.raw) > 0 {
			fields = append(fields, f.name)
		}
	}
	return fields
}

// NearbyReport pairs a report with its distance from the query point.
type NearbyReport struct {
	Report
	Distance float64 `json:"distance"` // meters
}

// UserStats aggregates a user's reports.
type UserStats struct {
	UserID     string         `json:"userId"`
	Total      int            `json:"total"`
	Resolved   int            `json:"resolved"`
	Pending    int            `json:"pending"`
	ByCategory map[string]int `json:"byCategory"`
	ByPriority map[string]int `json:"byPriority"`
	// AvgResolutionTime is the mean timeTakenToResolve in milliseconds
	// across resolved reports, zero when none are resolved.
	AvgResolutionTime  int64   `json:"avgResolutionTime"`
	AvgResolutionHours float64 `json:"avgResolutionHours"`
}

// NewUserStats returns empty stats for userID.
func NewUserStats(userID string) *UserStats {
	return &UserStats{
		UserID:     userID,
		ByCategory: make(map[string]int),
		ByPriority: make(map[string]int),
	}
}

// SetAverage derives the average fields from the sum of resolution times.
func (s *UserStats) SetAverage(totalMillis int64) {
	if s.Resolved == 0 {
		s.AvgResolutionTime = 0
		s.AvgResolutionHours = 0
		return
	}
	s.AvgResolutionTime = totalMillis / int64(s.Resolved)
	s.AvgResolutionHours = float64(s.AvgResolutionTime) / float64(time.Hour/time.Millisecond)
}

// Bounds is a latitude/longitude rectangle used to pre-filter nearby queries.
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// Contains reports whether the point lies inside the rectangle.
func (b Bounds) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}
