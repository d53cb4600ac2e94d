package models

import "time"

// NewTestReport returns a pending roads report owned by userID at the given
// coordinates, created at createdAt.
func NewTestReport(id, userID string, lat, lng float64, createdAt time.Time) *Report {
	return &Report{
		ID:         id,
		UserID:     userID,
		Title:      "Pothole",
		Category:   CategoryRoads,
		Priority:   PriorityHigh,
		Department: CategoryRoads.DefaultDepartment(),
		MediaURLs:  []string{},
		Latitude:   &lat,
		Longitude:  &lng,
		Address:    "MG Road",
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}
