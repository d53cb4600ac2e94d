package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategoryAndDefaultDepartment(t *testing.T) {
	cases := map[string]string{
		"roads":          "Public Works",
		" Water ":        "Water Supply",
		"SANITATION":     "Sanitation",
		"electricity":    "Electricity Board",
		"infrastructure": "Urban Development",
		"environment":    "Environment",
		"safety":         "Public Safety",
		"other":          "General Administration",
	}
	for in, dept := range cases {
		c, ok := ParseCategory(in)
		require.True(t, ok, in)
		assert.Equal(t, dept, c.DefaultDepartment(), in)
	}

	_, ok := ParseCategory("potholes")
	assert.False(t, ok)
	assert.Len(t, Categories(), 8)
}

func TestParsePriority(t *testing.T) {
	p, ok := ParsePriority("High")
	assert.True(t, ok)
	assert.Equal(t, PriorityHigh, p)

	_, ok = ParsePriority("asap")
	assert.False(t, ok)
}

func TestMarkResolved(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := NewTestReport("r1", "u1", 12.9, 77.6, created)
	require.True(t, r.ResolutionConsistent())

	now := created.Add(90 * time.Minute)
	r.MarkResolved(now)

	assert.True(t, r.IsResolved)
	require.NotNil(t, r.ResolvedAt)
	assert.Equal(t, now, *r.ResolvedAt)
	require.NotNil(t, r.TimeTakenToResolve)
	assert.Equal(t, (90 * time.Minute).Milliseconds(), *r.TimeTakenToResolve)
	assert.True(t, r.ResolutionConsistent())
}

func TestMarkResolvedClampsClockSkew(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := NewTestReport("r1", "u1", 0, 0, created)
	r.MarkResolved(created.Add(-time.Second))
	assert.Equal(t, int64(0), *r.TimeTakenToResolve)
}

func TestResolutionConsistentDetectsPartialState(t *testing.T) {
	r := NewTestReport("r1", "u1", 0, 0, time.Now())
	now := time.Now()
	r.ResolvedAt = &now
	assert.False(t, r.ResolutionConsistent())
}

func TestCloneIsDeep(t *testing.T) {
	r := NewTestReport("r1", "u1", 1, 2, time.Now())
	r.MediaURLs = []string{"a"}
	c := r.Clone()
	c.MediaURLs[0] = "b"
	*c.Latitude = 50

	assert.Equal(t, "a", r.MediaURLs[0])
	assert.Equal(t, 1.0, *r.Latitude)
}

func TestReportPatchProtectedFields(t *testing.T) {
	var p ReportPatch
	require.NoError(t, json.Unmarshal([]byte(`{"title":"x","isResolved":true,"createdAt":"yesterday"}`), &p))
	assert.Equal(t, []string{"isResolved", "createdAt"}, p.ProtectedFields())
	require.NotNil(t, p.Title)
	assert.Equal(t, "x", *p.Title)

	var clean ReportPatch
	require.NoError(t, json.Unmarshal([]byte(`{"address":"Brigade Road"}`), &clean))
	assert.Empty(t, clean.ProtectedFields())
}

func TestValidationErrorMatchesSentinel(t *testing.T) {
	v := &ValidationError{}
	assert.NoError(t, v.Err())

	v.Add("userId", "is required")
	v.Add("category", "must be one of %s", "roads")
	err := v.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "userId is required")

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Fields, 2)
}

func TestUserStatsAverage(t *testing.T) {
	s := NewUserStats("u1")
	s.SetAverage(0)
	assert.Zero(t, s.AvgResolutionTime)

	s.Resolved = 2
	s.SetAverage((3 * time.Hour).Milliseconds())
	assert.Equal(t, (90 * time.Minute).Milliseconds(), s.AvgResolutionTime)
	assert.InDelta(t, 1.5, s.AvgResolutionHours, 1e-9)
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 0, TotalPages(0, 10))
	assert.Equal(t, 1, TotalPages(10, 10))
	assert.Equal(t, 3, TotalPages(25, 10))
}
