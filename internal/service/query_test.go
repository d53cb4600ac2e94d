package service

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/civicreport/internal/geo"
	"github.com/patrickwarner/civicreport/internal/models"
)

func TestFilterFromQueryDefaults(t *testing.T) {
	f, err := FilterFromQuery(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPage, f.Page)
	assert.Equal(t, models.DefaultLimit, f.Limit)
	assert.Empty(t, f.Status)
	assert.Nil(t, f.From)
	assert.Nil(t, f.To)
}

func TestFilterFromQuery(t *testing.T) {
	q := url.Values{
		"status":   {"Resolved"},
		"category": {"WATER"},
		"priority": {"urgent"},
		"from":     {"01/03/2024"},
		"to":       {"2024-03-31"},
		"page":     {"3"},
		"limit":    {"500"},
	}
	f, err := FilterFromQuery(q)
	require.NoError(t, err)

	assert.Equal(t, models.StatusResolved, f.Status)
	assert.Equal(t, models.CategoryWater, f.Category)
	assert.Equal(t, models.PriorityUrgent, f.Priority)
	require.NotNil(t, f.From)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *f.From)
	require.NotNil(t, f.To)
	assert.Equal(t, time.Date(2024, 3, 31, 23, 59, 59, 999999999, time.UTC), *f.To)
	assert.Equal(t, 3, f.Page)
	assert.Equal(t, models.MaxLimit, f.Limit)
}

func TestFilterFromQueryStatusAll(t *testing.T) {
	f, err := FilterFromQuery(url.Values{"status": {"all"}})
	require.NoError(t, err)
	assert.Empty(t, f.Status)
}

func TestFilterFromQueryRejects(t *testing.T) {
	for name, q := range map[string]url.Values{
		"status":      {"status": {"open"}},
		"category":    {"category": {"potholes"}},
		"priority":    {"priority": {"asap"}},
		"page":        {"page": {"0"}},
		"limit":       {"limit": {"ten"}},
		"from":        {"from": {"yesterday"}},
		"range order": {"from": {"2024-03-02"}, "to": {"2024-03-01"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := FilterFromQuery(q)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
}

func TestNearbyFromQuery(t *testing.T) {
	nq, err := NearbyFromQuery(url.Values{"lat": {"12.97"}, "lng": {"77.59"}, "radius": {"1500"}, "limit": {"5"}, "status": {"Pending"}})
	require.NoError(t, err)
	require.NotNil(t, nq.Latitude)
	require.NotNil(t, nq.Longitude)
	assert.Equal(t, 12.97, *nq.Latitude)
	assert.Equal(t, 77.59, *nq.Longitude)
	assert.Equal(t, 1500.0, nq.Radius)
	assert.Equal(t, 5, nq.Limit)
	assert.Equal(t, models.StatusPending, nq.Status)

	_, err = NearbyFromQuery(url.Values{"lat": {"north"}})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestNearbyNormalize(t *testing.T) {
	nq, err := NearbyQuery{Latitude: ptr(1.0), Longitude: ptr(2.0)}.normalize()
	require.NoError(t, err)
	assert.Equal(t, geo.DefaultRadiusMeters, nq.Radius)
	assert.Equal(t, geo.DefaultNearbyLimit, nq.Limit)

	nq, err = NearbyQuery{Latitude: ptr(1.0), Longitude: ptr(2.0), Limit: 10000, Status: "all"}.normalize()
	require.NoError(t, err)
	assert.Equal(t, geo.MaxNearbyLimit, nq.Limit)
	assert.Empty(t, nq.Status)

	_, err = NearbyQuery{Latitude: ptr(1.0), Longitude: ptr(2.0), Status: "closed"}.normalize()
	assert.ErrorIs(t, err, models.ErrValidation)
}
