package service

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/patrickwarner/civicreport/internal/geo"
	"github.com/patrickwarner/civicreport/internal/logic"
	"github.com/patrickwarner/civicreport/internal/models"
)

// FilterFromQuery parses the listing options of GET /user/{userId}:
// status, category, priority, from, to, page and limit.
func FilterFromQuery(q url.Values) (models.ReportFilter, error) {
	verr := &models.ValidationError{}
	var f models.ReportFilter

	switch s := strings.ToLower(strings.TrimSpace(q.Get("status"))); s {
	case "", "all":
	case models.StatusResolved, models.StatusPending:
		f.Status = s
	default:
		verr.Add("status", "must be resolved or pending")
	}

	if v := q.Get("category"); v != "" {
		c, ok := models.ParseCategory(v)
		if !ok {
			verr.Add("category", "must be one of %s", joinCategories())
		}
		f.Category = c
	}
	if v := q.Get("priority"); v != "" {
		p, ok := models.ParsePriority(v)
		if !ok {
			verr.Add("priority", "must be one of %s", joinPriorities())
		}
		f.Priority = p
	}

	if v := q.Get("from"); v != "" {
		t, _, err := logic.ParseFlexibleTime(v)
		if err != nil {
			verr.Add("from", "%v", err)
		} else {
			f.From = &t
		}
	}
	if v := q.Get("to"); v != "" {
		t, err := logic.ParseRangeEnd(v)
		if err != nil {
			verr.Add("to", "%v", err)
		} else {
			f.To = &t
		}
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		verr.Add("from", "must not be after to")
	}

	f.Page = positiveInt(verr, q, "page")
	f.Limit = positiveInt(verr, q, "limit")

	if err := verr.Err(); err != nil {
		return models.ReportFilter{}, err
	}
	return f.Normalized(), nil
}

// NearbyQuery is the input of GetNearby.
type NearbyQuery struct {
	Latitude  *float64
	Longitude *float64
	Radius    float64 // meters, 0 means the default
	Limit     int     // 0 means the default
	Status    string
}

// NearbyFromQuery parses lat, lng, radius, limit and status.
func NearbyFromQuery(q url.Values) (NearbyQuery, error) {
	verr := &models.ValidationError{}
	var nq NearbyQuery

	nq.Latitude = optionalFloat(verr, q, "lat")
	nq.Longitude = optionalFloat(verr, q, "lng")
	if r := optionalFloat(verr, q, "radius"); r != nil {
		nq.Radius = *r
	}
	nq.Limit = positiveInt(verr, q, "limit")
	nq.Status = strings.ToLower(strings.TrimSpace(q.Get("status")))

	if err := verr.Err(); err != nil {
		return NearbyQuery{}, err
	}
	return nq, nil
}

// normalize validates nq and fills in defaults.
func (nq NearbyQuery) normalize() (NearbyQuery, error) {
	verr := &models.ValidationError{}
	if nq.Latitude == nil {
		verr.Add("lat", "is required")
	} else if !geo.ValidLatitude(*nq.Latitude) {
		verr.Add("lat", "must be between -90 and 90")
	}
	if nq.Longitude == nil {
		verr.Add("lng", "is required")
	} else if !geo.ValidLongitude(*nq.Longitude) {
		verr.Add("lng", "must be between -180 and 180")
	}

	switch {
	case nq.Radius == 0:
		nq.Radius = geo.DefaultRadiusMeters
	case nq.Radius < 0 || nq.Radius != nq.Radius:
		verr.Add("radius", "must be positive")
	case nq.Radius > geo.MaxRadiusMeters:
		verr.Add("radius", "must be at most %.0f meters", geo.MaxRadiusMeters)
	}

	switch {
	case nq.Limit <= 0:
		nq.Limit = geo.DefaultNearbyLimit
	case nq.Limit > geo.MaxNearbyLimit:
		nq.Limit = geo.MaxNearbyLimit
	}

	switch nq.Status {
	case "", "all":
		nq.Status = ""
	case models.StatusResolved, models.StatusPending:
	default:
		verr.Add("status", "must be resolved or pending")
	}
	return nq, verr.Err()
}

func positiveInt(verr *models.ValidationError, q url.Values, key string) int {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		verr.Add(key, "must be a positive integer")
		return 0
	}
	return n
}

func optionalFloat(verr *models.ValidationError, q url.Values, key string) *float64 {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		verr.Add(key, "must be a number")
		return nil
	}
	return &f
}
