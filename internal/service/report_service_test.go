package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/civicreport/internal/analytics"
	"github.com/patrickwarner/civicreport/internal/auth"
	"github.com/patrickwarner/civicreport/internal/config"
	"github.com/patrickwarner/civicreport/internal/db"
	"github.com/patrickwarner/civicreport/internal/logic"
	"github.com/patrickwarner/civicreport/internal/media"
	"github.com/patrickwarner/civicreport/internal/models"
	"github.com/patrickwarner/civicreport/internal/observability"
)

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc       *ReportService
	store     *models.InMemoryReportStore
	clock     *fakeClock
	metrics   *observability.MockMetricsRegistry
	analytics *analytics.MockAnalytics
	blobs     *media.MemoryBlobStore
	cache     *db.RedisStore
	redis     *miniredis.Miniredis
}

type harnessOption func(*Deps, *Options)

func withConflictPolicy() harnessOption {
	return func(_ *Deps, o *Options) { o.ResolvePolicy = config.ResolvePolicyConflict }
}

func withCache(t *testing.T, h *harness) harnessOption {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	h.redis = mr
	h.cache = &db.RedisStore{Client: client}
	return func(d *Deps, _ *Options) { d.Cache = h.cache }
}

func newHarness(t *testing.T, build ...func(*harness) harnessOption) *harness {
	t.Helper()
	h := &harness{
		store:     models.NewInMemoryReportStore(),
		clock:     &fakeClock{now: baseTime},
		metrics:   &observability.MockMetricsRegistry{},
		analytics: analytics.NewMockAnalytics(),
		blobs:     media.NewMemoryBlobStore("http://media.test"),
	}
	seq := 0
	deps := Deps{
		Store:     h.store,
		Analytics: h.analytics,
		Intake:    media.NewIntake(h.blobs, media.DefaultLimits, h.metrics, zap.NewNop()),
		Metrics:   h.metrics,
		Logger:    zap.NewNop(),
	}
	opts := Options{
		Now: h.clock.Now,
		NewID: func() string {
			seq++
			return fmt.Sprintf("r-%03d", seq)
		},
	}
	for _, b := range build {
		b(h)(&deps, &opts)
	}
	h.svc = New(deps, opts)
	return h
}

func asUser(id string) context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{ID: id, Role: auth.RoleCitizen})
}

func asAdmin() context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{ID: "ops", Role: auth.RoleAdmin})
}

func ptr[T any](v T) *T { return &v }

func decodeJSON(s string, v any) error { return json.Unmarshal([]byte(s), v) }

func sampleInput() models.ReportInput {
	return models.ReportInput{
		UserID:    "u1",
		Category:  "roads",
		Priority:  "high",
		Latitude:  ptr(12.9),
		Longitude: ptr(77.6),
		Address:   "MG Road",
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	h := newHarness(t)

	r, err := h.svc.Create(asUser("u1"), sampleInput())
	require.NoError(t, err)

	assert.Equal(t, "r-001", r.ID)
	assert.Equal(t, "Public Works", r.Department)
	assert.Equal(t, "Roads issue", r.Title)
	assert.False(t, r.IsResolved)
	assert.Nil(t, r.ResolvedAt)
	assert.Nil(t, r.TimeTakenToResolve)
	assert.Equal(t, baseTime, r.CreatedAt)
	assert.Equal(t, baseTime, r.UpdatedAt)
	assert.NotNil(t, r.MediaURLs)
	assert.True(t, r.ResolutionConsistent())

	stored, err := h.store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r, stored)

	assert.Equal(t, 1, h.metrics.Count("report:created"))
	assert.Equal(t, []string{analytics.EventCreated}, h.analytics.EventTypes())
}

func TestCreateEveryCategoryDefaultsDepartment(t *testing.T) {
	h := newHarness(t)
	for _, c := range models.Categories() {
		in := sampleInput()
		in.Category = string(c)
		r, err := h.svc.Create(asUser("u1"), in)
		require.NoError(t, err, c)
		assert.Equal(t, c.DefaultDepartment(), r.Department, c)
	}
}

func TestCreateKeepsExplicitDepartment(t *testing.T) {
	h := newHarness(t)
	in := sampleInput()
	in.Department = "Ward 12 Office"
	in.Title = "  Deep pothole  "
	in.MediaURLs = []string{"https://cdn.example.com/a.jpg"}

	r, err := h.svc.Create(asUser("u1"), in)
	require.NoError(t, err)
	assert.Equal(t, "Ward 12 Office", r.Department)
	assert.Equal(t, "Deep pothole", r.Title)
	assert.Equal(t, []string{"https://cdn.example.com/a.jpg"}, r.MediaURLs)
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.ReportInput)
		field  string
	}{
		{"missing user", func(in *models.ReportInput) { in.UserID = "" }, "userId"},
		{"missing category", func(in *models.ReportInput) { in.Category = "" }, "category"},
		{"unknown category", func(in *models.ReportInput) { in.Category = "potholes" }, "category"},
		{"unknown priority", func(in *models.ReportInput) { in.Priority = "critical" }, "priority"},
		{"missing latitude", func(in *models.ReportInput) { in.Latitude = nil }, "latitude"},
		{"latitude out of range", func(in *models.ReportInput) { in.Latitude = ptr(91.0) }, "latitude"},
		{"longitude out of range", func(in *models.ReportInput) { in.Longitude = ptr(-180.5) }, "longitude"},
		{"missing address", func(in *models.ReportInput) { in.Address = "   " }, "address"},
		{"bad media url", func(in *models.ReportInput) { in.MediaURLs = []string{"ftp://x/y.jpg"} }, "mediaUrls"},
		{"bad audio url", func(in *models.ReportInput) { in.AudioURL = "not a url" }, "audioUrl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			in := sampleInput()
			tt.mutate(&in)

			_, err := h.svc.Create(asUser("u1"), in)
			require.ErrorIs(t, err, models.ErrValidation)
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
			assert.Equal(t, 0, h.store.Len())
		})
	}
}

func TestCreateAuthorization(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Create(context.Background(), sampleInput())
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = h.svc.Create(asUser("u2"), sampleInput())
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = h.svc.Create(asAdmin(), sampleInput())
	assert.NoError(t, err)
	assert.Equal(t, 1, h.store.Len())
}

func TestGetByIDNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetByIDIsPublic(t *testing.T) {
	h := newHarness(t)
	r, err := h.svc.Create(asUser("u1"), sampleInput())
	require.NoError(t, err)

	got, err := h.svc.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestGetByUserPagination(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 1; i <= 25; i++ {
		r := models.NewTestReport(fmt.Sprintf("r-%02d", i), "u1", 12.9, 77.6, baseTime.Add(time.Duration(i)*time.Minute))
		require.NoError(t, h.store.Insert(ctx, r))
	}
	require.NoError(t, h.store.Insert(ctx, models.NewTestReport("other", "u2", 12.9, 77.6, baseTime)))

	page, err := h.svc.GetByUser(asUser("u1"), "u1", models.ReportFilter{Page: 2, Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, 25, page.Total)
	assert.Equal(t, 2, page.CurrentPage)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Reports, 10)
	// newest first: the 11th through 20th most recent
	assert.Equal(t, "r-15", page.Reports[0].ID)
	assert.Equal(t, "r-06", page.Reports[9].ID)

	last, err := h.svc.GetByUser(asUser("u1"), "u1", models.ReportFilter{Page: 3, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, last.Reports, 5)

	beyond, err := h.svc.GetByUser(asUser("u1"), "u1", models.ReportFilter{Page: 9})
	require.NoError(t, err)
	assert.NotNil(t, beyond.Reports)
	assert.Empty(t, beyond.Reports)
}

func TestGetByUserFilters(t *testing.T) {
	h := newHarness(t)
	ctx := asUser("u1")
	for i := 0; i < 4; i++ {
		in := sampleInput()
		if i%2 == 0 {
			in.Category = "water"
		}
		_, err := h.svc.Create(ctx, in)
		require.NoError(t, err)
		h.clock.Advance(time.Hour)
	}
	_, err := h.svc.Resolve(ctx, "r-001")
	require.NoError(t, err)

	page, err := h.svc.GetByUser(ctx, "u1", models.ReportFilter{Status: models.StatusResolved})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "r-001", page.Reports[0].ID)

	page, err = h.svc.GetByUser(ctx, "u1", models.ReportFilter{Status: models.StatusPending, Category: models.CategoryWater})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "r-003", page.Reports[0].ID)

	from := baseTime.Add(90 * time.Minute)
	page, err = h.svc.GetByUser(ctx, "u1", models.ReportFilter{From: &from})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestGetByUserRequiresOwner(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.GetByUser(asUser("u2"), "u1", models.ReportFilter{})
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = h.svc.GetByUser(asAdmin(), "u1", models.ReportFilter{})
	assert.NoError(t, err)
}

func TestUpdateCategoryResetsDepartment(t *testing.T) {
	h := newHarness(t)
	ctx := asUser("u1")
	in := sampleInput()
	in.Department = "Ward 12 Office"
	r, err := h.svc.Create(ctx, in)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	updated, err := h.svc.Update(ctx, r.ID, models.ReportPatch{Category: ptr("water")})
	require.NoError(t, err)
	assert.Equal(t, models.CategoryWater, updated.Category)
	assert.Equal(t, "Water Supply", updated.Department)
	assert.Equal(t, baseTime, updated.CreatedAt)
	assert.Equal(t, baseTime.Add(time.Minute), updated.UpdatedAt)

	updated, err = h.svc.Update(ctx, r.ID, models.ReportPatch{Category: ptr("safety"), Department: ptr("Traffic Police")})
	require.NoError(t, err)
	assert.Equal(t, "Traffic Police", updated.Department)

	updated, err = h.svc.Update(ctx, r.ID, models.ReportPatch{Description: ptr("getting worse")})
	require.NoError(t, err)
	assert.Equal(t, "getting worse", updated.Description)
	assert.Equal(t, "Traffic Police", updated.Department)
	assert.Equal(t, 3, h.metrics.Count("report:updated"))
}

func TestUpdateRejectsProtectedFields(t *testing.T) {
	h := newHarness(t)
	ctx := asUser("u1")
	r, err := h.svc.Create(ctx, sampleInput())
	require.NoError(t, err)

	for _, body := range []string{
		`{"isResolved": true}`,
		`{"resolvedAt": "2024-01-01T00:00:00Z"}`,
		`{"timeTakenToResolve": 5}`,
		`{"createdAt": "2024-01-01T00:00:00Z", "title": "x"}`,
		`{"id": "other"}`,
		`{"userId": "u2"}`,
		`{}`,
	} {
		var p models.ReportPatch
		require.NoError(t, decodeJSON(body, &p))
		_, err := h.svc.Update(ctx, r.ID, p)
		assert.ErrorIs(t, err, models.ErrValidation, body)
	}

	stored, err := h.store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r, stored)
}

func TestUpdateErrors(t *testing.T) {
	h := newHarness(t)
	r, err := h.svc.Create(asUser("u1"), sampleInput())
	require.NoError(t, err)

	_, err = h.svc.Update(asUser("u1"), "missing", models.ReportPatch{Title: ptr("x")})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = h.svc.Update(asUser("u2"), r.ID, models.ReportPatch{Title: ptr("x")})
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = h.svc.Update(asUser("u1"), r.ID, models.ReportPatch{Latitude: ptr(120.0)})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = h.svc.Update(asUser("u1"), r.ID, models.ReportPatch{Priority: ptr("whenever")})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestResolveRecordsElapsedTime(t *testing.T) {
	h := newHarness(t)
	ctx := asUser("u1")
	r, err := h.svc.Create(ctx, sampleInput())
	require.NoError(t, err)

	h.clock.Advance(26 * time.Hour)
	resolved, err := h.svc.Resolve(ctx, r.ID)
	require.NoError(t, err)

	want := baseTime.Add(26 * time.Hour)
	assert.True(t, resolved.IsResolved)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, want, *resolved.ResolvedAt)
	require.NotNil(t, resolved.TimeTakenToResolve)
	assert.Equal(t, (26 * time.Hour).Milliseconds(), *resolved.TimeTakenToResolve)
	assert.True(t, resolved.ResolutionConsistent())

	assert.Equal(t, 1, h.metrics.Count("report:resolved"))
	assert.Equal(t, 1, h.metrics.Count("resolution:roads"))
	events := h.analytics.Events()
	require.Len(t, events, 2)
	assert.Equal(t, analytics.EventResolved, events[1].EventType)
	assert.Equal(t, (26 * time.Hour).Milliseconds(), events[1].ResolutionMS)
}

func TestResolveIdempotentKeepsResolvedAt(t *testing.T) {
	h := newHarness(t)
	ctx := asUser("u1")
	r, err := h.svc.Create(ctx, sampleInput())
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	first, err := h.svc.Resolve(ctx, r.ID)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	second, err := h.svc.Resolve(ctx, r.ID)
	require.NoError(t, err)

	assert.Equal(t, *first.ResolvedAt, *second.ResolvedAt)
	assert.Equal(t, *first.TimeTakenToResolve, *second.TimeTakenToResolve)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	assert.Equal(t, 1, h.metrics.Count("report:resolved"))
}

func TestResolveConflictPolicy(t *testing.T) {
	h := newHarness(t, func(*harness) harnessOption { return withConflictPolicy() })
	ctx := asUser("u1")
	assert.Equal(t, config.ResolvePolicyConflict, h.svc.ResolvePolicy())

	r, err := h.svc.Create(ctx, sampleInput())
	require.NoError(t, err)
	first, err := h.svc.Resolve(ctx, r.ID)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	_, err = h.svc.Resolve(ctx, r.ID)
	assert.ErrorIs(t, err, models.ErrConflict)

	stored, err := h.store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.ResolvedAt, *stored.ResolvedAt)
}

func TestResolveAuthorization(t *testing.T) {
	h := newHarness(t)
	r, err := h.svc.Create(asUser("u1"), sampleInput())
	require.NoError(t, err)

	_, err = h.svc.Resolve(asUser("u2"), r.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, err = h.svc.Resolve(context.Background(), r.ID)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	got, err := h.svc.Resolve(asAdmin(), r.ID)
	require.NoError(t, err)
	assert.True(t, got.IsResolved)
}

func TestResolveMissing(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Resolve(asAdmin(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteThenGetIsNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := asUser("u1")
	r, err := h.svc.Create(ctx, sampleInput())
	require.NoError(t, err)

	require.NoError(t, h.svc.Delete(ctx, r.ID))
	_, err = h.svc.GetByID(ctx, r.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.ErrorIs(t, h.svc.Delete(ctx, r.ID), models.ErrNotFound)
	assert.Equal(t, 1, h.metrics.Count("report:deleted"))
}

func TestDeleteRequiresOwner(t *testing.T) {
	h := newHarness(t)
	r, err := h.svc.Create(asUser("u1"), sampleInput())
	require.NoError(t, err)

	assert.ErrorIs(t, h.svc.Delete(asUser("u2"), r.ID), models.ErrForbidden)
	assert.Equal(t, 1, h.store.Len())
}

func TestResolveRacingDelete(t *testing.T) {
	h := newHarness(t)
	ctx := asAdmin()
	r, err := h.svc.Create(ctx, sampleInput())
	require.NoError(t, err)

	var wg sync.WaitGroup
	var resolveErr, deleteErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, resolveErr = h.svc.Resolve(ctx, r.ID)
	}()
	go func() {
		defer wg.Done()
		deleteErr = h.svc.Delete(ctx, r.ID)
	}()
	wg.Wait()

	require.NoError(t, deleteErr)
	if resolveErr != nil {
		assert.ErrorIs(t, resolveErr, models.ErrNotFound)
	}
	assert.Equal(t, 0, h.store.Len())
}

func TestGetNearby(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const lat, lng = 12.9716, 77.5946

	far := models.NewTestReport("far", "u1", lat+0.1, lng, baseTime)
	mid := models.NewTestReport("mid", "u1", lat+0.02, lng, baseTime)
	near := models.NewTestReport("near", "u2", lat+0.001, lng, baseTime)
	nowhere := models.NewTestReport("nowhere", "u1", 0, 0, baseTime)
	nowhere.Latitude, nowhere.Longitude = nil, nil
	for _, r := range []*models.Report{far, mid, near, nowhere} {
		require.NoError(t, h.store.Insert(ctx, r))
	}

	got, err := h.svc.GetNearby(ctx, NearbyQuery{Latitude: ptr(lat), Longitude: ptr(lng)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
	assert.InDelta(t, 111, got[0].Distance, 2)
	assert.InDelta(t, 2224, got[1].Distance, 10)
	for _, r := range got {
		assert.LessOrEqual(t, r.Distance, 5000.0)
	}

	wide, err := h.svc.GetNearby(ctx, NearbyQuery{Latitude: ptr(lat), Longitude: ptr(lng), Radius: 20000})
	require.NoError(t, err)
	assert.Len(t, wide, 3)

	limited, err := h.svc.GetNearby(ctx, NearbyQuery{Latitude: ptr(lat), Longitude: ptr(lng), Radius: 20000, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "near", limited[0].ID)
}

func TestGetNearbyStatusFilter(t *testing.T) {
	h := newHarness(t)
	ctx := asUser("u1")
	a, err := h.svc.Create(ctx, sampleInput())
	require.NoError(t, err)
	_, err = h.svc.Create(ctx, sampleInput())
	require.NoError(t, err)
	_, err = h.svc.Resolve(ctx, a.ID)
	require.NoError(t, err)

	got, err := h.svc.GetNearby(ctx, NearbyQuery{Latitude: ptr(12.9), Longitude: ptr(77.6), Status: models.StatusPending})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r-002", got[0].ID)
	assert.Zero(t, got[0].Distance)
}

func TestGetNearbyValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.GetNearby(ctx, NearbyQuery{Longitude: ptr(77.6)})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = h.svc.GetNearby(ctx, NearbyQuery{Latitude: ptr(95.0), Longitude: ptr(77.6)})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = h.svc.GetNearby(ctx, NearbyQuery{Latitude: ptr(12.9), Longitude: ptr(77.6), Radius: 60000})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = h.svc.GetNearby(ctx, NearbyQuery{Latitude: ptr(12.9), Longitude: ptr(77.6), Radius: -1})
	assert.ErrorIs(t, err, models.ErrValidation)

	got, err := h.svc.GetNearby(ctx, NearbyQuery{Latitude: ptr(12.9), Longitude: ptr(77.6)})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGetUserStats(t *testing.T) {
	h := newHarness(t)
	ctx := asUser("u1")
	for _, c := range []string{"roads", "roads", "water"} {
		in := sampleInput()
		in.Category = c
		_, err := h.svc.Create(ctx, in)
		require.NoError(t, err)
	}
	h.clock.Advance(2 * time.Hour)
	_, err := h.svc.Resolve(ctx, "r-001")
	require.NoError(t, err)
	h.clock.Advance(2 * time.Hour)
	_, err = h.svc.Resolve(ctx, "r-003")
	require.NoError(t, err)

	stats, err := h.svc.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Resolved)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, map[string]int{"roads": 2, "water": 1}, stats.ByCategory)
	assert.Equal(t, map[string]int{"high": 3}, stats.ByPriority)
	assert.Equal(t, (3 * time.Hour).Milliseconds(), stats.AvgResolutionTime)
	assert.InDelta(t, 3.0, stats.AvgResolutionHours, 0.0001)

	_, err = h.svc.GetUserStats(asUser("u2"), "u1")
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestReportCacheInvalidatedOnMutation(t *testing.T) {
	h := newHarness(t, func(hh *harness) harnessOption { return withCache(t, hh) })
	ctx := asUser("u1")
	r, err := h.svc.Create(ctx, sampleInput())
	require.NoError(t, err)

	_, err = h.svc.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, h.redis.Exists("report:"+r.ID))
	_, err = h.svc.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.metrics.Count("cache_miss:report"))
	assert.Equal(t, 1, h.metrics.Count("cache_hit:report"))

	_, err = h.svc.Update(ctx, r.ID, models.ReportPatch{Title: ptr("Renamed")})
	require.NoError(t, err)
	assert.False(t, h.redis.Exists("report:"+r.ID))

	got, err := h.svc.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
}

func TestStatsCacheInvalidatedOnResolve(t *testing.T) {
	h := newHarness(t, func(hh *harness) harnessOption { return withCache(t, hh) })
	ctx := asUser("u1")
	r, err := h.svc.Create(ctx, sampleInput())
	require.NoError(t, err)

	stats, err := h.svc.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.True(t, h.redis.Exists("stats:u1"))

	_, err = h.svc.Resolve(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, h.redis.Exists("stats:u1"))

	stats, err = h.svc.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)
}

// pausingStore blocks the first Get or UserStats after the read has been
// taken, until release is closed.
type pausingStore struct {
	models.ReportStore
	armed   atomic.Bool
	paused  chan struct{}
	release chan struct{}
}

func newPausingStore(inner models.ReportStore) *pausingStore {
	p := &pausingStore{ReportStore: inner, paused: make(chan struct{}), release: make(chan struct{})}
	p.armed.Store(true)
	return p
}

func (p *pausingStore) hold() {
	if p.armed.CompareAndSwap(true, false) {
		close(p.paused)
		<-p.release
	}
}

func (p *pausingStore) Get(ctx context.Context, id string) (*models.Report, error) {
	r, err := p.ReportStore.Get(ctx, id)
	p.hold()
	return r, err
}

func (p *pausingStore) UserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	s, err := p.ReportStore.UserStats(ctx, userID)
	p.hold()
	return s, err
}

func (p *pausingStore) waitPaused(t *testing.T) {
	t.Helper()
	select {
	case <-p.paused:
	case <-time.After(2 * time.Second):
		t.Fatal("store read never started")
	}
}

func TestCacheFillRacingDelete(t *testing.T) {
	h := newHarness(t, func(hh *harness) harnessOption { return withCache(t, hh) })
	ctx := asUser("u1")
	r, err := h.svc.Create(ctx, sampleInput())
	require.NoError(t, err)

	ps := newPausingStore(h.store)
	svc := New(Deps{Store: ps, Cache: h.cache, Logger: zap.NewNop()}, Options{Now: h.clock.Now})

	done := make(chan error, 1)
	go func() {
		_, err := svc.GetByID(ctx, r.ID)
		done <- err
	}()
	ps.waitPaused(t)
	require.NoError(t, svc.Delete(ctx, r.ID))
	close(ps.release)
	require.NoError(t, <-done)

	assert.False(t, h.redis.Exists("report:"+r.ID), "stale snapshot must not be cached")
	_, err = svc.GetByID(ctx, r.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStatsFillRacingResolve(t *testing.T) {
	h := newHarness(t, func(hh *harness) harnessOption { return withCache(t, hh) })
	ctx := asUser("u1")
	r, err := h.svc.Create(ctx, sampleInput())
	require.NoError(t, err)

	ps := newPausingStore(h.store)
	svc := New(Deps{Store: ps, Cache: h.cache, Logger: zap.NewNop()}, Options{Now: h.clock.Now})

	done := make(chan error, 1)
	go func() {
		_, err := svc.GetUserStats(ctx, "u1")
		done <- err
	}()
	ps.waitPaused(t)
	_, err = svc.Resolve(ctx, r.ID)
	require.NoError(t, err)
	close(ps.release)
	require.NoError(t, <-done)

	stats, err := svc.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 0, stats.Pending)
}

func TestMutationsPublishUpdates(t *testing.T) {
	h := newHarness(t, func(hh *harness) harnessOption { return withCache(t, hh) })
	ctx := asUser("u1")

	sub := h.cache.SubscribeUpdates(context.Background())
	defer sub.Close()
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	r, err := h.svc.Create(ctx, sampleInput())
	require.NoError(t, err)
	require.NoError(t, h.svc.Delete(ctx, r.ID))

	var actions []string
	for i := 0; i < 2; i++ {
		msg, err := sub.ReceiveMessage(context.Background())
		require.NoError(t, err)
		var u db.ReportUpdate
		require.NoError(t, decodeJSON(msg.Payload, &u))
		assert.Equal(t, r.ID, u.ID)
		actions = append(actions, u.Action)
	}
	assert.Equal(t, []string{OpCreated, OpDeleted}, actions)
}

func TestAnalyticsEventsCarryClientContext(t *testing.T) {
	h := newHarness(t)
	ctx := logic.WithClient(asUser("u1"), logic.ClientContext{DeviceType: "phone", OS: "Android", Country: "IN"})

	_, err := h.svc.Create(ctx, sampleInput())
	require.NoError(t, err)

	events := h.analytics.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "r-001", ev.ReportID)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, "u1", ev.ActorID)
	assert.Equal(t, "roads", ev.Category)
	assert.Equal(t, "Public Works", ev.Department)
	assert.Equal(t, "phone", ev.DeviceType)
	assert.Equal(t, "Android", ev.OS)
	assert.Equal(t, "IN", ev.Country)
}

func TestAnalyticsFailureDoesNotFailMutation(t *testing.T) {
	h := newHarness(t)
	h.analytics.Err = fmt.Errorf("clickhouse down")

	r, err := h.svc.Create(asUser("u1"), sampleInput())
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
}

func TestUploadMedia(t *testing.T) {
	h := newHarness(t)
	form := uploadForm(t, "media", "photo.png", "image/png")

	_, err := h.svc.UploadMedia(context.Background(), form)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	res, err := h.svc.UploadMedia(asUser("u1"), form)
	require.NoError(t, err)
	require.Len(t, res.MediaURLs, 1)
	assert.Contains(t, res.MediaURLs[0], "http://media.test/")
	assert.Equal(t, 1, h.blobs.Len())

	events := h.analytics.Events()
	require.Len(t, events, 1)
	assert.Equal(t, analytics.EventMediaUploaded, events[0].EventType)
	assert.Equal(t, 1, events[0].MediaCount)
}

func TestUploadSingleMedia(t *testing.T) {
	h := newHarness(t)
	form := uploadForm(t, "file", "note.png", "image/png")

	url, err := h.svc.UploadSingleMedia(asUser("u1"), form)
	require.NoError(t, err)
	assert.Contains(t, url, "http://media.test/")

	events := h.analytics.Events()
	require.Len(t, events, 1)
	assert.Equal(t, analytics.EventMediaUploaded, events[0].EventType)
	assert.Equal(t, 1, events[0].MediaCount)
	assert.Equal(t, int64(len(pngHeader)), events[0].MediaBytes)
}

func TestUploadWithoutIntake(t *testing.T) {
	svc := New(Deps{Store: models.NewInMemoryReportStore()}, Options{})
	_, err := svc.UploadMedia(asUser("u1"), &multipart.Form{})
	assert.ErrorIs(t, err, ErrMediaUnavailable)
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func uploadForm(t *testing.T, field, name, contentType string) *multipart.Form {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+name+`"`)
	hdr.Set("Content-Type", contentType)
	w, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = w.Write(pngHeader)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	t.Cleanup(func() { _ = req.MultipartForm.RemoveAll() })
	return req.MultipartForm
}
