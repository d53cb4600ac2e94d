// Package service implements the report lifecycle on top of a ReportStore:
// validation, authorization, resolution bookkeeping, nearby search and the
// cache, analytics and change-feed side effects of every mutation.
package service

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/civicreport/internal/analytics"
	"github.com/patrickwarner/civicreport/internal/auth"
	"github.com/patrickwarner/civicreport/internal/config"
	"github.com/patrickwarner/civicreport/internal/db"
	"github.com/patrickwarner/civicreport/internal/geo"
	"github.com/patrickwarner/civicreport/internal/logic"
	"github.com/patrickwarner/civicreport/internal/media"
	"github.com/patrickwarner/civicreport/internal/models"
	"github.com/patrickwarner/civicreport/internal/observability"
)

// Operation labels used for metrics, analytics and the change feed.
const (
	OpCreated  = "created"
	OpUpdated  = "updated"
	OpResolved = "resolved"
	OpDeleted  = "deleted"
)

// ErrMediaUnavailable is returned by the upload operations when no media
// intake is configured.
var ErrMediaUnavailable = errors.New("media intake unavailable")

// Deps are the collaborators of a ReportService. Only Store is required.
type Deps struct {
	Store     models.ReportStore
	Cache     *db.RedisStore
	Analytics analytics.AnalyticsService
	Intake    *media.Intake
	Policy    auth.Policy
	Metrics   observability.MetricsRegistry
	Logger    *zap.Logger
}

// Options tune service behaviour.
type Options struct {
	// ResolvePolicy is config.ResolvePolicyIdempotent or
	// config.ResolvePolicyConflict.
	ResolvePolicy string
	CacheTTL      time.Duration
	Now           func() time.Time
	NewID         func() string
}

// ReportService exposes the report operations used by the HTTP layer, the
// MCP server and the tools.
type ReportService struct {
	store     models.ReportStore
	cache     *db.RedisStore
	analytics analytics.AnalyticsService
	intake    *media.Intake
	policy    auth.Policy
	metrics   observability.MetricsRegistry
	logger    *zap.Logger
	tracer    trace.Tracer
	opts      Options
}

// New builds a ReportService, filling unset dependencies with no-op or
// default implementations.
func New(deps Deps, opts Options) *ReportService {
	if deps.Policy == nil {
		deps.Policy = auth.OwnerOrAdmin{}
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNoOpRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.ResolvePolicy != config.ResolvePolicyConflict {
		opts.ResolvePolicy = config.ResolvePolicyIdempotent
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &ReportService{
		store:     deps.Store,
		cache:     deps.Cache,
		analytics: deps.Analytics,
		intake:    deps.Intake,
		policy:    deps.Policy,
		metrics:   deps.Metrics,
		logger:    deps.Logger.Named("report_service"),
		tracer:    observability.Tracer("report_service"),
		opts:      opts,
	}
}

// ResolvePolicy returns the effective already-resolved policy.
func (s *ReportService) ResolvePolicy() string { return s.opts.ResolvePolicy }

// Ping checks the store and, when configured, the cache.
func (s *ReportService) Ping(ctx context.Context) map[string]error {
	out := map[string]error{"store": s.store.Ping(ctx)}
	if s.cache != nil {
		out["cache"] = s.cache.Ping(ctx)
	}
	return out
}

// Create validates in and persists a new unresolved report.
func (s *ReportService) Create(ctx context.Context, in models.ReportInput) (_ *models.Report, err error) {
	ctx, span := s.tracer.Start(ctx, "ReportService.Create")
	defer func() { endSpan(span, err) }()

	n, err := validateCreate(in)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, auth.ActionCreate, n.userID); err != nil {
		return nil, err
	}

	now := s.opts.Now()
	lat, lng := n.lat, n.lng
	r := &models.Report{
		ID:          s.opts.NewID(),
		UserID:      n.userID,
		Title:       n.title,
		Description: n.description,
		Category:    n.category,
		Priority:    n.priority,
		Department:  n.department,
		MediaURLs:   n.mediaURLs,
		AudioURL:    n.audioURL,
		Latitude:    &lat,
		Longitude:   &lng,
		Address:     n.address,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Insert(ctx, r); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	span.SetAttributes(attribute.String("report.id", r.ID))

	s.afterMutation(ctx, OpCreated, r, nil)
	return r, nil
}

// GetByID returns a single report, consulting the cache first.
func (s *ReportService) GetByID(ctx context.Context, id string) (_ *models.Report, err error) {
	ctx, span := s.tracer.Start(ctx, "ReportService.GetByID", trace.WithAttributes(attribute.String("report.id", id)))
	defer func() { endSpan(span, err) }()

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, models.NewValidationError("reportId", "is required")
	}

	r := s.cachedReport(ctx, id)
	if r == nil {
		gen, fill := s.reportGeneration(ctx, id)
		r, err = s.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get report %s: %w", id, err)
		}
		if fill {
			s.cacheReport(ctx, r, gen)
		}
	}
	if err := s.authorize(ctx, auth.ActionRead, r.UserID); err != nil {
		return nil, err
	}
	return r, nil
}

// GetByUser lists a user's reports newest first.
func (s *ReportService) GetByUser(ctx context.Context, userID string, f models.ReportFilter) (_ *models.ReportPage, err error) {
	ctx, span := s.tracer.Start(ctx, "ReportService.GetByUser", trace.WithAttributes(attribute.String("user.id", userID)))
	defer func() { endSpan(span, err) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, models.NewValidationError("userId", "is required")
	}
	if err := s.authorize(ctx, auth.ActionList, userID); err != nil {
		return nil, err
	}

	f = f.Normalized()
	reports, total, err := s.store.ListByUser(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("list reports for %s: %w", userID, err)
	}
	if reports == nil {
		reports = []models.Report{}
	}
	return &models.ReportPage{
		Reports:     reports,
		Total:       total,
		CurrentPage: f.Page,
		TotalPages:  models.TotalPages(total, f.Limit),
		Limit:       f.Limit,
	}, nil
}

// Update applies the fields present in p. Resolution fields and identity
// fields cannot be changed here.
func (s *ReportService) Update(ctx context.Context, id string, p models.ReportPatch) (_ *models.Report, err error) {
	ctx, span := s.tracer.Start(ctx, "ReportService.Update", trace.WithAttributes(attribute.String("report.id", id)))
	defer func() { endSpan(span, err) }()

	category, priority, err := validatePatch(p)
	if err != nil {
		return nil, err
	}

	r, err := s.store.Update(ctx, id, func(r *models.Report) error {
		if err := s.authorize(ctx, auth.ActionUpdate, r.UserID); err != nil {
			return err
		}
		applyPatch(r, p, category, priority)
		r.UpdatedAt = s.opts.Now()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update report %s: %w", id, err)
	}

	s.afterMutation(ctx, OpUpdated, r, nil)
	return r, nil
}

// Resolve marks the report resolved and records how long it took. Resolving
// an already resolved report either returns it unchanged or fails with
// ErrConflict, depending on the resolve policy.
func (s *ReportService) Resolve(ctx context.Context, id string) (_ *models.Report, err error) {
	ctx, span := s.tracer.Start(ctx, "ReportService.Resolve", trace.WithAttributes(attribute.String("report.id", id)))
	defer func() { endSpan(span, err) }()

	transitioned := false
	r, err := s.store.Update(ctx, id, func(r *models.Report) error {
		if err := s.authorize(ctx, auth.ActionResolve, r.UserID); err != nil {
			return err
		}
		if r.IsResolved {
			if s.opts.ResolvePolicy == config.ResolvePolicyConflict {
				return fmt.Errorf("report %s already resolved: %w", r.ID, models.ErrConflict)
			}
			return models.ErrNoChange
		}
		r.MarkResolved(s.opts.Now())
		transitioned = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve report %s: %w", id, err)
	}
	span.SetAttributes(attribute.Bool("report.transitioned", transitioned))
	if !transitioned {
		return r, nil
	}

	elapsed := *r.TimeTakenToResolve
	s.metrics.RecordResolutionTime(string(r.Category), time.Duration(elapsed)*time.Millisecond)
	s.afterMutation(ctx, OpResolved, r, func(ev *analytics.Event) {
		ev.ResolutionMS = elapsed
	})
	return r, nil
}

// Delete removes the report permanently.
func (s *ReportService) Delete(ctx context.Context, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "ReportService.Delete", trace.WithAttributes(attribute.String("report.id", id)))
	defer func() { endSpan(span, err) }()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("delete report %s: %w", id, err)
	}
	if err := s.authorize(ctx, auth.ActionDelete, r.UserID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete report %s: %w", id, err)
	}

	s.afterMutation(ctx, OpDeleted, r, nil)
	return nil
}

// GetNearby returns reports within q.Radius meters of the point, closest
// first.
func (s *ReportService) GetNearby(ctx context.Context, q NearbyQuery) (_ []models.NearbyReport, err error) {
	ctx, span := s.tracer.Start(ctx, "ReportService.GetNearby")
	defer func() { endSpan(span, err) }()

	q, err = q.normalize()
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, auth.ActionNearby, ""); err != nil {
		return nil, err
	}
	lat, lng := *q.Latitude, *q.Longitude
	span.SetAttributes(
		attribute.Float64("geo.lat", lat),
		attribute.Float64("geo.lng", lng),
		attribute.Float64("geo.radius", q.Radius),
	)

	candidates, err := s.store.WithinBounds(ctx, geo.BoundsAround(lat, lng, q.Radius), q.Status)
	if err != nil {
		return nil, fmt.Errorf("nearby candidates: %w", err)
	}
	out := geo.Nearest(candidates, lat, lng, q.Radius, q.Limit)
	span.SetAttributes(attribute.Int("geo.candidates", len(candidates)), attribute.Int("geo.results", len(out)))
	return out, nil
}

// GetUserStats aggregates a user's reports, consulting the cache first.
func (s *ReportService) GetUserStats(ctx context.Context, userID string) (_ *models.UserStats, err error) {
	ctx, span := s.tracer.Start(ctx, "ReportService.GetUserStats", trace.WithAttributes(attribute.String("user.id", userID)))
	defer func() { endSpan(span, err) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, models.NewValidationError("userId", "is required")
	}
	if err := s.authorize(ctx, auth.ActionStats, userID); err != nil {
		return nil, err
	}

	var (
		gen  int64
		fill bool
	)
	if s.cache != nil {
		stats, ok, err := s.cache.CachedStats(ctx, userID)
		if err != nil {
			s.logger.Warn("stats cache lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
		s.metrics.IncrementCacheLookup("stats", ok)
		if ok {
			return stats, nil
		}
		if gen, err = s.cache.StatsGeneration(ctx, userID); err != nil {
			s.logger.Warn("stats cache generation lookup failed", zap.String("user_id", userID), zap.Error(err))
		} else {
			fill = true
		}
	}

	stats, err := s.store.UserStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("stats for %s: %w", userID, err)
	}
	if fill {
		if _, err := s.cache.CacheStats(ctx, stats, s.opts.CacheTTL, gen); err != nil {
			s.logger.Warn("stats cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return stats, nil
}

// UploadMedia stores the media and audio files of a multipart form and
// returns their URLs in upload order.
func (s *ReportService) UploadMedia(ctx context.Context, form *multipart.Form) (_ *media.UploadResult, err error) {
	ctx, span := s.tracer.Start(ctx, "ReportService.UploadMedia")
	defer func() { endSpan(span, err) }()

	if err := s.authorize(ctx, auth.ActionUpload, ""); err != nil {
		return nil, err
	}
	if s.intake == nil {
		return nil, ErrMediaUnavailable
	}
	res, err := s.intake.UploadMedia(ctx, form)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("media.files", res.Files), attribute.Int64("media.bytes", res.TotalBytes))
	s.recordUpload(ctx, res.Files, res.TotalBytes)
	return res, nil
}

// UploadSingleMedia stores exactly one file and returns its URL.
func (s *ReportService) UploadSingleMedia(ctx context.Context, form *multipart.Form) (_ string, err error) {
	ctx, span := s.tracer.Start(ctx, "ReportService.UploadSingleMedia")
	defer func() { endSpan(span, err) }()

	if err := s.authorize(ctx, auth.ActionUpload, ""); err != nil {
		return "", err
	}
	if s.intake == nil {
		return "", ErrMediaUnavailable
	}
	url, size, err := s.intake.UploadSingleMedia(ctx, form)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.Int64("media.bytes", size))
	s.recordUpload(ctx, 1, size)
	return url, nil
}

func (s *ReportService) authorize(ctx context.Context, action auth.Action, ownerID string) error {
	p, _ := auth.FromContext(ctx)
	if err := s.policy.Authorize(p, action, ownerID); err != nil {
		s.logger.Debug("authorization denied",
			zap.String("action", string(action)),
			zap.String("principal", p.ID),
			zap.String("owner", ownerID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *ReportService) cachedReport(ctx context.Context, id string) *models.Report {
	if s.cache == nil {
		return nil
	}
	r, ok, err := s.cache.CachedReport(ctx, id)
	if err != nil {
		s.logger.Warn("report cache lookup failed", zap.String("report_id", id), zap.Error(err))
	}
	s.metrics.IncrementCacheLookup("report", ok)
	return r
}

// reportGeneration reads the invalidation counter ahead of a store read.
// fill is false when there is no cache or the counter could not be read.
func (s *ReportService) reportGeneration(ctx context.Context, id string) (gen int64, fill bool) {
	if s.cache == nil {
		return 0, false
	}
	gen, err := s.cache.ReportGeneration(ctx, id)
	if err != nil {
		s.logger.Warn("report cache generation lookup failed", zap.String("report_id", id), zap.Error(err))
		return 0, false
	}
	return gen, true
}

func (s *ReportService) cacheReport(ctx context.Context, r *models.Report, gen int64) {
	stored, err := s.cache.CacheReport(ctx, r, s.opts.CacheTTL, gen)
	if err != nil {
		s.logger.Warn("report cache write failed", zap.String("report_id", r.ID), zap.Error(err))
		return
	}
	if !stored {
		s.logger.Debug("report changed during read; not cached", zap.String("report_id", r.ID))
	}
}

// afterMutation runs the best-effort side effects of a committed change.
// Failures are logged and never surface to the caller.
func (s *ReportService) afterMutation(ctx context.Context, op string, r *models.Report, decorate func(*analytics.Event)) {
	s.metrics.IncrementReportOperation(op, string(r.Category))

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, r.ID, r.UserID); err != nil {
			s.logger.Warn("cache invalidation failed", zap.String("report_id", r.ID), zap.Error(err))
		}
		update := db.ReportUpdate{Action: op, ID: r.ID, UserID: r.UserID, At: s.opts.Now()}
		if err := s.cache.PublishUpdate(ctx, update); err != nil {
			s.logger.Warn("publish update failed", zap.String("report_id", r.ID), zap.Error(err))
		}
	}

	ev := s.newEvent(ctx, op)
	ev.ReportID = r.ID
	ev.UserID = r.UserID
	ev.Category = string(r.Category)
	ev.Priority = string(r.Priority)
	ev.Department = r.Department
	ev.MediaCount = len(r.MediaURLs)
	if decorate != nil {
		decorate(&ev)
	}
	s.record(ctx, ev)

	s.logger.Info("report "+op,
		zap.String("report_id", r.ID),
		zap.String("user_id", r.UserID),
		zap.String("category", string(r.Category)),
	)
}

func (s *ReportService) recordUpload(ctx context.Context, files int, bytes int64) {
	ev := s.newEvent(ctx, analytics.EventMediaUploaded)
	ev.UserID = ev.ActorID
	ev.MediaCount = files
	ev.MediaBytes = bytes
	s.record(ctx, ev)
}

func (s *ReportService) newEvent(ctx context.Context, eventType string) analytics.Event {
	p, _ := auth.FromContext(ctx)
	cc := logic.ClientFromContext(ctx)
	return analytics.Event{
		Timestamp:  s.opts.Now(),
		EventType:  eventType,
		ActorID:    p.ID,
		DeviceType: cc.DeviceType,
		OS:         cc.OS,
		Country:    cc.Country,
	}
}

func (s *ReportService) record(ctx context.Context, ev analytics.Event) {
	if s.analytics == nil {
		return
	}
	if err := s.analytics.RecordEvent(ctx, ev); err != nil && !errors.Is(err, analytics.ErrUnavailable) {
		s.logger.Warn("analytics event dropped", zap.String("event_type", ev.EventType), zap.Error(err))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// AuthorizeUpload reports whether the caller may upload media. The HTTP
// layer calls it before reading a potentially large body.
func (s *ReportService) AuthorizeUpload(ctx context.Context) error {
	return s.authorize(ctx, auth.ActionUpload, "")
}
