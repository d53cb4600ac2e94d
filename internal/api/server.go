package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/civicreport/internal/config"
	"github.com/patrickwarner/civicreport/internal/geoip"
	"github.com/patrickwarner/civicreport/internal/logic/ratelimit"
	"github.com/patrickwarner/civicreport/internal/media"
	"github.com/patrickwarner/civicreport/internal/middleware"
	"github.com/patrickwarner/civicreport/internal/observability"
	"github.com/patrickwarner/civicreport/internal/service"
)

// Rate limited route names.
const (
	RouteCreate = "create"
	RouteUpload = "upload"
)

// maxJSONBody bounds report create and update payloads.
const maxJSONBody = 1 << 20

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger  *zap.Logger
	Reports *service.ReportService
	Intake  *media.Intake
	GeoIP   *geoip.GeoIP
	Limiter *ratelimit.ClientLimiter
	Metrics observability.MetricsRegistry
	Config  config.Config
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, reports *service.ReportService, intake *media.Intake, geo *geoip.GeoIP, limiter *ratelimit.ClientLimiter, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if limiter == nil {
		limiter = ratelimit.NewClientLimiter(ratelimit.Config{Enabled: false}, metrics)
	}
	return &Server{
		Logger:  logger,
		Reports: reports,
		Intake:  intake,
		GeoIP:   geo,
		Limiter: limiter,
		Metrics: metrics,
		Config:  cfg,
	}
}

// Router builds the route table. Fixed paths under /api/reports are
// registered before /{reportId} so they are never captured as ids.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(s.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowed)

	r.Use(
		middleware.WithTraceLogger(s.Logger),
		middleware.Metrics(s.Metrics),
		middleware.Authenticate(middleware.AuthConfig{
			Enabled: s.Config.AuthEnabled,
			Secret:  []byte(s.Config.TokenSecret),
		}, s.Logger, s.writeError),
		middleware.ClientContext(s.GeoIP),
	)

	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)

	reports := r.PathPrefix("/api/reports").Subrouter()
	reports.Handle("/upload-media", s.limited(RouteUpload, s.UploadMediaHandler)).Methods(http.MethodPost)
	reports.Handle("/upload-single-media", s.limited(RouteUpload, s.UploadSingleMediaHandler)).Methods(http.MethodPost)
	reports.Handle("/create", s.limited(RouteCreate, s.CreateReportHandler)).Methods(http.MethodPost)
	reports.HandleFunc("/nearby", s.NearbyReportsHandler).Methods(http.MethodGet)
	reports.HandleFunc("/user/{userId}/stats", s.UserStatsHandler).Methods(http.MethodGet)
	reports.HandleFunc("/user/{userId}", s.ListUserReportsHandler).Methods(http.MethodGet)
	reports.HandleFunc("/{reportId}/resolve", s.ResolveReportHandler).Methods(http.MethodPatch)
	reports.HandleFunc("/{reportId}", s.GetReportHandler).Methods(http.MethodGet)
	reports.HandleFunc("/{reportId}", s.UpdateReportHandler).Methods(http.MethodPut)
	reports.HandleFunc("/{reportId}", s.DeleteReportHandler).Methods(http.MethodDelete)

	return r
}

func (s *Server) limited(route string, h http.HandlerFunc) http.Handler {
	return middleware.RateLimit(s.Limiter, route, s.writeError)(h)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusNotFound, Envelope{Message: "Route not found", Error: "not_found"})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusMethodNotAllowed, Envelope{Message: "Method not allowed", Error: "method_not_allowed"})
}
