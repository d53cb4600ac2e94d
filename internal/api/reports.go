package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/patrickwarner/civicreport/internal/models"
	"github.com/patrickwarner/civicreport/internal/service"
)

// CreateReportHandler handles POST /api/reports/create.
func (s *Server) CreateReportHandler(w http.ResponseWriter, r *http.Request) {
	var in models.ReportInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.Reports.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "Report created successfully", report)
}

// GetReportHandler handles GET /api/reports/{reportId}.
func (s *Server) GetReportHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.Reports.GetByID(r.Context(), mux.Vars(r)["reportId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Report fetched successfully", report)
}

// ListUserReportsHandler handles GET /api/reports/user/{userId}.
func (s *Server) ListUserReportsHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := service.FilterFromQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.Reports.GetByUser(r.Context(), mux.Vars(r)["userId"], filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, Envelope{
		Success:     true,
		Message:     "Reports fetched successfully",
		Data:        page.Reports,
		Total:       &page.Total,
		CurrentPage: &page.CurrentPage,
		TotalPages:  &page.TotalPages,
		Limit:       &page.Limit,
	})
}

// UpdateReportHandler handles PUT /api/reports/{reportId}.
func (s *Server) UpdateReportHandler(w http.ResponseWriter, r *http.Request) {
	var patch models.ReportPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.Reports.Update(r.Context(), mux.Vars(r)["reportId"], patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Report updated successfully", report)
}

// ResolveReportHandler handles PATCH /api/reports/{reportId}/resolve.
func (s *Server) ResolveReportHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.Reports.Resolve(r.Context(), mux.Vars(r)["reportId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Report marked as resolved", report)
}

// DeleteReportHandler handles DELETE /api/reports/{reportId}.
func (s *Server) DeleteReportHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Reports.Delete(r.Context(), mux.Vars(r)["reportId"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Report deleted successfully", nil)
}

// NearbyReportsHandler handles GET /api/reports/nearby?lat=&lng=&radius=.
func (s *Server) NearbyReportsHandler(w http.ResponseWriter, r *http.Request) {
	q, err := service.NearbyFromQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	reports, err := s.Reports.GetNearby(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	total := len(reports)
	writeEnvelope(w, http.StatusOK, Envelope{
		Success: true,
		Message: "Nearby reports fetched successfully",
		Data:    reports,
		Total:   &total,
	})
}

// UserStatsHandler handles GET /api/reports/user/{userId}/stats.
func (s *Server) UserStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Reports.GetUserStats(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Stats fetched successfully", stats)
}
