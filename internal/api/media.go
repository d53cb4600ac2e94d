package api

import (
	"net/http"

	"github.com/patrickwarner/civicreport/internal/service"
)

// UploadMediaHandler handles POST /api/reports/upload-media with up to ten
// files in the media field and one in the audio field.
func (s *Server) UploadMediaHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Reports.AuthorizeUpload(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.Intake == nil {
		s.writeError(w, r, service.ErrMediaUnavailable)
		return
	}
	form, err := s.Intake.ReadForm(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer func() { _ = form.RemoveAll() }()

	res, err := s.Reports.UploadMedia(r.Context(), form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Media uploaded successfully", res)
}

// UploadSingleMediaHandler handles POST /api/reports/upload-single-media.
func (s *Server) UploadSingleMediaHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Reports.AuthorizeUpload(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.Intake == nil {
		s.writeError(w, r, service.ErrMediaUnavailable)
		return
	}
	form, err := s.Intake.ReadForm(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer func() { _ = form.RemoveAll() }()

	url, err := s.Reports.UploadSingleMedia(r.Context(), form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Media uploaded successfully", map[string]string{"url": url})
}
