package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"reward_verification_service/internal/app"

	"github.com/go-chi/chi/v5"
)

// handleDownload streams a signed artifact. The token is the only credential.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.exports.OpenDownload(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		if errors.Is(err, app.ErrInvalidDownload) {
			if recErr := s.security.RecordIntrusion(r.Context(), clientIP(r), r.URL.Path, "invalid download token"); recErr != nil {
				s.logger.WithError(recErr).Error("Failed to record intrusion event")
			}
		}
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Body)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(artifact.Body); err != nil {
		s.logger.WithError(err).Warn("Download interrupted")
	}
}
