package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"printkiosk/internal/devicefeed"
)

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if s.deps.Artifacts == nil {
		s.unavailable(w, r, "artifacts")
		return
	}
	path, err := s.deps.Artifacts.ResolveName(chi.URLParam(r, "name"))
	if err != nil {
		s.writeServiceError(w, r, "artifact not available", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Cache-Control", "private, max-age=300")
	http.ServeFile(w, r, path)
}

func (s *Server) handleDeviceFiles(w http.ResponseWriter, r *http.Request) {
	if s.deps.Devices == nil {
		s.writeJSON(w, r, http.StatusOK, DeviceFilesResponse{
			Status: StatusSuccess,
			Mode:   string(devicefeed.ModeStopped),
			Files:  []devicefeed.File{},
		})
		return
	}
	files := s.deps.Devices.Files()
	if files == nil {
		files = []devicefeed.File{}
	}
	s.writeJSON(w, r, http.StatusOK, DeviceFilesResponse{
		Status: StatusSuccess,
		Mode:   string(s.deps.Devices.Mode()),
		Files:  files,
	})
}
