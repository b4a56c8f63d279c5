package api

import (
	"net/http"

	"github.com/cuemby/beacon/pkg/types"
)

func (s *Server) adminVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.version)
}

func (s *Server) adminStatus(w http.ResponseWriter, r *http.Request) {
	status := &types.ServerStatus{Status: "RUNNING", Version: s.version.Version}
	if s.status != nil {
		status = s.status()
	}
	writeJSON(w, http.StatusOK, status)
}
