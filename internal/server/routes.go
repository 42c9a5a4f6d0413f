package server

import (
	"net/http"

	"github.com/hamzasheedi/secure-hub/internal/auth"
)

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("GET /api/files", s.handleListFiles)
	s.mux.HandleFunc("POST /api/files", s.handleUpload)
	s.mux.HandleFunc("GET /api/files/{id}", s.handleGetFile)
	s.mux.HandleFunc("POST /api/files/{id}/decrypt", s.handleDecrypt)
	s.mux.HandleFunc("DELETE /api/files/{id}", s.handleDeleteFile)

	s.mux.Handle("GET /api/admin/audit/verify", auth.RequireRole(auth.RoleAdmin)(http.HandlerFunc(s.handleVerifyAudit)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
