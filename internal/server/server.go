// Package server exposes the vault over HTTP. Every /api route except the
// health check requires a bearer token whose subject is the owner id.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/hamzasheedi/secure-hub/internal/auth"
	"github.com/hamzasheedi/secure-hub/internal/vault"
)

// FileVault is the subset of vault.Store the handlers use.
type FileVault interface {
	Encrypt(ctx context.Context, ownerID, filename string, plaintext, password []byte) (vault.Record, error)
	Decrypt(ctx context.Context, fileID, ownerID string, password []byte) ([]byte, error)
	Get(ctx context.Context, fileID, ownerID string) (vault.Record, error)
	List(ctx context.Context, ownerID string) ([]vault.Record, error)
	Delete(ctx context.Context, fileID, ownerID string) error
	VerifyAudit(ctx context.Context) error
}

type Server struct {
	cfg    Config
	mux    *http.ServeMux
	vault  FileVault
	tokens auth.TokenParser
	logger *logrus.Logger

	rlDecryptFile *multiLimiter
	rlDecryptIP   *multiLimiter
}

func New(cfg Config, v FileVault, tokens auth.TokenParser, logger *logrus.Logger) *Server {
	cfg.setDefaults()
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		vault:  v,
		tokens: tokens,
		logger: logger,
	}

	perWindow := func(n int, window time.Duration) float64 { return float64(n) / window.Seconds() }
	n, window := cfg.DecryptPerWindow, cfg.DecryptWindow
	s.rlDecryptFile = newMultiLimiter(rate.Limit(perWindow(n, window)), n, 10*window)
	s.rlDecryptIP = newMultiLimiter(rate.Limit(perWindow(4*n, window)), 4*n, 10*window)

	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.WithFields(logrus.Fields{"path": r.URL.Path, "panic": rec}).Error("handler panic")
			http.Error(sw, "internal error", http.StatusInternalServerError)
		}
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   sw.status,
			"duration": time.Since(start).String(),
		}).Debug("request")
	}()

	s.addDefaultHeaders(sw, r)
	if r.Method == http.MethodOptions {
		sw.WriteHeader(http.StatusNoContent)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/api/") && !s.isPublic(r.URL.Path) {
		auth.AuthRequired(s.tokens)(s.mux).ServeHTTP(sw, r)
		return
	}
	s.mux.ServeHTTP(sw, r)
}

func (s *Server) Handler() http.Handler {
	return s
}

func (s *Server) isPublic(path string) bool {
	switch path {
	case "/health", "/api/health":
		return true
	default:
		return false
	}
}

func (s *Server) addDefaultHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
