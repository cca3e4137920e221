package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"cosflow/internal/config"
	"cosflow/internal/logging"
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}
	srv.handler = srv.routes(cfg.Auth.JWTSecret, cfg.MaxMergeBytes())
	return srv
}

func (s *apiServer) routes(secret string, maxBody int64) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(recovery(s.logger))
	r.Use(accessLog(s.logger))

	h := &handlers{daemon: s.daemon, logger: s.logger, maxBody: maxBody}

	r.Get("/api/v1/health", h.health)

	r.With(authMiddleware(secret, true)).Get("/ws/cos", h.events)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware(secret, false))

		r.Get("/status", h.status)
		r.Get("/users", h.users)
		r.Get("/me/assignments", h.myAssignments)
		r.Get("/evaluations/available", h.available)
		r.Get("/circulations", h.circulations)
		r.Get("/operators/certificates/{cert}/file", h.certificateFile)

		r.Get("/groups", h.listGroups)
		r.Get("/groups/awaiting-uploads", h.awaitingUploads)
		r.Get("/groups/{group}", h.groupDetail)
		r.Get("/groups/{group}/documents/{doc}", h.documentFile)
		r.Get("/groups/{group}/merged", h.mergedFile)
		r.Get("/groups/{group}/circulation", h.circulationDetail)
		r.Post("/groups/{group}/circulation/complete", h.completeTask)
		r.Get("/groups/{group}/revisions", h.revisions)
		r.Post("/groups/{group}/revisions", h.requestRevision)
		r.Post("/revisions/{rev}/resolve", h.resolveRevision)
		r.Get("/revisions/{rev}/file", h.revisionFile)

		r.Group(func(r chi.Router) {
			r.Use(requireRoles(IssuerRoles...))
			r.Post("/groups", h.createGroup)
			r.Patch("/groups/{group}", h.patchGroup)
			r.Post("/groups/{group}/documents", h.uploadDocuments)
			r.Post("/groups/{group}/merge", h.regenerate)
			r.Post("/groups/{group}/circulation", h.startCirculation)
		})
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		s.logger.Info("api disabled; no bind address configured")
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}
