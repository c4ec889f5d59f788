// Package server wires HTTP handlers into a chi router for the chat
// application via routing helpers.
package server

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recoverer)
	r.Use(s.requestLogger)
	r.Use(s.origins.cors)

	r.Get("/", s.HealthHandler)
	r.Get("/ws", s.WebSocketHandler)
	r.Get("/test", TestPageHandler)

	r.Post("/register", s.RegisterHandler)
	r.Post("/login", s.LoginHandler)
	r.Get("/logout", s.LogoutHandler)
	r.Post("/logout", s.LogoutHandler)
	r.Get("/profile", s.ProfileHandler)
	r.Get("/people", s.PeopleHandler)
	r.Get("/messages/{userID}", s.MessagesHandler)
	r.Get("/uploads/{name}", s.UploadHandler)
	return r
}

// requestLogger logs one line per request with structured metadata only.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", r.RemoteAddr),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// recoverer turns handler panics into 500 responses.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error("panic",
					zap.Any("reason", rec),
					zap.ByteString("stack", debug.Stack()),
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusInternalServerError, "internal")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
