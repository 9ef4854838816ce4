package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/accafreeze-engine/internal/ledger"
	"github.com/yourorg/accafreeze-engine/internal/pipeline"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}

func errorResponse(w http.ResponseWriter, status int, msg string) {
	if status >= http.StatusInternalServerError {
		logrus.Warn(msg)
	}
	writeJSON(w, status, ErrorResponse{Status: "error", Error: msg})
}

// ledgerError maps ledger errors to HTTP statuses
func ledgerError(w http.ResponseWriter, err error) {
	if errors.Is(err, ledger.ErrNotPublished) {
		errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	if errors.Is(err, ledger.ErrInvalidSettlement) {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	logrus.WithError(err).Error("Ledger operation failed")
	errorResponse(w, http.StatusInternalServerError, "ledger operation failed")
}

func runError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrRunning) {
		errorResponse(w, http.StatusConflict, err.Error())
		return
	}
	errorResponse(w, http.StatusBadGateway, err.Error())
}

// instrument records request count and latency per route pattern
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.deps.Metrics.Request(route, strconv.Itoa(status), time.Since(start).Seconds())

		logrus.WithFields(logrus.Fields{
			"method":     r.Method,
			"route":      route,
			"status":     status,
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("Request served")
	})
}

// rateLimit rejects requests above the configured API rate
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			errorResponse(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin checks the bearer token of operator endpoints. Without a
// configured token the endpoints are open.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.AdminToken != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.AdminToken)) != 1 {
				errorResponse(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
