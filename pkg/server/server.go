// Package server exposes the reliability event protocol over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"reliability-tracker/pkg/reliability"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 16

// Scorer computes a client's current reliability.
type Scorer interface {
	Score(ctx context.Context, msisdn string) (float64, error)
}

type Server struct {
	protocol reliability.EventProtocol
	scorer   Scorer
	logger   *slog.Logger
	router   *mux.Router
}

func New(protocol reliability.EventProtocol, scorer Scorer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		protocol: protocol,
		scorer:   scorer,
		logger:   logger,
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestID)
	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)

	// Kept on the root router: a /v1 subrouter answers method mismatches with 404.
	s.router.HandleFunc("/v1/tests/{id}", s.updateTest).Methods(http.MethodPut)
	s.router.HandleFunc("/v1/clients/{msisdn}/reliability", s.clientReliability).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type requestIDKey struct{}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) updateTest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req reliability.UpdateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.logger.Warn("Invalid update body", "request_id", requestIDFrom(r.Context()), "test_id", id, "error", err)
		writeJSON(w, http.StatusBadRequest, reliability.Result{
			Success: false,
			Message: "invalid request body",
			Reason:  reliability.ReasonInvalid,
		})
		return
	}

	result := s.protocol.Update(r.Context(), id, req)
	s.logger.Debug("Update handled",
		"request_id", requestIDFrom(r.Context()),
		"test_id", id,
		"success", result.Success,
		"reason", result.Reason)
	writeJSON(w, statusFor(result), result)
}

type reliabilityResponse struct {
	MSISDN      string  `json:"msisdn"`
	Reliability float64 `json:"reliability"`
}

func (s *Server) clientReliability(w http.ResponseWriter, r *http.Request) {
	msisdn := mux.Vars(r)["msisdn"]

	score, err := s.scorer.Score(r.Context(), msisdn)
	if err != nil {
		s.logger.Error("Failed to compute reliability", "request_id", requestIDFrom(r.Context()), "msisdn", msisdn, "error", err)
		writeJSON(w, http.StatusInternalServerError, reliability.Result{
			Success: false,
			Message: "failed to compute reliability",
			Reason:  reliability.ReasonStorage,
		})
		return
	}
	writeJSON(w, http.StatusOK, reliabilityResponse{MSISDN: msisdn, Reliability: score})
}

func statusFor(result reliability.Result) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.Reason {
	case reliability.ReasonInvalid:
		return http.StatusBadRequest
	case reliability.ReasonNotFound:
		return http.StatusNotFound
	case reliability.ReasonAlreadyTerminal:
		return http.StatusConflict
	case reliability.ReasonUnsupported:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
