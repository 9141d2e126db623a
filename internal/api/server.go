package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/gavel/internal/hearing"
	"github.com/MikeSquared-Agency/gavel/internal/sequencer"
)

// Hearing is the controller surface the bridge drives.
type Hearing interface {
	BeginHearing(ctx context.Context) error
	SendMessage(ctx context.Context, role sequencer.Role, content string) error
	Close()
	Snapshot() hearing.Snapshot
}

type Server struct {
	router  *chi.Mux
	port    int
	hearing Hearing
	httpSrv *http.Server

	brokerUp func() bool
}

func NewServer(port int, apiToken string, h Hearing, metrics http.Handler) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:  router,
		port:    port,
		hearing: h,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/gavel/status", s.status)
	if metrics != nil {
		router.Handle("/metrics", metrics)
	}

	router.Route("/api/v1/hearing", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Post("/", s.beginHearing)
		r.Delete("/", s.closeHearing)
		r.Post("/messages", s.sendMessage)
		r.Get("/transcript", s.transcript)
		r.Get("/state", s.state)
	})

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// SetBrokerHealth adds the event broker's connection state to the status
// report.
func (s *Server) SetBrokerHealth(up func() bool) { s.brokerUp = up }

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("API server starting", "addr", addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	snap := s.hearing.Snapshot()
	resp := map[string]any{
		"agent":     "gavel",
		"case_id":   snap.CaseID,
		"state":     snap.State,
		"concluded": snap.Concluded,
		"messages":  len(snap.Transcript),
	}
	if s.brokerUp != nil {
		resp["nats_connected"] = s.brokerUp()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) beginHearing(w http.ResponseWriter, r *http.Request) {
	if err := s.hearing.BeginHearing(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.hearing.Snapshot())
}

func (s *Server) closeHearing(w http.ResponseWriter, r *http.Request) {
	s.hearing.Close()
	w.WriteHeader(http.StatusNoContent)
}

type sendRequest struct {
	Role    sequencer.Role `json:"role"`
	Content string         `json:"content"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error(), false)
		return
	}
	if err := s.hearing.SendMessage(r.Context(), req.Role, req.Content); err != nil {
		writeError(w, err)
		return
	}
	snap := s.hearing.Snapshot()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"transcript": snap.Transcript,
		"concluded":  snap.Concluded,
	})
}

func (s *Server) transcript(w http.ResponseWriter, r *http.Request) {
	snap := s.hearing.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"case_id":    snap.CaseID,
		"hearing_id": snap.HearingID,
		"transcript": snap.Transcript,
	})
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hearing.Snapshot())
}
