package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"strzcam.com/posture/clock"
	"strzcam.com/posture/monitor"
	"strzcam.com/posture/notify"
	"strzcam.com/posture/session"
)

var log = logging.Logger("posture/server")

const (
	MessageStarted   = "Streaming started"
	MessageStopped   = "Streaming stopped"
	MessageNoSession = "Streaming stopped (no session data available)"
)

// Service is the control surface the transport exposes.
type Service interface {
	StartStreaming() monitor.StartResult
	StopStreaming(ctx context.Context) monitor.StopResult
	Diagnosis() monitor.Report
	History() []session.Session
	Recent() []notify.Event
	Stats() monitor.Stats
	SubscribeEvents(buffer int) (*notify.Subscription[notify.Event], error)
	SubscribeFrames() (*notify.Subscription[[]byte], error)
	ObserverConnected(id string)
	ObserverDisconnected(id string)
}

type Options struct {
	Addr          string
	AllowedOrigin string
	Clock         clock.Clock
}

type Server struct {
	svc           Service
	clock         clock.Clock
	allowedOrigin string
	upgrader      websocket.Upgrader
	httpServer    *http.Server
}

func New(svc Service, opts Options) *Server {
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	if opts.Clock == nil {
		opts.Clock = clock.SystemClock{}
	}
	s := &Server{svc: svc, clock: opts.Clock, allowedOrigin: opts.AllowedOrigin}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /video_feed", s.serveStream)
	mux.HandleFunc("POST /start_feed", s.startFeed)
	mux.HandleFunc("POST /stop_feed", s.stopFeed)
	mux.HandleFunc("GET /get_diagnosis", s.getDiagnosis)
	mux.HandleFunc("GET /get_streaming_history", s.getHistory)
	mux.HandleFunc("GET /stats", s.getStats)
	mux.HandleFunc("GET /ws", s.serveWS)
	return s.withCORS(mux)
}

func (s *Server) ListenAndServe() error {
	log.Infof("listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", s.allowedOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.allowedOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == s.allowedOrigin
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("writing response: %v", err)
	}
}

type startResponse struct {
	Message        string    `json:"message"`
	StartTime      time.Time `json:"start_time"`
	AlreadyRunning bool      `json:"already_running,omitempty"`
}

type stopResponse struct {
	Message  string `json:"message"`
	Duration string `json:"duration,omitempty"`
}

func (s *Server) startFeed(w http.ResponseWriter, r *http.Request) {
	res := s.svc.StartStreaming()
	writeJSON(w, http.StatusOK, startResponse{
		Message:        MessageStarted,
		StartTime:      res.StartTime,
		AlreadyRunning: res.AlreadyRunning,
	})
}

func (s *Server) stopFeed(w http.ResponseWriter, r *http.Request) {
	res := s.svc.StopStreaming(r.Context())
	if !res.Stopped {
		writeJSON(w, http.StatusOK, stopResponse{Message: MessageNoSession})
		return
	}
	writeJSON(w, http.StatusOK, stopResponse{Message: MessageStopped, Duration: res.Duration})
}

func (s *Server) getDiagnosis(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Diagnosis())
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	history := s.svc.History()
	if history == nil {
		history = []session.Session{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Stats())
}
