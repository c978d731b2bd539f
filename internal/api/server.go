// Package api serves the read-only HTTP surface: health, live session
// snapshots, journaled results and prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinkertanker/classroom-widgets-sub001/internal/session"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/interfaces"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// Sessions is the live session directory
type Sessions interface {
	List() []types.SessionInfo
	GetSession(code string) (*session.Session, error)
	GetStats() map[string]interface{}
}

// ConnectionStats reports socket counts
type ConnectionStats interface {
	GetStats() map[string]int
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	sessions    Sessions
	journal     interfaces.Journal
	connections ConnectionStats
	router      *mux.Router
	startedAt   time.Time
}

// NewServer wires the routes. journal may be nil, in which case results
// are unavailable. ws, when non-nil, is mounted at /ws.
func NewServer(sessions Sessions, journal interfaces.Journal, connections ConnectionStats, ws http.Handler) *Server {
	s := &Server{
		sessions:    sessions,
		journal:     journal,
		connections: connections,
		router:      mux.NewRouter(),
		startedAt:   time.Now(),
	}
	s.setupRoutes(ws)
	return s
}

func (s *Server) setupRoutes(ws http.Handler) {
	s.router.Use(corsMiddleware)

	s.router.Handle("/health", jsonMiddleware(http.HandlerFunc(s.healthCheck))).Methods(http.MethodGet, http.MethodOptions)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if ws != nil {
		s.router.Handle("/ws", ws)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonMiddleware)
	api.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sessions/{code}", s.getSession).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sessions/{code}/results", s.getResults).Methods(http.MethodGet, http.MethodOptions)

	s.router.NotFoundHandler = jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, "No such endpoint", http.StatusNotFound)
	}))
	s.router.MethodNotAllowedHandler = jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type ListSessionsResponse struct {
	Sessions []types.SessionInfo `json:"sessions"`
	Count    int                 `json:"count"`
}

type SessionResponse struct {
	Session types.SessionInfo `json:"session"`
}

// WidgetSummary aggregates the submissions of one activity widget
type WidgetSummary struct {
	WidgetID     string  `json:"widgetId"`
	Submissions  int     `json:"submissions"`
	AverageScore float64 `json:"averageScore"`
	Perfect      int     `json:"perfect"`
}

type ResultsResponse struct {
	SessionCode string                    `json:"sessionCode"`
	Live        bool                      `json:"live"`
	Session     *types.SessionRecord      `json:"session,omitempty"`
	Widgets     []WidgetSummary           `json:"widgets"`
	Submissions []*types.SubmissionRecord `json:"submissions"`
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Connections map[string]int         `json:"connections"`
	Sessions    map[string]interface{} `json:"sessions"`
	System      map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/sessions
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()
	writeJSON(w, http.StatusOK, ListSessionsResponse{Sessions: sessions, Count: len(sessions)})
}

// GET /api/sessions/{code}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	code, ok := sessionCode(w, r)
	if !ok {
		return
	}
	live, err := s.sessions.GetSession(code)
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: live.Snapshot(false)})
}

// GET /api/sessions/{code}/results
func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	code, ok := sessionCode(w, r)
	if !ok {
		return
	}
	if s.journal == nil {
		sendError(w, "Results journal is disabled", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	_, liveErr := s.sessions.GetSession(code)
	record, err := s.journal.GetSessionRecord(ctx, code)
	switch {
	case errors.Is(err, interfaces.ErrRecordNotFound):
		if liveErr != nil {
			sendError(w, "Session not found", http.StatusNotFound)
			return
		}
		record = nil
	case err != nil:
		log.Printf("Failed to read session record: code=%s err=%v", code, err)
		sendError(w, "Failed to read results", http.StatusInternalServerError)
		return
	}

	submissions, err := s.journal.ListSubmissions(ctx, code)
	if err != nil {
		log.Printf("Failed to list submissions: code=%s err=%v", code, err)
		sendError(w, "Failed to read results", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ResultsResponse{
		SessionCode: code,
		Live:        liveErr == nil,
		Session:     record,
		Widgets:     summarize(submissions),
		Submissions: submissions,
	})
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "disabled"
	if s.journal != nil {
		dbStatus = "healthy"
		if err := s.journal.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.connections.GetStats(),
		Sessions:    s.sessions.GetStats(),
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		},
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

func (s *Server) sessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		sendError(w, "Session not found", http.StatusNotFound)
		return
	}
	log.Printf("Session lookup failed: %v", err)
	sendError(w, "Failed to get session", http.StatusInternalServerError)
}

// sessionCode reads and normalises the {code} path variable
func sessionCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	code := types.NormalizeCode(mux.Vars(r)["code"])
	if !types.IsValidSessionCode(code) {
		sendError(w, "Invalid session code", http.StatusBadRequest)
		return "", false
	}
	return code, true
}

// summarize groups submissions by widget in widget id order
func summarize(submissions []*types.SubmissionRecord) []WidgetSummary {
	byWidget := make(map[string]*WidgetSummary)
	totals := make(map[string]float64)
	for _, sub := range submissions {
		summary, ok := byWidget[sub.WidgetID]
		if !ok {
			summary = &WidgetSummary{WidgetID: sub.WidgetID}
			byWidget[sub.WidgetID] = summary
		}
		summary.Submissions++
		totals[sub.WidgetID] += float64(sub.Score)
		if sub.Total > 0 && sub.Score == sub.Total {
			summary.Perfect++
		}
	}

	out := make([]WidgetSummary, 0, len(byWidget))
	for id, summary := range byWidget {
		summary.AverageScore = totals[id] / float64(summary.Submissions)
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WidgetID < out[j].WidgetID })
	return out
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// sendError writes the common error body
func sendError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware allows browser dashboards on other origins to read the API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
