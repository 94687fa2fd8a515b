// Package web serves a small JSON admin/status API over the dispatch
// proxy's live state: personalities, conversation activity, the history
// audit log, and the structured log store, queryable per personality.
// Rendering an actual UI is out of scope (spec Non-goals); this is the
// status/control surface a future UI would call.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/tomasmach/personabridge/config"
	"github.com/tomasmach/personabridge/convstate"
	"github.com/tomasmach/personabridge/history"
	"github.com/tomasmach/personabridge/logstore"
	"github.com/tomasmach/personabridge/registry"
)

// Server is the admin/status HTTP server.
type Server struct {
	cfgStore   *config.Store
	cfgPath    string
	registry   *registry.Registry
	convState  *convstate.State
	history    *history.Store  // nil disables /api/history
	logs       *logstore.Store // nil disables /api/logs
	sseSubs    []chan string
	ssesMu     sync.Mutex
	httpServer *http.Server
}

// New builds a Server. hist and ls may be nil, in which case /api/history
// and /api/logs return an empty result once their required query
// parameters are present (a request missing them is still rejected).
func New(addr string, cfgStore *config.Store, cfgPath string, reg *registry.Registry, convState *convstate.State, hist *history.Store, ls *logstore.Store) *Server {
	s := &Server{
		cfgStore:  cfgStore,
		cfgPath:   cfgPath,
		registry:  reg,
		convState: convState,
		history:   hist,
		logs:      ls,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config/reload", s.handleReloadConfig)
	mux.HandleFunc("GET /api/personalities", s.handleListPersonalities)
	mux.HandleFunc("POST /api/personalities", s.handleCreatePersonality)
	mux.HandleFunc("DELETE /api/personalities/{id}", s.handleDeletePersonality)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/events", s.handleSSE)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler returns the server's http.Handler, for tests that want to wrap it
// in httptest.NewServer directly.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error { return s.httpServer.ListenAndServe() }

func (s *Server) Shutdown(ctx context.Context) error { return s.httpServer.Shutdown(ctx) }

// StartStatusPoller periodically broadcasts a status snapshot to SSE
// subscribers so an admin UI can stay live without polling.
func (s *Server) StartStatusPoller(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				data, err := json.Marshal(s.statusSnapshot())
				if err != nil {
					slog.Error("marshal status", "error", err)
					continue
				}
				s.broadcast(fmt.Sprintf("event: status\ndata: %s\n\n", data))
			}
		}
	}()
}

func (s *Server) subscribe() chan string {
	ch := make(chan string, 16)
	s.ssesMu.Lock()
	s.sseSubs = append(s.sseSubs, ch)
	s.ssesMu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan string) {
	s.ssesMu.Lock()
	defer s.ssesMu.Unlock()
	for i, sub := range s.sseSubs {
		if sub == ch {
			s.sseSubs = append(s.sseSubs[:i], s.sseSubs[i+1:]...)
			return
		}
	}
}

func (s *Server) broadcast(msg string) {
	s.ssesMu.Lock()
	defer s.ssesMu.Unlock()
	for _, ch := range s.sseSubs {
		select {
		case ch <- msg:
		default:
			// drop slow subscriber
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.cfgPath)
	if err != nil {
		slog.Error("read config file", "error", err)
		http.Error(w, "failed to read config", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write(data)
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if _, err := s.cfgStore.Reload(); err != nil {
		slog.Error("reload config", "error", err)
		http.Error(w, fmt.Sprintf("reload failed: %v", err), http.StatusInternalServerError)
		return
	}
	s.broadcast("event: config_reloaded\ndata: {}\n\n")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPersonalities(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.registry.List())
}

func (s *Server) handleCreatePersonality(w http.ResponseWriter, r *http.Request) {
	var input registry.Personality
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	byUserID := r.URL.Query().Get("user_id")
	if byUserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	created, err := s.registry.Add(input, byUserID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.broadcast("event: personality_created\ndata: {}\n\n")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

func (s *Server) handleDeletePersonality(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	byUserID := r.URL.Query().Get("user_id")
	if err := s.registry.Remove(id, byUserID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	s.broadcast("event: personality_removed\ndata: {}\n\n")
	w.WriteHeader(http.StatusNoContent)
}

type statusView struct {
	PersonalityCount int            `json:"personality_count"`
	TurnsByPersona   map[string]int `json:"turns_by_personality,omitempty"`
}

func (s *Server) statusSnapshot() statusView {
	view := statusView{PersonalityCount: len(s.registry.List())}
	if s.history != nil {
		if counts, err := s.history.CountByPersonality(context.Background()); err == nil {
			view.TurnsByPersona = counts
		}
	}
	return view
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": s.statusSnapshot(),
		"config": s.cfgStore.Get(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	channelID := r.URL.Query().Get("channel_id")
	personalityID := r.URL.Query().Get("personality_id")
	if channelID == "" || personalityID == "" {
		http.Error(w, "channel_id and personality_id are required", http.StatusBadRequest)
		return
	}
	if s.history == nil {
		json.NewEncoder(w).Encode(map[string]any{"turns": []any{}})
		return
	}
	turns, err := s.history.Recent(r.Context(), channelID, personalityID, 50)
	if err != nil {
		slog.Error("list history turns", "error", err)
		http.Error(w, "failed to list history", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"turns": turns})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	personalityID := r.URL.Query().Get("personality_id")
	if personalityID == "" {
		http.Error(w, "personality_id is required", http.StatusBadRequest)
		return
	}
	if s.logs == nil {
		json.NewEncoder(w).Encode(map[string]any{"logs": []any{}, "total": 0})
		return
	}
	level := r.URL.Query().Get("level")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	rows, total, err := s.logs.List(r.Context(), personalityID, level, limit, offset)
	if err != nil {
		slog.Error("list logs", "error", err)
		http.Error(w, "failed to list logs", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"logs": rows, "total": total})
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-ch:
			fmt.Fprint(w, msg)
			flusher.Flush()
		}
	}
}
