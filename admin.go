package offlinecache

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/always-cache/offline-cache/clients"
	"github.com/always-cache/offline-cache/core"
	"github.com/always-cache/offline-cache/worker"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

// Maximum size of a posted event body.
const maxEventSize = 64 << 10

func (s *Server) adminRoutes(r chi.Router) {
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// the control surface only exists on our own origin
			if core.IsCrossOrigin(req, s.scope) {
				s.registration.ServeHTTP(w, req)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.Post("/message", s.handleMessage)
	r.Post("/push", s.handlePush)
	r.Post("/notificationclick", s.handleNotificationClick)
	r.Post("/sync", s.handleSync)
	r.Post("/deploy", s.handleDeploy)

	r.Get("/generations", s.handleGenerations)
	r.Get("/state", s.handleState)
	r.Get("/notifications", s.handleNotifications)
	r.Get("/client", s.handleClient)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	m, err := worker.ParseMessage(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.post(w, r, m)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	s.post(w, r, worker.PushEvent{Data: body})
}

func (s *Server) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	var e worker.NotificationClickEvent
	if decodeBody(w, r, &e) {
		s.post(w, r, e)
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var e worker.SyncEvent
	if decodeBody(w, r, &e) {
		s.post(w, r, e)
	}
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var e worker.InstallEvent
	if !decodeBody(w, r, &e) {
		return
	}
	if e.Version == "" {
		http.Error(w, "version is required", http.StatusBadRequest)
		return
	}
	s.post(w, r, e)
}

// post queues the event and answers 202 Accepted.
func (s *Server) post(w http.ResponseWriter, r *http.Request, e worker.Event) {
	if !s.registration.Post(e) {
		http.Error(w, "event queue full", http.StatusServiceUnavailable)
		return
	}
	hlog.FromRequest(r).Debug().Str("event", eventName(e)).Msg("Event queued")
	w.WriteHeader(http.StatusAccepted)
}

type workerState struct {
	Version string `json:"version"`
	State   string `json:"state"`
}

type registrationState struct {
	Active      *workerState `json:"active"`
	Waiting     *workerState `json:"waiting"`
	Generations []string     `json:"current"`
}

func stateOf(w *worker.Worker) *workerState {
	if w == nil {
		return nil
	}
	return &workerState{Version: w.Version(), State: w.State().String()}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state := registrationState{
		Active:      stateOf(s.registration.Active()),
		Waiting:     stateOf(s.registration.Waiting()),
		Generations: []string{},
	}
	if active := s.registration.Active(); active != nil {
		state.Generations = active.Coordinator().Names().Current()
	}
	writeJSON(w, r, state)
}

func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.Names(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not list generations")
		http.Error(w, "could not list generations", http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, names)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, s.relay.Shown())
}

type clientState struct {
	ID           string                `json:"id"`
	Instructions []clients.Instruction `json:"instructions"`
}

// handleClient hands the pending instructions to the polling page.
func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	id := s.clients.ID(r)
	writeJSON(w, r, clientState{ID: id, Instructions: s.clients.Instructions(id)})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventSize))
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, ok := readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("Could not write response")
	}
}

func eventName(e worker.Event) string {
	switch e.(type) {
	case worker.InstallEvent:
		return "install"
	case worker.MessageEvent:
		return "message"
	case worker.PushEvent:
		return "push"
	case worker.NotificationClickEvent:
		return "notificationclick"
	case worker.SyncEvent:
		return "sync"
	}
	return "unknown"
}
