// Package clients keeps track of the browser windows using the cache.
//
// Every browser session gets a client ID, stored in a session cookie.
// Instructions for a client (take over by a new version, focus, open a window)
// are queued and picked up by the page when it polls for them.
package clients

import (
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/always-cache/offline-cache/core"

	"github.com/alexedwards/scs/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrUnknownClient = errors.New("unknown client")

const sessionKey = "client_id"

// maxPending is the number of instructions kept for a client that does not poll.
// The oldest are dropped first.
const maxPending = 16

type InstructionType string

const (
	InstructionClaim      InstructionType = "claim"
	InstructionFocus      InstructionType = "focus"
	InstructionOpenWindow InstructionType = "open-window"
)

type Instruction struct {
	Type    InstructionType `json:"type"`
	URL     string          `json:"url,omitempty"`
	Version string          `json:"version,omitempty"`
}

type Client struct {
	ID string `json:"id"`
	// URL of the last page the client navigated to.
	URL string `json:"url"`
	// Version controlling the client, empty if uncontrolled.
	Version  string    `json:"version"`
	LastSeen time.Time `json:"lastSeen"`

	pending []Instruction
}

type Registry struct {
	sessions *scs.SessionManager
	log      zerolog.Logger
	now      func() time.Time
	// clients not seen for this long are forgotten
	ttl time.Duration

	mu      sync.Mutex
	clients map[string]*Client
	// windows to open, handed to the first client asking for instructions
	windows []Instruction
}

func NewRegistry(sessions *scs.SessionManager, log zerolog.Logger) *Registry {
	return &Registry{
		sessions: sessions,
		log:      log,
		now:      time.Now,
		ttl:      sessions.Lifetime,
		clients:  make(map[string]*Client),
	}
}

// Sessions returns the session manager backing the client IDs.
func (r *Registry) Sessions() *scs.SessionManager {
	return r.sessions
}

// Middleware loads the session and keeps the client list current.
// Only navigations assign a client ID and register the client;
// other requests of a known client just mark it as seen.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return r.sessions.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := r.sessions.GetString(req.Context(), sessionKey)
		if core.IsNavigation(req) {
			if id == "" {
				id = uuid.NewString()
				r.sessions.Put(req.Context(), sessionKey, id)
				r.log.Trace().Str("client", id).Msg("New client")
			}
			r.touch(id, req.URL.RequestURI())
		} else if id != "" {
			r.seen(id)
		}
		next.ServeHTTP(w, req)
	}))
}

// ID returns the client ID of the request's session, or an empty string.
func (r *Registry) ID(req *http.Request) string {
	return r.sessions.GetString(req.Context(), sessionKey)
}

// touch registers the client if needed and records its current page.
func (r *Registry) touch(id, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	c, ok := r.clients[id]
	if !ok {
		c = &Client{ID: id}
		r.clients[id] = c
	}
	c.URL = url
	c.LastSeen = r.now()
}

// seen updates the last seen time of a known client.
func (r *Registry) seen(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[id]; ok {
		c.LastSeen = r.now()
	}
}

// evictLocked forgets clients that have not been seen within the ttl.
func (r *Registry) evictLocked() {
	if r.ttl <= 0 {
		return
	}
	cutoff := r.now().Add(-r.ttl)
	for id, c := range r.clients {
		if c.LastSeen.Before(cutoff) {
			delete(r.clients, id)
			r.log.Trace().Str("client", id).Msg("Client expired")
		}
	}
}

func (c *Client) queue(i Instruction) {
	if len(c.pending) >= maxPending {
		c.pending = append(c.pending[:0], c.pending[len(c.pending)-maxPending+1:]...)
	}
	c.pending = append(c.pending, i)
}

// MatchAll returns all known clients, most recently seen first.
func (r *Registry) MatchAll() []Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	all := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		client := *c
		client.pending = nil
		all = append(all, client)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].LastSeen.Equal(all[j].LastSeen) {
			return all[i].ID < all[j].ID
		}
		return all[i].LastSeen.After(all[j].LastSeen)
	})
	return all
}

// Claim makes the version control all known clients.
func (r *Registry) Claim(version string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	for _, c := range r.clients {
		c.Version = version
		c.queue(Instruction{Type: InstructionClaim, Version: version})
	}
	return len(r.clients)
}

// Focus asks the client to bring its window to the front.
func (r *Registry) Focus(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return ErrUnknownClient
	}
	c.queue(Instruction{Type: InstructionFocus, URL: c.URL})
	return nil
}

// OpenWindow asks for a new window at the URL.
func (r *Registry) OpenWindow(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.windows) >= maxPending {
		r.windows = r.windows[1:]
	}
	r.windows = append(r.windows, Instruction{Type: InstructionOpenWindow, URL: url})
}

// Instructions returns and clears the pending instructions for the client.
func (r *Registry) Instructions(id string) []Instruction {
	r.mu.Lock()
	defer r.mu.Unlock()
	instructions := make([]Instruction, 0)
	if c, ok := r.clients[id]; ok {
		instructions = append(instructions, c.pending...)
		c.pending = nil
	}
	instructions = append(instructions, r.windows...)
	r.windows = nil
	return instructions
}
