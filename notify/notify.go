// Package notify shows push notifications and handles clicks on them.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/always-cache/offline-cache/clients"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrEmptyPayload is returned for a push without data. Such pushes are ignored.
var ErrEmptyPayload = errors.New("empty push payload")

const (
	Tag  = "cv-optimizer-notification"
	Icon = "/static/icons/icon-192x192.png"

	ActionOpen    = "open"
	ActionDismiss = "dismiss"

	// Path of the window focused or opened by the open action.
	rootPath = "/"
)

// Payload is the data of a push message.
type Payload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// ParsePush decodes the push data.
func ParsePush(data []byte) (Payload, error) {
	var p Payload
	if len(data) == 0 {
		return p, ErrEmptyPayload
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse push payload: %w", err)
	}
	return p, nil
}

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

type Notification struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Body               string    `json:"body"`
	Icon               string    `json:"icon"`
	Badge              string    `json:"badge"`
	Tag                string    `json:"tag"`
	Renotify           bool      `json:"renotify"`
	RequireInteraction bool      `json:"requireInteraction"`
	Actions            []Action  `json:"actions"`
	ShownAt            time.Time `json:"shownAt"`
}

// Windows is the part of the client registry needed to handle clicks.
type Windows interface {
	MatchAll() []clients.Client
	Focus(id string) error
	OpenWindow(url string)
}

// Relay keeps the shown notifications in an outbox until they are clicked.
type Relay struct {
	windows Windows
	log     zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	outbox map[string]Notification
}

func NewRelay(windows Windows, log zerolog.Logger) *Relay {
	return &Relay{
		windows: windows,
		log:     log,
		now:     time.Now,
		outbox:  make(map[string]Notification),
	}
}

// Push shows a notification for the push data.
func (r *Relay) Push(data []byte) (Notification, error) {
	payload, err := ParsePush(data)
	if err != nil {
		return Notification{}, err
	}
	r.log.Debug().Str("title", payload.Title).Msg("Push notification received")
	return r.Show(payload), nil
}

// Show adds the notification to the outbox.
func (r *Relay) Show(p Payload) Notification {
	n := Notification{
		ID:                 uuid.NewString(),
		Title:              p.Title,
		Body:               p.Message,
		Icon:               Icon,
		Badge:              Icon,
		Tag:                Tag,
		Renotify:           true,
		RequireInteraction: false,
		Actions: []Action{
			{Action: ActionOpen, Title: "Open app"},
			{Action: ActionDismiss, Title: "Dismiss"},
		},
		ShownAt: r.now(),
	}
	r.mu.Lock()
	r.outbox[n.ID] = n
	r.mu.Unlock()
	return n
}

// Shown returns the notifications in the outbox, oldest first.
func (r *Relay) Shown() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	shown := make([]Notification, 0, len(r.outbox))
	for _, n := range r.outbox {
		shown = append(shown, n)
	}
	sort.Slice(shown, func(i, j int) bool {
		return shown[i].ShownAt.Before(shown[j].ShownAt)
	})
	return shown
}

// Click closes the notification. The open action also focuses
// a window at the root path, or opens one if there is none.
func (r *Relay) Click(id, action string) error {
	r.mu.Lock()
	delete(r.outbox, id)
	r.mu.Unlock()
	r.log.Debug().Str("notification", id).Str("action", action).Msg("Notification clicked")

	if action != ActionOpen {
		return nil
	}
	for _, c := range r.windows.MatchAll() {
		if c.URL == rootPath {
			return r.windows.Focus(c.ID)
		}
	}
	r.windows.OpenWindow(rootPath)
	return nil
}
