// Package worker runs cache versions: it installs them, swaps the active one
// and dispatches every event to the version in control.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/always-cache/offline-cache/lifecycle"
	"github.com/always-cache/offline-cache/notify"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var errNoRelay = errors.New("no notification relay")

// Worker is one installed version.
type Worker struct {
	coordinator *lifecycle.Coordinator
	handler     http.Handler
}

func NewWorker(coordinator *lifecycle.Coordinator, handler http.Handler) *Worker {
	return &Worker{coordinator: coordinator, handler: handler}
}

func (w *Worker) Version() string {
	return w.coordinator.Names().Version
}

func (w *Worker) State() lifecycle.State {
	return w.coordinator.State()
}

func (w *Worker) Coordinator() *lifecycle.Coordinator {
	return w.coordinator
}

// Factory builds the worker for a version.
type Factory func(version string) (*Worker, error)

type Config struct {
	NewWorker Factory
	// Activate new versions right after install instead of waiting for
	// an explicit activation. Open pages switch to the new version mid-session.
	SkipWaiting bool
	// Handler for requests arriving while no version is active.
	Passthrough http.Handler
	// Optional, push and notification click events fail without it.
	Relay *notify.Relay
	// Size of the event queue used by Post.
	QueueSize int
	// Configured version. Its cache names are kept by a cleanup
	// that arrives before any version is installed.
	Version string
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Registration tracks the active and the waiting worker.
type Registration struct {
	newWorker   Factory
	version     string
	passthrough http.Handler
	relay       *notify.Relay
	events      chan Event
	log         zerolog.Logger

	mu          sync.RWMutex
	skipWaiting bool
	active      *Worker
	waiting     *Worker
}

func NewRegistration(config Config) *Registration {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Registration{
		newWorker:   config.NewWorker,
		version:     config.Version,
		passthrough: config.Passthrough,
		relay:       config.Relay,
		events:      make(chan Event, queueSize),
		log:         logger,
		skipWaiting: config.SkipWaiting,
	}
}

func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Register installs the version. It becomes active right away if no version
// is active or skip-waiting is on, otherwise it waits for activation.
func (r *Registration) Register(ctx context.Context, version string) (*Worker, error) {
	if active := r.Active(); active != nil && active.Version() == version {
		return active, nil
	}
	w, err := r.newWorker(version)
	if err != nil {
		return nil, fmt.Errorf("create worker %s: %w", version, err)
	}
	// pre-warm failures are logged by the coordinator and never block the install
	w.coordinator.Install(ctx)

	r.mu.Lock()
	if r.active != nil && !r.skipWaiting {
		if r.waiting != nil {
			r.waiting.coordinator.Supersede()
		}
		r.waiting = w
		r.mu.Unlock()
		r.log.Info().Str("version", version).Msg("Version installed and waiting")
		return w, nil
	}
	r.mu.Unlock()
	r.activate(ctx, w)
	return w, nil
}

// SkipWaiting activates the waiting version, if any.
func (r *Registration) SkipWaiting(ctx context.Context) {
	if w := r.Waiting(); w != nil {
		r.activate(ctx, w)
	}
}

// activate puts the worker in control and supersedes the previous one.
// Requests are routed to the new worker before stale generations are deleted.
func (r *Registration) activate(ctx context.Context, w *Worker) {
	r.mu.Lock()
	prev := r.active
	if prev == w {
		r.mu.Unlock()
		return
	}
	r.active = w
	if r.waiting == w {
		r.waiting = nil
	}
	r.mu.Unlock()

	if prev != nil {
		prev.coordinator.Supersede()
	}
	w.coordinator.Activate(ctx)
	r.log.Info().Str("version", w.Version()).Msg("Version active")
}

// ServeHTTP dispatches the request as a fetch event.
func (r *Registration) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.Dispatch(req.Context(), FetchEvent{Writer: w, Request: req})
}

// Dispatch handles the event synchronously.
func (r *Registration) Dispatch(ctx context.Context, e Event) error {
	switch e := e.(type) {
	case InstallEvent:
		_, err := r.Register(ctx, e.Version)
		return err
	case ActivateEvent:
		r.SkipWaiting(ctx)
		return nil
	case FetchEvent:
		if active := r.Active(); active != nil {
			active.handler.ServeHTTP(e.Writer, e.Request)
		} else {
			r.passthrough.ServeHTTP(e.Writer, e.Request)
		}
		return nil
	case MessageEvent:
		return r.message(ctx, e)
	case PushEvent:
		return r.push(e)
	case NotificationClickEvent:
		if r.relay == nil {
			return errNoRelay
		}
		return r.relay.Click(e.ID, e.Action)
	case SyncEvent:
		r.sync(e)
		return nil
	}
	return fmt.Errorf("unknown event %T", e)
}

func (r *Registration) message(ctx context.Context, m MessageEvent) error {
	switch m.Type {
	case MessageSkipWaiting:
		r.log.Debug().Msg("Skipping waiting")
		r.SkipWaiting(ctx)
		return nil
	case MessageCleanupCaches:
		w, err := r.current()
		if err != nil {
			return err
		}
		if w == nil {
			r.log.Debug().Msg("No version to clean up for")
			return nil
		}
		deleted, err := w.coordinator.Cleanup(ctx)
		r.log.Info().Str("version", w.Version()).Strs("deleted", deleted).Msg("Cleanup completed")
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
}

// current returns the active worker, else the waiting one.
// With neither, a worker for the configured version is built without installing it.
func (r *Registration) current() (*Worker, error) {
	r.mu.RLock()
	w := r.active
	if w == nil {
		w = r.waiting
	}
	r.mu.RUnlock()
	if w != nil || r.version == "" || r.newWorker == nil {
		return w, nil
	}
	return r.newWorker(r.version)
}

func (r *Registration) push(e PushEvent) error {
	if r.relay == nil {
		return errNoRelay
	}
	_, err := r.relay.Push(e.Data)
	if errors.Is(err, notify.ErrEmptyPayload) {
		r.log.Trace().Msg("Ignoring empty push")
		return nil
	}
	return err
}

func (r *Registration) sync(e SyncEvent) {
	if e.Tag != SyncTag {
		r.log.Trace().Str("tag", e.Tag).Msg("Ignoring sync event")
		return
	}
	r.log.Info().Str("tag", e.Tag).Msg("Background sync triggered")
	r.log.Info().Str("tag", e.Tag).Msg("Background sync completed")
}

// Post queues the event for the dispatch loop. It returns false if the queue is full.
// Fetch events must be dispatched directly.
func (r *Registration) Post(e Event) bool {
	select {
	case r.events <- e:
		return true
	default:
		r.log.Warn().Str("event", fmt.Sprintf("%T", e)).Msg("Event queue full, dropping event")
		return false
	}
}

// Run dispatches queued events one at a time until the context is done.
func (r *Registration) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-r.events:
			if err := r.Dispatch(ctx, e); err != nil {
				r.log.Error().Err(err).Str("event", fmt.Sprintf("%T", e)).Msg("Could not handle event")
			}
		}
	}
}
