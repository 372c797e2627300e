package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/always-cache/offline-cache/cache"
	cacherefresh "github.com/always-cache/offline-cache/pkg/cache-refresh"
	offlinepage "github.com/always-cache/offline-cache/pkg/offline-page"
	"github.com/always-cache/offline-cache/pkg/routing"
	"github.com/always-cache/offline-cache/rfc9211"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNoResponse is returned when neither the network nor the cache could answer.
var ErrNoResponse = errors.New("no response from network or cache")

type Config struct {
	// Storage for cache generations.
	Store *cache.Store
	// Names of the generations of the running version.
	Names cache.Names
	// URL of the origin server. Relative requests are resolved against it.
	Scope *url.URL
	// Routing rules, evaluated in order.
	Rules routing.Rules
	// IsStaticPath returns true for paths that are never refreshed in the background.
	IsStaticPath func(path string) bool
	// Network access for cache-first and network-first requests.
	Fetcher Fetcher
	// Handler for bypassed requests. They are passed to it untouched.
	Passthrough http.Handler
	// Pool for background refreshes. Refreshes are disabled if nil.
	Refresh *cacherefresh.Pool
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Handler intercepts requests and answers them according to the routing rules.
type Handler struct {
	store        *cache.Store
	names        cache.Names
	scope        *url.URL
	rules        routing.Rules
	isStaticPath func(string) bool
	fetcher      Fetcher
	passthrough  http.Handler
	refresh      *cacherefresh.Pool
	log          zerolog.Logger
}

func NewHandler(config Config) *Handler {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	isStaticPath := config.IsStaticPath
	if isStaticPath == nil {
		isStaticPath = func(string) bool { return false }
	}
	return &Handler{
		store:        config.Store,
		names:        config.Names,
		scope:        config.Scope,
		rules:        config.Rules,
		isStaticPath: isStaticPath,
		fetcher:      config.Fetcher,
		passthrough:  config.Passthrough,
		refresh:      config.Refresh,
		log:          logger.With().Str("version", config.Names.Version).Logger(),
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer h.recover(w, r)
	h.handle(w, r)
}

// recover recovers from panics and sends the request through untouched.
func (h *Handler) recover(w http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		h.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in cache handler")
		h.Passthrough(w, r)
	}
}

// Classify returns the routing decision for the request.
func (h *Handler) Classify(r *http.Request) routing.Decision {
	return h.rules.Classify(Describe(r, h.scope))
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request) {
	decision := h.Classify(r)
	log := h.log.With().Str("url", r.URL.String()).Str("rule", decision.Rule).Logger()
	log.Trace().Str("policy", string(decision.Policy)).Msg("Incoming request")

	var (
		res *http.Response
		cs  rfc9211.CacheStatus
		err error
	)
	switch decision.Policy {
	case routing.CacheFirst:
		res, cs, err = h.CacheFirst(r.Context(), r, decision.Role)
	case routing.NetworkFirst:
		res, cs, err = h.NetworkFirst(r.Context(), r, decision.Role)
	default:
		h.Passthrough(w, r)
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("Could not respond")
		http.Error(w, "Error contacting origin", http.StatusBadGateway)
		return
	}
	if err := send(w, res, cs); err != nil {
		log.Debug().Err(err).Msg("Could not write response body to client")
	}
	logResponse(log, r, res, cs)
}

// Passthrough sends the request to the network untouched, without touching the cache.
func (h *Handler) Passthrough(w http.ResponseWriter, r *http.Request) {
	cs := rfc9211.CacheStatus{}
	cs.Forward(rfc9211.FwdReasonBypass)
	w.Header().Add("Cache-Status", cs.String())
	h.passthrough.ServeHTTP(w, r)
}

// CacheFirst answers from the cache when possible.
// A hit outside the static prefixes is also refreshed in the background.
// On a miss, the network response is returned and stored if it is a 200.
// If the network fails, the cache is consulted once more before giving up;
// navigations then get the offline page.
func (h *Handler) CacheFirst(ctx context.Context, r *http.Request, role cache.Role) (*http.Response, rfc9211.CacheStatus, error) {
	var cs rfc9211.CacheStatus
	name := h.names.For(role)

	if res, ok := h.match(ctx, name, r); ok {
		cs.Hit()
		if !h.isStaticPath(r.URL.Path) {
			h.refreshInBackground(ctx, name, r)
		}
		return res, cs, nil
	}

	cs.Forward(rfc9211.FwdReasonUriMiss)
	res, err := h.fetcher.Fetch(ctx, r)
	if err != nil {
		h.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Network error on cache miss")
		return h.fallback(ctx, name, r, cs, err)
	}
	cs.FwdStatus = res.StatusCode
	if res.StatusCode == http.StatusOK {
		cs.Stored = h.put(ctx, name, r, res)
	}
	return res, cs, nil
}

// NetworkFirst answers from the network, storing 200 responses.
// The cache is only used when the network fails.
func (h *Handler) NetworkFirst(ctx context.Context, r *http.Request, role cache.Role) (*http.Response, rfc9211.CacheStatus, error) {
	var cs rfc9211.CacheStatus
	name := h.names.For(role)

	cs.Forward(rfc9211.FwdReasonRequest)
	res, err := h.fetcher.Fetch(ctx, r)
	if err != nil {
		h.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Network error, trying cache")
		cs.Forward(rfc9211.FwdReasonMiss)
		return h.fallback(ctx, name, r, cs, err)
	}
	cs.FwdStatus = res.StatusCode
	if res.StatusCode == http.StatusOK {
		cs.Stored = h.put(ctx, name, r, res)
	}
	return res, cs, nil
}

// fallback is the last resort after a network failure.
func (h *Handler) fallback(ctx context.Context, name string, r *http.Request, cs rfc9211.CacheStatus, fetchErr error) (*http.Response, rfc9211.CacheStatus, error) {
	if res, ok := h.match(ctx, name, r); ok {
		cs.Hit()
		cs.Detail = "network-error"
		return res, cs, nil
	}
	if IsNavigation(r) {
		cs.Forward(rfc9211.FwdReasonMiss)
		cs.Detail = "offline"
		return offlinepage.Response(r), cs, nil
	}
	return nil, cs, fmt.Errorf("%w: %v", ErrNoResponse, fetchErr)
}

// match looks up the request in the generation.
// Cache errors are logged and treated as a miss.
func (h *Handler) match(ctx context.Context, name string, r *http.Request) (*http.Response, bool) {
	gen, err := h.store.Open(ctx, name)
	if err != nil {
		h.log.Warn().Err(err).Str("generation", name).Msg("Could not open cache")
		return nil, false
	}
	res, ok, err := gen.Match(ctx, r)
	if err != nil {
		h.log.Warn().Err(err).Str("generation", name).Msg("Could not read from cache")
		return nil, false
	}
	return res, ok
}

// put stores the response in the generation. Cache errors are logged and ignored.
func (h *Handler) put(ctx context.Context, name string, r *http.Request, res *http.Response) bool {
	gen, err := h.store.Open(ctx, name)
	if err == nil {
		err = gen.Put(ctx, r, res)
	}
	if err != nil {
		h.log.Warn().Err(err).Str("generation", name).Msg("Could not write to cache")
		return false
	}
	h.log.Trace().Str("generation", name).Str("url", r.URL.String()).Msg("Cache write")
	return true
}

// refreshInBackground updates the stored response without delaying the current one.
// Failures are swallowed, the next request will try again.
func (h *Handler) refreshInBackground(ctx context.Context, name string, r *http.Request) {
	if h.refresh == nil {
		return
	}
	req := r.Clone(context.WithoutCancel(ctx))
	h.refresh.Go(ctx, req.URL.String(), func(ctx context.Context) error {
		res, err := h.fetcher.Fetch(ctx, req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return nil
		}
		gen, err := h.store.Open(ctx, name)
		if err != nil {
			return err
		}
		return gen.Put(ctx, req, res)
	})
}

func send(w http.ResponseWriter, res *http.Response, status rfc9211.CacheStatus) error {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.Header().Del("Connection")
	w.Header().Add("Cache-Status", status.String())
	w.WriteHeader(res.StatusCode)
	if res.Body == nil {
		return nil
	}
	_, err := io.Copy(w, res.Body)
	return err
}

func logResponse(log zerolog.Logger, r *http.Request, res *http.Response, cs rfc9211.CacheStatus) {
	isHit := 0
	if cs.Status == rfc9211.StatusHit {
		isHit = 1
	}
	log.Debug().
		Str("method", r.Method).
		Int("code", res.StatusCode).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Bool("stored", cs.Stored).
		Str("detail", cs.Detail).
		Int("hit", isHit).
		Msg("Sending response to client")
}
