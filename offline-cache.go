// Package offlinecache is an offline-first caching intermediary for the CV optimizer web app.
//
// Requests are routed by ordered rules to cache-first or network-first
// handling against versioned cache generations, or bypass the cache entirely.
// Versions are installed and activated at runtime, and control messages,
// pushes and notification clicks are handled under /.offline-cache/.
package offlinecache

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/clients"
	"github.com/always-cache/offline-cache/core"
	"github.com/always-cache/offline-cache/lifecycle"
	"github.com/always-cache/offline-cache/notify"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	cacherefresh "github.com/always-cache/offline-cache/pkg/cache-refresh"
	"github.com/always-cache/offline-cache/pkg/routing"
	"github.com/always-cache/offline-cache/worker"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// AdminPrefix is the path of the control surface.
const AdminPrefix = "/.offline-cache"

type Server struct {
	config       Config
	scope        *url.URL
	store        *cache.Store
	fetcher      core.Fetcher
	passthrough  http.Handler
	refresh      *cacherefresh.Pool
	rules        routing.Rules
	clients      *clients.Registry
	relay        *notify.Relay
	registration *worker.Registration
	router       chi.Router
	log          zerolog.Logger
}

// New creates a server proxying to the configured origin.
func New(config Config, provider cache.CacheProvider, logger *zerolog.Logger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()
	scope, err := config.OriginURL()
	if err != nil {
		return nil, err
	}
	l := serverLogger(logger, scope)
	return newServer(config, scope, provider,
		core.NewHTTPFetcher(scope, config.OriginHost, l),
		core.NewReverseProxy(scope, config.OriginHost, l),
		l), nil
}

// Middleware creates a server using the next handler as origin.
// Cross-origin requests are still fetched from the network.
func Middleware(config Config, provider cache.CacheProvider, logger *zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		scope, err := config.OriginURL()
		if err != nil {
			scope = &url.URL{Scheme: "http", Host: "localhost"}
		}
		l := serverLogger(logger, scope)
		network := core.NewHTTPFetcher(scope, config.OriginHost, l)
		proxy := core.NewReverseProxy(scope, config.OriginHost, l)
		local := core.NewHandlerFetcher(next)
		s := newServer(config.withDefaults(), scope, provider,
			fetcherFunc(func(ctx context.Context, r *http.Request) (*http.Response, error) {
				if core.IsCrossOrigin(r, scope) {
					return network.Fetch(ctx, r)
				}
				return local.Fetch(ctx, r)
			}),
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if core.IsCrossOrigin(r, scope) {
					proxy.ServeHTTP(w, r)
					return
				}
				next.ServeHTTP(w, r)
			}),
			l)
		if _, err := s.Install(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("Could not install version")
		}
		go s.Run(context.Background())
		return s
	}
}

type fetcherFunc func(ctx context.Context, r *http.Request) (*http.Response, error)

func (f fetcherFunc) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	return f(ctx, r)
}

// serverLogger returns the logger with the origin added, falling back to the global logger.
func serverLogger(logger *zerolog.Logger, scope *url.URL) zerolog.Logger {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return l.With().Str("origin", scope.String()).Logger()
}

func newServer(config Config, scope *url.URL, provider cache.CacheProvider, fetcher core.Fetcher, passthrough http.Handler, l zerolog.Logger) *Server {
	s := &Server{
		config:      config,
		scope:       scope,
		store:       cache.NewStore(provider, cachekey.NewCacheKeyer(scope)),
		fetcher:     fetcher,
		passthrough: passthrough,
		refresh:     cacherefresh.NewPool(config.RefreshConcurrency, l),
		rules:       routing.NewRules(config.Rules),
		log:         l,
	}

	sessions := scs.New()
	sessions.Lifetime = 24 * time.Hour
	sessions.Cookie.Name = "offline_cache_client"
	sessions.Cookie.HttpOnly = true
	sessions.Cookie.SameSite = http.SameSiteLaxMode
	sessions.Cookie.Secure = scope.Scheme == "https"
	s.clients = clients.NewRegistry(sessions, l)
	s.relay = notify.NewRelay(s.clients, l)

	s.registration = worker.NewRegistration(worker.Config{
		NewWorker:   s.newWorker,
		SkipWaiting: config.SkipWaiting,
		Version:     config.Version,
		Passthrough: passthrough,
		Relay:       s.relay,
		Logger:      &l,
	})
	s.router = s.routes()
	return s
}

// newWorker builds the coordinator and the request handler of a version.
func (s *Server) newWorker(version string) (*worker.Worker, error) {
	names := cache.Names{Namespace: s.config.Namespace, Version: version}
	coordinator := lifecycle.NewCoordinator(lifecycle.Config{
		Store:    s.store,
		Names:    names,
		Manifest: s.config.Manifest,
		Fetcher:  s.fetcher,
		Claimer:  s.clients,
		Logger:   &s.log,
	})
	handler := core.NewHandler(core.Config{
		Store:        s.store,
		Names:        names,
		Scope:        s.scope,
		Rules:        s.rules,
		IsStaticPath: s.config.Rules.IsStaticPath,
		Fetcher:      s.fetcher,
		Passthrough:  s.passthrough,
		Refresh:      s.refresh,
		Logger:       &s.log,
	})
	return worker.NewWorker(coordinator, handler), nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(s.log))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	}))
	r.Use(s.sameOrigin(s.clients.Middleware))
	r.Route(AdminPrefix, s.adminRoutes)
	r.Handle("/*", s.registration)
	return r
}

// sameOrigin applies the middleware to same-origin requests only.
func (s *Server) sameOrigin(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if core.IsCrossOrigin(r, s.scope) {
				next.ServeHTTP(w, r)
				return
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Install installs the configured version.
func (s *Server) Install(ctx context.Context) (*worker.Worker, error) {
	return s.registration.Register(ctx, s.config.Version)
}

// Run handles queued events until the context is done.
func (s *Server) Run(ctx context.Context) error {
	return s.registration.Run(ctx)
}

// Wait blocks until running background refreshes are done.
func (s *Server) Wait() {
	s.refresh.Wait()
}

func (s *Server) Store() *cache.Store {
	return s.store
}

func (s *Server) Registration() *worker.Registration {
	return s.registration
}
