package worker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/clients"
	"github.com/always-cache/offline-cache/core"
	"github.com/always-cache/offline-cache/lifecycle"
	"github.com/always-cache/offline-cache/notify"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	"github.com/always-cache/offline-cache/pkg/routing"

	"github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	scope   *url.URL
	store   *cache.Store
	clients *clients.Registry
	reg     *Registration
}

func newTestEnv(t *testing.T, skipWaiting bool) *testEnv {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("origin " + r.URL.Path))
	}))
	t.Cleanup(origin.Close)
	scope, err := url.Parse(origin.URL)
	require.NoError(t, err)

	logger := zerolog.Nop()
	env := &testEnv{
		scope:   scope,
		store:   cache.NewStore(cache.NewMemCache(), cachekey.NewCacheKeyer(scope)),
		clients: clients.NewRegistry(scs.New(), logger),
	}
	fetcher := core.NewHTTPFetcher(scope, "", logger)
	passthrough := core.NewReverseProxy(scope, "", logger)
	factory := func(version string) (*Worker, error) {
		names := cache.Names{Namespace: "cv-optimizer-", Version: version}
		coordinator := lifecycle.NewCoordinator(lifecycle.Config{
			Store:    env.store,
			Names:    names,
			Manifest: []string{"/"},
			Fetcher:  fetcher,
			Claimer:  env.clients,
			Logger:   &logger,
		})
		handler := core.NewHandler(core.Config{
			Store:       env.store,
			Names:       names,
			Scope:       scope,
			Rules:       routing.NewRules(routing.DefaultRuleConfig()),
			Fetcher:     fetcher,
			Passthrough: passthrough,
			Logger:      &logger,
		})
		return NewWorker(coordinator, handler), nil
	}
	env.reg = NewRegistration(Config{
		NewWorker:   factory,
		SkipWaiting: skipWaiting,
		Passthrough: passthrough,
		Relay:       notify.NewRelay(env.clients, logger),
		Logger:      &logger,
	})
	return env
}

func (env *testEnv) generations(t *testing.T) []string {
	names, err := env.store.Names(context.Background())
	require.NoError(t, err)
	return names
}

func TestPassthroughWithoutActiveWorker(t *testing.T) {
	env := newTestEnv(t, true)
	rr := httptest.NewRecorder()
	env.reg.ServeHTTP(rr, httptest.NewRequest("GET", "/static/js/main.js", nil))

	body, _ := io.ReadAll(rr.Result().Body)
	assert.Equal(t, "origin /static/js/main.js", string(body))
	assert.Empty(t, env.generations(t))
}

func TestFirstRegistrationActivatesImmediately(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	w, err := env.reg.Register(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Active, w.State())
	assert.Same(t, w, env.reg.Active())
	assert.Contains(t, env.generations(t), "cv-optimizer-static-v1")

	rr := httptest.NewRecorder()
	env.reg.ServeHTTP(rr, httptest.NewRequest("GET", "/static/js/main.js", nil))
	assert.Contains(t, rr.Header().Get("Cache-Status"), "stored")
}

func TestSkipWaitingActivatesNewVersion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, true)

	v1, err := env.reg.Register(ctx, "v1")
	require.NoError(t, err)
	env.clients.Claim("v1")
	v2, err := env.reg.Register(ctx, "v2")
	require.NoError(t, err)

	assert.Equal(t, lifecycle.Superseded, v1.State())
	assert.Equal(t, lifecycle.Active, v2.State())
	assert.Nil(t, env.reg.Waiting())
	assert.ElementsMatch(t, []string{"cv-optimizer-static-v2"}, env.generations(t))
}

func TestWaitingVersionActivatesOnMessage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	v1, err := env.reg.Register(ctx, "v1")
	require.NoError(t, err)
	v2, err := env.reg.Register(ctx, "v2")
	require.NoError(t, err)

	assert.Equal(t, lifecycle.Waiting, v2.State())
	assert.Same(t, v1, env.reg.Active())
	assert.Same(t, v2, env.reg.Waiting())

	require.NoError(t, env.reg.Dispatch(ctx, MessageEvent{Type: MessageSkipWaiting}))
	assert.Same(t, v2, env.reg.Active())
	assert.Equal(t, lifecycle.Superseded, v1.State())
	assert.NotContains(t, env.generations(t), "cv-optimizer-static-v1")
}

func TestCleanupMessage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, true)
	_, err := env.reg.Register(ctx, "v2")
	require.NoError(t, err)
	_, err = env.store.Open(ctx, "cv-optimizer-runtime-v1")
	require.NoError(t, err)

	require.NoError(t, env.reg.Dispatch(ctx, MessageEvent{Type: MessageCleanupCaches}))
	assert.NotContains(t, env.generations(t), "cv-optimizer-runtime-v1")
}

func TestCleanupMessageWithoutActiveWorker(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, true)
	_, err := env.store.Open(ctx, "cv-optimizer-static-v1")
	require.NoError(t, err)
	_, err = env.store.Open(ctx, "cv-optimizer-static-v2")
	require.NoError(t, err)

	// nothing configured, nothing to compare against
	require.NoError(t, env.reg.Dispatch(ctx, MessageEvent{Type: MessageCleanupCaches}))
	assert.Len(t, env.generations(t), 2)

	env.reg.version = "v2"
	require.NoError(t, env.reg.Dispatch(ctx, MessageEvent{Type: MessageCleanupCaches}))
	assert.Equal(t, []string{"cv-optimizer-static-v2"}, env.generations(t))
	assert.Nil(t, env.reg.Active())
}

func TestUnknownMessage(t *testing.T) {
	env := newTestEnv(t, true)
	err := env.reg.Dispatch(context.Background(), MessageEvent{Type: "RELOAD"})
	assert.ErrorIs(t, err, ErrUnknownMessage)

	_, err = ParseMessage([]byte(`{"type":"RELOAD"}`))
	assert.ErrorIs(t, err, ErrUnknownMessage)

	m, err := ParseMessage([]byte(`{"type":"SKIP_WAITING"}`))
	require.NoError(t, err)
	assert.Equal(t, MessageSkipWaiting, m.Type)
}

func TestPushEvents(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, true)

	require.NoError(t, env.reg.Dispatch(ctx, PushEvent{}))
	require.Error(t, env.reg.Dispatch(ctx, PushEvent{Data: []byte("not json")}))
	require.NoError(t, env.reg.Dispatch(ctx, PushEvent{Data: []byte(`{"title":"Done","message":"ready"}`)}))
	require.NoError(t, env.reg.Dispatch(ctx, SyncEvent{Tag: SyncTag}))
	require.NoError(t, env.reg.Dispatch(ctx, SyncEvent{Tag: "other"}))
}

func TestRunDispatchesPostedEvents(t *testing.T) {
	env := newTestEnv(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- env.reg.Run(ctx) }()

	require.True(t, env.reg.Post(InstallEvent{Version: "v3"}))
	assert.Eventually(t, func() bool {
		active := env.reg.Active()
		return active != nil && active.Version() == "v3"
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
