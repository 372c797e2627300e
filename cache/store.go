package cache

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

// Store manages named cache generations on top of a provider.
// Handles are opened by name and never invalidated in place:
// a deleted generation simply has no entries left.
type Store struct {
	provider CacheProvider
	keyer    cachekey.CacheKeyer
	now      func() time.Time
	// generations known to exist, so opening them again skips the provider
	opened sync.Map
}

func NewStore(provider CacheProvider, keyer cachekey.CacheKeyer) *Store {
	return &Store{
		provider: provider,
		keyer:    keyer,
		now:      time.Now,
	}
}

// Open returns a handle to the named generation, creating it if needed.
func (s *Store) Open(ctx context.Context, name string) (*Generation, error) {
	if _, ok := s.opened.Load(name); !ok {
		if err := s.provider.Create(ctx, name); err != nil {
			return nil, fmt.Errorf("open generation %s: %w", name, err)
		}
		s.opened.Store(name, struct{}{})
	}
	return &Generation{name: name, store: s}, nil
}

// Names lists all existing generation names.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	return s.provider.Generations(ctx)
}

// Delete removes the generation. Deleting a missing generation is a no-op.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.opened.Delete(name)
	return s.provider.Delete(ctx, name)
}

// Keys returns the keys stored in the generation.
func (s *Store) Keys(ctx context.Context, name string) ([]string, error) {
	keys := make([]string, 0)
	err := s.provider.Keys(ctx, name, func(key string) {
		keys = append(keys, key)
	})
	return keys, err
}

// Generation is a handle to one named generation.
type Generation struct {
	name  string
	store *Store
}

func (g *Generation) Name() string {
	return g.name
}

// Match returns the stored response for the request, if any.
// Each call returns a fresh response with its own body reader.
func (g *Generation) Match(ctx context.Context, r *http.Request) (*http.Response, bool, error) {
	key := g.store.keyer.GetKey(r)
	bytes, ok, err := g.store.provider.Get(ctx, g.name, key)
	if err != nil || !ok {
		return nil, false, err
	}
	sRes, err := serializer.BytesToStoredResponse(bytes, r)
	if err != nil {
		return nil, false, fmt.Errorf("read stored response %s: %w", key, err)
	}
	return sRes.Response, true, nil
}

// Put stores the response for the request, overwriting any previous entry.
// It does not check the response status, callers only pass responses they want stored.
// The response body is left readable for the caller.
func (g *Generation) Put(ctx context.Context, r *http.Request, res *http.Response) error {
	key := g.store.keyer.GetKey(r)
	bytes, err := serializer.StoredResponseToBytes(res, g.store.now())
	if err != nil {
		return fmt.Errorf("serialize response %s: %w", key, err)
	}
	return g.store.provider.Put(ctx, g.name, key, bytes)
}
