package cache

import (
	"context"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
)

// Set OFFLINE_CACHE_TEST_REDIS to a redis address (e.g. localhost:6379) to run.
func TestRedisCache(t *testing.T) {
	addr := os.Getenv("OFFLINE_CACHE_TEST_REDIS")
	if addr == "" {
		t.Skip("OFFLINE_CACHE_TEST_REDIS not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	provider := NewRedisCache(client, "offline-cache-test:")
	store := testStore(provider)
	t.Cleanup(func() {
		names, _ := store.Names(ctx)
		for _, name := range names {
			store.Delete(ctx, name)
		}
	})

	gen, err := store.Open(ctx, "cv-optimizer-static-v1")
	if err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest("GET", "/static/css/custom.css", nil)
	if err := gen.Put(ctx, req, okResponse("body{}")); err != nil {
		t.Fatal(err)
	}
	cached, ok, err := gen.Match(ctx, req)
	if !ok || err != nil {
		t.Fatalf("Expected hit, got ok=%v err=%v", ok, err)
	}
	if body, _ := io.ReadAll(cached.Body); string(body) != "body{}" {
		t.Fatalf("Body is %s", body)
	}
	keys, err := store.Keys(ctx, "cv-optimizer-static-v1")
	if err != nil || len(keys) != 1 {
		t.Fatalf("Keys are %v (%v)", keys, err)
	}
	if err := store.Delete(ctx, "cv-optimizer-static-v1"); err != nil {
		t.Fatal(err)
	}
	if names, _ := store.Names(ctx); len(names) != 0 {
		t.Fatalf("Names are %v", names)
	}
}
