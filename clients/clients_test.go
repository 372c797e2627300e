package clients

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(scs.New(), zerolog.Nop())
}

// visit sends a request through the middleware and returns the client ID and the session cookies.
func visit(t *testing.T, r *Registry, req *http.Request) (string, []*http.Cookie) {
	var id string
	rr := httptest.NewRecorder()
	r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id = r.ID(req)
	})).ServeHTTP(rr, req)
	require.NotEmpty(t, id)
	return id, rr.Result().Cookies()
}

func TestMiddlewareAssignsStableClientID(t *testing.T) {
	r := newTestRegistry()

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	id, cookies := visit(t, r, req)
	require.NotEmpty(t, cookies)

	req = httptest.NewRequest("GET", "/result/1", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	again, _ := visit(t, r, req)
	assert.Equal(t, id, again)

	all := r.MatchAll()
	require.Len(t, all, 1)
	assert.Equal(t, "/result/1", all[0].URL)
}

func TestSubresourceDoesNotChangeURL(t *testing.T) {
	r := newTestRegistry()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept", "text/html")
	_, cookies := visit(t, r, req)

	req = httptest.NewRequest("GET", "/static/js/main.js", nil)
	req.Header.Set("Sec-Fetch-Mode", "no-cors")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	visit(t, r, req)

	assert.Equal(t, "/", r.MatchAll()[0].URL)
}

func TestClaimAndInstructions(t *testing.T) {
	r := newTestRegistry()
	r.touch("a", "/")
	r.touch("b", "/result/1")

	assert.Equal(t, 2, r.Claim("v2"))
	for _, c := range r.MatchAll() {
		assert.Equal(t, "v2", c.Version)
	}

	require.NoError(t, r.Focus("a"))
	r.OpenWindow("/")

	assert.Equal(t, []Instruction{
		{Type: InstructionClaim, Version: "v2"},
		{Type: InstructionFocus, URL: "/"},
		{Type: InstructionOpenWindow, URL: "/"},
	}, r.Instructions("a"))
	assert.Empty(t, r.Instructions("a"))
	assert.Equal(t, []Instruction{{Type: InstructionClaim, Version: "v2"}}, r.Instructions("b"))
}

func TestFocusUnknownClient(t *testing.T) {
	assert.ErrorIs(t, newTestRegistry().Focus("missing"), ErrUnknownClient)
}

func TestSubresourceWithoutSessionIsNotRegistered(t *testing.T) {
	r := newTestRegistry()
	handler := r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
	for i := 0; i < 5000; i++ {
		req := httptest.NewRequest("GET", "/static/js/main.js", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Empty(t, r.MatchAll())
	assert.Equal(t, 0, r.Claim("v2"))
}

func TestIdleClientsAreEvicted(t *testing.T) {
	r := newTestRegistry()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.touch("old", "/")
	now = now.Add(r.ttl / 2)
	r.touch("recent", "/result/1")
	now = now.Add(r.ttl/2 + time.Minute)

	all := r.MatchAll()
	require.Len(t, all, 1)
	assert.Equal(t, "recent", all[0].ID)
	assert.ErrorIs(t, r.Focus("old"), ErrUnknownClient)
}

func TestSubresourceKeepsClientAlive(t *testing.T) {
	r := newTestRegistry()
	now := time.Now()
	r.now = func() time.Time { return now }

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	id, cookies := visit(t, r, req)

	now = now.Add(r.ttl - time.Minute)
	req = httptest.NewRequest("GET", "/static/css/custom.css", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	visit(t, r, req)

	now = now.Add(2 * time.Minute)
	all := r.MatchAll()
	require.Len(t, all, 1)
	assert.Equal(t, id, all[0].ID)
}

func TestPendingInstructionsAreCapped(t *testing.T) {
	r := newTestRegistry()
	r.touch("a", "/")
	for i := 0; i < 3*maxPending; i++ {
		r.Claim(fmt.Sprintf("v%d", i))
	}
	instructions := r.Instructions("a")
	require.Len(t, instructions, maxPending)
	assert.Equal(t, fmt.Sprintf("v%d", 3*maxPending-1), instructions[maxPending-1].Version)
	assert.Equal(t, fmt.Sprintf("v%d", 2*maxPending), instructions[0].Version)
}
