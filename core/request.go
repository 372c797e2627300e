package core

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/always-cache/offline-cache/pkg/routing"
)

// IsCrossOrigin reports whether the request targets another origin than the scope.
// Cross-origin requests arrive in absolute-form, like requests to a forward proxy.
func IsCrossOrigin(r *http.Request, scope *url.URL) bool {
	if !r.URL.IsAbs() {
		return false
	}
	return !strings.EqualFold(r.URL.Scheme, scope.Scheme) || !strings.EqualFold(r.URL.Host, scope.Host)
}

// IsNavigation reports whether the request loads a full page.
// Browsers mark navigations with Sec-Fetch-Mode. For clients not sending fetch
// metadata, a GET accepting HTML counts as a navigation.
func IsNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

// Describe builds the descriptor used for routing decisions.
func Describe(r *http.Request, scope *url.URL) routing.Request {
	return routing.Request{
		Method:      r.Method,
		URL:         r.URL,
		CrossOrigin: IsCrossOrigin(r, scope),
		Accept:      r.Header.Get("Accept"),
	}
}
