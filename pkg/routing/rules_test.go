package routing

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/always-cache/offline-cache/cache"
)

func request(method, rawURL string, crossOrigin bool, accept string) Request {
	u, _ := url.Parse(rawURL)
	return Request{Method: method, URL: u, CrossOrigin: crossOrigin, Accept: accept}
}

func TestClassify(t *testing.T) {
	rules := NewRules(DefaultRuleConfig())

	tests := []struct {
		name   string
		req    Request
		policy Policy
		role   cache.Role
		rule   string
	}{
		{"post", request("POST", "/static/js/main.js", false, ""), Bypass, "", "method"},
		{"upload", request("GET", "/upload-cv", false, "text/html"), Bypass, "", "bypass-path"},
		{"optimize", request("GET", "/optimize-cv?x=1", false, ""), Bypass, "", "bypass-path"},
		{"health", request("GET", "/health", false, ""), Bypass, "", "bypass-path"},
		{"api", request("GET", "/api/settings", false, ""), Bypass, "", "bypass-path"},
		{"cross-origin bypass path", request("GET", "https://cdn.example.com/api/x", true, ""), Bypass, "", "bypass-path"},
		{"cross-origin", request("GET", "https://cdn.jsdelivr.net/npm/bootstrap", true, ""), CacheFirst, cache.RoleStatic, "cross-origin"},
		{"cross-origin html", request("GET", "https://fonts.example.com/", true, "text/html"), CacheFirst, cache.RoleStatic, "cross-origin"},
		{"static prefix", request("GET", "/static/fonts/font.woff2", false, ""), CacheFirst, cache.RoleStatic, "static-asset"},
		{"css accepting html", request("GET", "/theme.css", false, "text/html"), CacheFirst, cache.RoleStatic, "static-asset"},
		{"png", request("GET", "/logo.PNG", false, ""), CacheFirst, cache.RoleStatic, "static-asset"},
		{"root", request("GET", "/", false, ""), NetworkFirst, cache.RoleRuntime, "page"},
		{"result page", request("GET", "/result/42", false, ""), NetworkFirst, cache.RoleRuntime, "page"},
		{"html accept", request("GET", "/settings", false, "text/html,application/xhtml+xml"), NetworkFirst, cache.RoleRuntime, "page"},
		{"no accept", request("GET", "/manifest.json", false, ""), NetworkFirst, cache.RoleRuntime, "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := rules.Classify(tt.req)
			assert.Equal(t, tt.policy, d.Policy)
			assert.Equal(t, tt.role, d.Role)
			assert.Equal(t, tt.rule, d.Rule)
		})
	}
}

// The rule order is part of the behavior, make sure it does not change silently.
func TestRuleOrder(t *testing.T) {
	rules := NewRules(DefaultRuleConfig())
	names := make([]string, 0, len(rules))
	for _, rule := range rules {
		names = append(names, rule.Name)
	}
	assert.Equal(t, []string{"method", "bypass-path", "cross-origin", "static-asset", "page", "default"}, names)
}

func TestEmptyRulesFallThrough(t *testing.T) {
	d := Rules{}.Classify(request("GET", "/anything", false, ""))
	assert.Equal(t, NetworkFirst, d.Policy)
	assert.Equal(t, cache.RoleRuntime, d.Role)
}

func TestWithDefaults(t *testing.T) {
	c := RuleConfig{BypassPrefixes: []string{"/private/"}}.WithDefaults()
	assert.Equal(t, []string{"/private/"}, c.BypassPrefixes)
	assert.Equal(t, DefaultRuleConfig().StaticExtensions, c.StaticExtensions)
	assert.True(t, c.IsStaticPath("/static/js/main.js"))
	assert.False(t, c.IsStaticPath("/main.js"))
}
