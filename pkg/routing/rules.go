package routing

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/always-cache/offline-cache/cache"
)

type Policy string

const (
	// Bypass passes the request to the network untouched.
	Bypass       Policy = "bypass"
	CacheFirst   Policy = "cache-first"
	NetworkFirst Policy = "network-first"
)

// Decision is the outcome of classifying a request.
// Role is empty for bypassed requests.
type Decision struct {
	Policy Policy
	Role   cache.Role
	// Name of the rule that matched.
	Rule string
}

// Request describes an intercepted request.
type Request struct {
	Method string
	URL    *url.URL
	// CrossOrigin is true if the request targets another origin than the scope.
	CrossOrigin bool
	Accept      string
}

type Rule struct {
	Name   string
	Match  func(Request) bool
	Policy Policy
	Role   cache.Role
}

// Rules are evaluated top to bottom, the first matching rule wins.
// Reordering rules changes caching behavior.
type Rules []Rule

// Classify returns the decision of the first matching rule.
// If no rule matches, the request is handled network first with the runtime generation.
func (rules Rules) Classify(req Request) Decision {
	for _, rule := range rules {
		if rule.Match(req) {
			return Decision{Policy: rule.Policy, Role: rule.Role, Rule: rule.Name}
		}
	}
	return Decision{Policy: NetworkFirst, Role: cache.RoleRuntime, Rule: "fallthrough"}
}

type RuleConfig struct {
	BypassPrefixes   []string `yaml:"bypassPrefixes"`
	StaticPrefixes   []string `yaml:"staticPrefixes"`
	StaticExtensions []string `yaml:"staticExtensions"`
	PageMarkers      []string `yaml:"pageMarkers"`
}

func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		BypassPrefixes:   []string{"/upload-cv", "/optimize-cv", "/health", "/api/"},
		StaticPrefixes:   []string{"/static/"},
		StaticExtensions: []string{"css", "js", "png", "jpg", "svg"},
		PageMarkers:      []string{"/result/"},
	}
}

// WithDefaults fills empty lists from the default configuration.
func (c RuleConfig) WithDefaults() RuleConfig {
	d := DefaultRuleConfig()
	if len(c.BypassPrefixes) == 0 {
		c.BypassPrefixes = d.BypassPrefixes
	}
	if len(c.StaticPrefixes) == 0 {
		c.StaticPrefixes = d.StaticPrefixes
	}
	if len(c.StaticExtensions) == 0 {
		c.StaticExtensions = d.StaticExtensions
	}
	if len(c.PageMarkers) == 0 {
		c.PageMarkers = d.PageMarkers
	}
	return c
}

// IsStaticPath reports whether the path is under one of the static asset prefixes.
func (c RuleConfig) IsStaticPath(p string) bool {
	return hasAnyPrefix(p, c.StaticPrefixes)
}

// NewRules builds the rule list in its fixed priority order:
// bypass > cross-origin > static asset > page > default.
func NewRules(c RuleConfig) Rules {
	return Rules{
		{
			Name:   "method",
			Match:  func(r Request) bool { return r.Method != http.MethodGet },
			Policy: Bypass,
		},
		{
			Name:   "bypass-path",
			Match:  func(r Request) bool { return hasAnyPrefix(r.URL.Path, c.BypassPrefixes) },
			Policy: Bypass,
		},
		{
			Name:   "cross-origin",
			Match:  func(r Request) bool { return r.CrossOrigin },
			Policy: CacheFirst,
			Role:   cache.RoleStatic,
		},
		{
			Name: "static-asset",
			Match: func(r Request) bool {
				return c.IsStaticPath(r.URL.Path) || hasAnyExtension(r.URL.Path, c.StaticExtensions)
			},
			Policy: CacheFirst,
			Role:   cache.RoleStatic,
		},
		{
			Name: "page",
			Match: func(r Request) bool {
				return r.URL.Path == "/" ||
					containsAny(r.URL.Path, c.PageMarkers) ||
					strings.Contains(r.Accept, "text/html")
			},
			Policy: NetworkFirst,
			Role:   cache.RoleRuntime,
		},
		{
			Name:   "default",
			Match:  func(r Request) bool { return true },
			Policy: NetworkFirst,
			Role:   cache.RoleRuntime,
		},
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func hasAnyExtension(p string, extensions []string) bool {
	ext := strings.TrimPrefix(path.Ext(p), ".")
	if ext == "" {
		return false
	}
	for _, e := range extensions {
		if strings.EqualFold(ext, strings.TrimPrefix(e, ".")) {
			return true
		}
	}
	return false
}
