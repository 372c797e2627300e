package cachekey

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrMalformedKey = errors.New("malformed cache key")

const methodSeparator = ":"

type CacheKeyer struct {
	// Scope is the origin that relative request URLs are resolved against.
	// Usually this is the origin the proxy is serving.
	Scope *url.URL
}

func NewCacheKeyer(scope *url.URL) CacheKeyer {
	return CacheKeyer{Scope: scope}
}

// AbsoluteURL returns the full URL of the request.
// Requests in origin-form (just a path) are resolved against the scope,
// requests in absolute-form (forward proxy requests) are returned as-is.
func (c CacheKeyer) AbsoluteURL(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		u := *r.URL
		u.Fragment = ""
		return &u
	}
	u := *c.Scope
	u.Path = r.URL.Path
	u.RawPath = r.URL.RawPath
	u.RawQuery = r.URL.RawQuery
	u.Fragment = ""
	return &u
}

// GetKey returns the cache key for a request.
// It depends on the method and the full URL, including the query.
func (c CacheKeyer) GetKey(r *http.Request) string {
	return r.Method + methodSeparator + c.AbsoluteURL(r).String()
}

// GetRequestFromKey generates a request that maps to the given key.
// It returns an error if the key cannot be parsed.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found || method == "" || uri == "" {
		return nil, fmt.Errorf("%w: %s", ErrMalformedKey, key)
	}
	return http.NewRequest(method, uri, nil)
}
