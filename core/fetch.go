package core

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	tee "github.com/always-cache/offline-cache/pkg/response-writer-tee"

	"github.com/rs/zerolog"
)

// Fetcher performs network requests on behalf of the cache.
// A returned error means the network could not be reached at all;
// any HTTP status, including errors, is a successful fetch.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (*http.Response, error)
}

// HTTPFetcher fetches same-origin requests from the origin server
// and cross-origin requests from wherever they point to.
type HTTPFetcher struct {
	scope      *url.URL
	originHost string
	client     http.Client
	log        zerolog.Logger
}

// NewHTTPFetcher creates a fetcher for the given origin.
// The origin host, if set, is used as Host header and TLS server name,
// e.g. when the origin URL is just an IP address.
func NewHTTPFetcher(scope *url.URL, originHost string, log zerolog.Logger) *HTTPFetcher {
	f := &HTTPFetcher{
		scope:      scope,
		originHost: originHost,
		log:        log,
		client: http.Client{
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	if originHost != "" {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{ServerName: originHost}
		f.client.Transport = transport
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	crossOrigin := IsCrossOrigin(r, f.scope)
	uri := strings.TrimSuffix(f.scope.String(), "/") + r.URL.RequestURI()
	if crossOrigin {
		uri = r.URL.String()
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", uri, err)
	}
	copyHeader(req.Header, r.Header)
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")
	if crossOrigin {
		// cross-origin requests are made without credentials
		req.Header.Del("Cookie")
		req.Header.Del("Authorization")
	} else if f.originHost != "" {
		req.Host = f.originHost
	}
	f.log.Trace().Str("url", uri).Msg("Fetching from network")
	return f.client.Do(req)
}

// HandlerFetcher uses an in-process handler as the network.
// It is used when the cache runs as middleware.
type HandlerFetcher struct {
	next http.Handler
}

func NewHandlerFetcher(next http.Handler) *HandlerFetcher {
	return &HandlerFetcher{next: next}
}

func (f *HandlerFetcher) Fetch(ctx context.Context, r *http.Request) (res *http.Response, err error) {
	req := r.Clone(ctx)
	req.Body = http.NoBody
	rw := tee.NewResponseSaver()
	defer func() {
		if rec := recover(); rec != nil {
			res = nil
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	f.next.ServeHTTP(rw, req)
	return rw.Result(req), nil
}

// NewReverseProxy returns the pass-through handler for bypassed requests.
// Same-origin requests go to the origin, cross-origin requests go to their own host.
func NewReverseProxy(scope *url.URL, originHost string, log zerolog.Logger) *httputil.ReverseProxy {
	hostHeader := scope.Host
	transport := http.DefaultTransport
	if originHost != "" {
		hostHeader = originHost
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{ServerName: originHost}
		transport = t
	}
	return &httputil.ReverseProxy{
		Director:  createDirector(scope, hostHeader),
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not pass request through")
			http.Error(w, "Error contacting origin", http.StatusBadGateway)
		},
	}
}

func createDirector(scope *url.URL, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		if IsCrossOrigin(req, scope) {
			req.Host = req.URL.Host
			return
		}
		req.URL.Scheme = scope.Scheme
		req.URL.Host = scope.Host
		req.Host = hostHeader
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a warkaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
