// Package intercept implements the fetch-interception policy: cache-first
// for same-origin requests against the current shell namespace, network
// fallthrough with opportunistic caching, and offline degradation to the
// cached shell entry point.
package intercept

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/hhsbooking/shellworker/internal/cachestore"
	"github.com/hhsbooking/shellworker/internal/metrics"
)

// shellEntryPoint is the cached document served when a same-origin fetch
// fails with no cached entry of its own.
const shellEntryPoint = "/index.html"

// Source records how a response was produced.
type Source string

const (
	SourceCache       Source = "cache"
	SourceNetwork     Source = "network"
	SourceFallback    Source = "offline-fallback"
	SourcePassthrough Source = "passthrough"
)

// Result is the response handed back to the HTTP surface.
type Result struct {
	Entry  cachestore.Entry
	Source Source
}

// Extender registers asynchronous sub-work with the in-flight event's
// completion scope. Satisfied by *worker.Event.
type Extender interface {
	WaitUntil(fn func() error)
}

// Interceptor applies the fetch policy for one current cache namespace.
type Interceptor struct {
	ns      cachestore.Namespace
	client  *http.Client
	origin  *url.URL
	timeout time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
}

type Options struct {
	Namespace    cachestore.Namespace
	Client       *http.Client
	Origin       string
	FetchTimeout time.Duration
	Metrics      *metrics.Metrics
	Log          *zap.Logger
}

func New(opts Options) (*Interceptor, error) {
	origin, err := url.Parse(opts.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("origin %q is not an absolute URL", opts.Origin)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Interceptor{
		ns:      opts.Namespace,
		client:  client,
		origin:  origin,
		timeout: opts.FetchTimeout,
		metrics: m,
		log:     log,
	}, nil
}

// Intercept applies the policy to one request. Caching never blocks the
// returned result: the store write is registered on ext and joined at the
// event boundary.
func (i *Interceptor) Intercept(ctx context.Context, req *http.Request, ext Extender) (Result, error) {
	target := i.resolveTarget(req)

	if !i.sameOrigin(target) {
		// Cross-origin: never cached, never rewritten.
		i.metrics.Passthroughs.Inc()
		ent, _, err := i.fetch(ctx, req, target)
		if err != nil {
			return Result{}, err
		}
		return Result{Entry: ent, Source: SourcePassthrough}, nil
	}

	identity := cachestore.Identity(req.Method, target.String())
	if ent, ok := i.ns.Match(identity); ok {
		i.metrics.CacheHits.Inc()
		return Result{Entry: ent, Source: SourceCache}, nil
	}
	i.metrics.CacheMisses.Inc()

	ent, basic, err := i.fetch(ctx, req, target)
	if err != nil {
		return i.offlineFallback(identity, err)
	}

	if ent.Status == http.StatusOK && basic && req.Method == http.MethodGet {
		snapshot := cloneEntry(ent)
		ext.WaitUntil(func() error {
			if err := i.ns.Put(identity, snapshot); err != nil {
				return fmt.Errorf("cache %s: %w", identity, err)
			}
			i.metrics.CacheWrites.Inc()
			return nil
		})
	}
	return Result{Entry: ent, Source: SourceNetwork}, nil
}

// resolveTarget maps an inbound request to the absolute URL it addresses.
// Proxy-form requests carry an absolute URL already; origin-form requests
// are resolved against the configured application origin.
func (i *Interceptor) resolveTarget(req *http.Request) *url.URL {
	if req.URL.IsAbs() {
		return req.URL
	}
	target := *req.URL
	target.Scheme = i.origin.Scheme
	target.Host = i.origin.Host
	return &target
}

func (i *Interceptor) sameOrigin(u *url.URL) bool {
	return u.Scheme == i.origin.Scheme && u.Host == i.origin.Host
}

// fetch performs the network roundtrip with a clone of the original
// request: the inbound body is read once and replayed, so the original
// stream is never consumed twice. The second return reports whether the
// response is "basic": its final URL, after redirects, is still on the
// application origin.
func (i *Interceptor) fetch(ctx context.Context, req *http.Request, target *url.URL) (cachestore.Entry, bool, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return cachestore.Entry{}, false, fmt.Errorf("read request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return cachestore.Entry{}, false, err
	}
	copyHeaders(out.Header, req.Header)

	resp, err := i.client.Do(out)
	if err != nil {
		return cachestore.Entry{}, false, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return cachestore.Entry{}, false, err
	}

	ent := cachestore.Entry{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     respBody,
		StoredAt: time.Now().Unix(),
	}
	ent.Header.Del("Content-Length")

	basic := resp.Request != nil && resp.Request.URL != nil && i.sameOrigin(resp.Request.URL)
	return ent, basic, nil
}

// offlineFallback serves the cached shell entry point when the network is
// unreachable; absent that, the original failure propagates.
func (i *Interceptor) offlineFallback(identity string, fetchErr error) (Result, error) {
	fallbackID := cachestore.Identity(http.MethodGet, i.origin.String()+shellEntryPoint)
	if ent, ok := i.ns.Match(fallbackID); ok {
		i.metrics.OfflineFallbacks.Inc()
		i.log.Warn("network fetch failed, serving cached shell",
			zap.String("identity", identity),
			zap.Error(fetchErr))
		return Result{Entry: ent, Source: SourceFallback}, nil
	}
	return Result{}, fmt.Errorf("fetch %s: %w", identity, fetchErr)
}

func cloneEntry(ent cachestore.Entry) cachestore.Entry {
	clone := ent
	clone.Header = ent.Header.Clone()
	clone.Body = append([]byte(nil), ent.Body...)
	return clone
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if k == "Host" {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
