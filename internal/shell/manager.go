// Package shell owns the versioned cache namespace lifecycle: install warms
// the shell manifest into the current namespace, activate sweeps every
// stale namespace sharing the application prefix.
package shell

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hhsbooking/shellworker/internal/cachestore"
)

// warmConcurrency bounds parallel manifest fetches during install.
const warmConcurrency = 4

// SkipWaiter is notified when a successful install makes the worker
// eligible to activate immediately.
type SkipWaiter interface {
	SkipWaiting()
}

// Claimer takes control of all attached application windows at the end of
// activation.
type Claimer interface {
	Claim()
}

// Manager owns the single current cache namespace.
type Manager struct {
	store    cachestore.Store
	client   *http.Client
	origin   string
	prefix   string
	version  string
	manifest []string
	timeout  time.Duration
	log      *zap.Logger

	skipWaiter SkipWaiter
	claimer    Claimer
}

// Options configures a Manager. Origin must be an absolute URL without a
// trailing slash; Manifest paths are origin-relative.
type Options struct {
	Store        cachestore.Store
	Client       *http.Client
	Origin       string
	Prefix       string
	Version      string
	Manifest     []string
	FetchTimeout time.Duration
	SkipWaiter   SkipWaiter
	Claimer      Claimer
	Log          *zap.Logger
}

func NewManager(opts Options) *Manager {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:      opts.Store,
		client:     client,
		origin:     strings.TrimRight(opts.Origin, "/"),
		prefix:     opts.Prefix,
		version:    opts.Version,
		manifest:   opts.Manifest,
		timeout:    opts.FetchTimeout,
		log:        log,
		skipWaiter: opts.SkipWaiter,
		claimer:    opts.Claimer,
	}
}

// CacheName returns the current namespace name, "<prefix>-<version>".
func (m *Manager) CacheName() string {
	return m.prefix + "-" + m.version
}

// namespacePrefix is the name prefix shared by every version of this
// application's caches.
func (m *Manager) namespacePrefix() string {
	return m.prefix + "-"
}

// Install opens the current namespace and warms every manifest URL with
// cache-bypass semantics. Atomic at the manifest level: entries are stored
// only after every fetch succeeded, and any failure fails the whole
// operation. On success the worker is asked to skip waiting.
func (m *Manager) Install(ctx context.Context) error {
	ns, err := m.store.Open(m.CacheName())
	if err != nil {
		return fmt.Errorf("open cache %s: %w", m.CacheName(), err)
	}

	m.log.Info("installing shell cache",
		zap.String("cache", m.CacheName()),
		zap.Int("manifest_urls", len(m.manifest)))

	entries := make([]cachestore.Entry, len(m.manifest))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmConcurrency)
	for i, path := range m.manifest {
		g.Go(func() error {
			ent, err := m.fetchBypassingCache(gctx, path)
			if err != nil {
				return fmt.Errorf("warm %s: %w", path, err)
			}
			entries[i] = ent
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.log.Error("shell cache population failed", zap.Error(err))
		return err
	}

	for i, path := range m.manifest {
		id := cachestore.Identity(http.MethodGet, m.origin+path)
		if err := ns.Put(id, entries[i]); err != nil {
			return fmt.Errorf("store %s: %w", path, err)
		}
	}

	if m.skipWaiter != nil {
		m.skipWaiter.SkipWaiting()
	}
	m.log.Info("shell cache populated", zap.String("cache", m.CacheName()))
	return nil
}

// Activate deletes every namespace matching the application prefix except
// the current one, then claims all attached windows. Enumerating zero
// candidates is a no-op; repeating Activate is idempotent.
func (m *Manager) Activate(ctx context.Context) error {
	names, err := m.store.Namespaces()
	if err != nil {
		return fmt.Errorf("enumerate caches: %w", err)
	}
	for _, name := range names {
		if name == m.CacheName() || !strings.HasPrefix(name, m.namespacePrefix()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := m.store.Drop(name); err != nil {
			return fmt.Errorf("delete stale cache %s: %w", name, err)
		}
		m.log.Info("deleted stale cache", zap.String("cache", name))
	}
	if m.claimer != nil {
		m.claimer.Claim()
	}
	return nil
}

// fetchBypassingCache fetches an origin path forcing revalidation against
// the network, ignoring any intermediary HTTP cache.
func (m *Manager) fetchBypassingCache(ctx context.Context, path string) (cachestore.Entry, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.origin+path, nil)
	if err != nil {
		return cachestore.Entry{}, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := m.client.Do(req)
	if err != nil {
		return cachestore.Entry{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return cachestore.Entry{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cachestore.Entry{}, err
	}
	ent := cachestore.Entry{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now().Unix(),
	}
	ent.Header.Del("Content-Length")
	return ent, nil
}
