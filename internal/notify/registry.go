package notify

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Registry tracks currently-displayed notifications so a later click can be
// matched back to its rendered data. Entries expire after the display TTL;
// an expired notification is simply unroutable.
type Registry struct {
	c *gocache.Cache
}

// NewRegistry creates a registry whose entries live for ttl.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Registry{c: gocache.New(ttl, 10*time.Minute)}
}

func (r *Registry) Add(n Rendered) {
	r.c.Set(n.ID, n, gocache.DefaultExpiration)
}

func (r *Registry) Get(id string) (Rendered, bool) {
	v, ok := r.c.Get(id)
	if !ok {
		return Rendered{}, false
	}
	n, ok := v.(Rendered)
	return n, ok
}

func (r *Registry) Remove(id string) {
	r.c.Delete(id)
}

// FindByTag returns the displayed notification carrying the given dedup
// tag, if any.
func (r *Registry) FindByTag(tag string) (Rendered, bool) {
	for _, item := range r.c.Items() {
		if n, ok := item.Object.(Rendered); ok && n.Tag == tag {
			return n, true
		}
	}
	return Rendered{}, false
}

// Len returns the number of displayed notifications, for the status
// endpoint.
func (r *Registry) Len() int {
	return r.c.ItemCount()
}
