package explain

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cached memoizes explanations of identical verdicts.
type Cached struct {
	next  Explainer
	cache *gocache.Cache
}

// NewCached wraps next with an in-memory TTL cache. A non-positive ttl
// never expires entries.
func NewCached(next Explainer, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &Cached{
		next:  next,
		cache: gocache.New(ttl, 10*time.Minute),
	}
}

// Explain implements Explainer.
func (c *Cached) Explain(ctx context.Context, req Request) (*Explanation, error) {
	key := cacheKey(req)
	if val, found := c.cache.Get(key); found {
		exp := *val.(*Explanation)
		return &exp, nil
	}

	exp, err := c.next.Explain(ctx, req)
	if err != nil {
		return nil, err
	}
	stored := *exp
	c.cache.SetDefault(key, &stored)
	return exp, nil
}

// Len returns the number of cached explanations.
func (c *Cached) Len() int {
	return c.cache.ItemCount()
}

func cacheKey(req Request) string {
	v := req.Verdict
	return strings.Join([]string{
		v.Drug, v.Gene, v.Diplotype, v.Phenotype, string(v.Label), string(v.Severity),
		v.Completeness.String(), strings.Join(req.RsIDs, ","),
	}, "|")
}
