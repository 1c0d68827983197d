package content

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/wsaxqd/home-work2-sub001/internal/metrics"
)

// CachedProvider memoizes question lists per (knowledge point, difficulty).
// Errors are not cached.
type CachedProvider struct {
	inner   Provider
	cache   *expirable.LRU[string, []Question]
	metrics *metrics.Metrics
}

// NewCachedProvider caches up to size entries for ttl.
func NewCachedProvider(inner Provider, size int, ttl time.Duration, m *metrics.Metrics) *CachedProvider {
	return &CachedProvider{
		inner:   inner,
		cache:   expirable.NewLRU[string, []Question](size, nil, ttl),
		metrics: metrics.OrNop(m),
	}
}

func (c *CachedProvider) FetchQuestions(ctx context.Context, knowledgePointID string, difficulty int) ([]Question, error) {
	key := knowledgePointID + "|" + strconv.Itoa(difficulty)
	if qs, ok := c.cache.Get(key); ok {
		c.metrics.QuestionCache.WithLabelValues("hit").Inc()
		return slices.Clone(qs), nil
	}
	c.metrics.QuestionCache.WithLabelValues("miss").Inc()

	qs, err := c.inner.FetchQuestions(ctx, knowledgePointID, difficulty)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, slices.Clone(qs))
	return qs, nil
}

// Purge drops every cached entry.
func (c *CachedProvider) Purge() {
	c.cache.Purge()
}
