package providers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLister struct {
	mu     sync.Mutex
	calls  int
	models []string
	err    error
}

func (l *countingLister) ListEnabledModels(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.models, nil
}

func TestCachedLister_ReusesListingWithinTTL(t *testing.T) {
	inner := &countingLister{models: []string{"gemini/a", "gemini/b"}}
	cache := NewCachedLister(inner, time.Minute)

	now := time.Now()
	cache.now = func() time.Time { return now }

	first, err := cache.ListEnabledModels(context.Background())
	require.NoError(t, err)
	second, err := cache.ListEnabledModels(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)

	stats := cache.Stats()
	assert.True(t, stats.Cached)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate)

	// Expired
	now = now.Add(2 * time.Minute)
	_, err = cache.ListEnabledModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedLister_FailuresAreNotCached(t *testing.T) {
	inner := &countingLister{err: errors.New("listing down")}
	cache := NewCachedLister(inner, time.Minute)

	_, err := cache.ListEnabledModels(context.Background())
	assert.Error(t, err)

	inner.err = nil
	inner.models = []string{"gemini/a"}

	models, err := cache.ListEnabledModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini/a"}, models)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedLister_ReturnsCopies(t *testing.T) {
	inner := &countingLister{models: []string{"gemini/a"}}
	cache := NewCachedLister(inner, time.Minute)

	models, err := cache.ListEnabledModels(context.Background())
	require.NoError(t, err)
	models[0] = "mutated"

	again, err := cache.ListEnabledModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini/a"}, again)
}
