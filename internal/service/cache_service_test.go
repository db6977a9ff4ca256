package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/krs-api/internal/models"
)

func TestReadThroughCachesLoadedValue(t *testing.T) {
	store := newMemoryCache()
	metrics := NewMetricsService()
	svc := NewCacheService(store, metrics, time.Minute, nil, true)
	loads := 0
	load := func(context.Context) (*models.Course, error) {
		loads++
		return &models.Course{ID: "crs-1", Code: "MATH201", PrerequisiteCodes: []string{"MATH101"}}, nil
	}

	first, err := readThrough(context.Background(), svc, "krs:course:crs-1", 0, load)
	require.NoError(t, err)
	second, err := readThrough(context.Background(), svc, "krs:course:crs-1", 0, load)
	require.NoError(t, err)

	assert.Equal(t, 1, loads)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"MATH101"}, second.PrerequisiteCodes)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheMisses))
}

func TestReadThroughDoesNotCacheErrors(t *testing.T) {
	store := newMemoryCache()
	svc := NewCacheService(store, nil, time.Minute, nil, true)
	boom := errors.New("boom")

	_, err := readThrough(context.Background(), svc, "krs:course:crs-x", 0, func(context.Context) (*models.Course, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, store.has("krs:course:crs-x"))
}

func TestCacheServiceDisabled(t *testing.T) {
	var nilSvc *CacheService
	assert.False(t, nilSvc.Enabled())

	store := newMemoryCache()
	svc := NewCacheService(store, nil, 0, nil, false)
	require.NoError(t, svc.Set(context.Background(), "k", "v", 0))
	assert.False(t, store.has("k"))

	loads := 0
	for i := 0; i < 2; i++ {
		_, err := readThrough(context.Background(), svc, "k", 0, func(context.Context) (string, error) {
			loads++
			return "v", nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, loads)
}
