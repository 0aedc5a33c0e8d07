package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

func schemaFor(alias string, version int) *models.DatabaseSchema {
	return &models.DatabaseSchema{
		Alias:  alias,
		Kind:   models.KindDuckDB,
		Tables: []models.TableSchema{{Name: fmt.Sprintf("main.t%d", version)}},
	}
}

func newTestCache(t *testing.T, config *Config, loader SchemaLoader) *SchemaCache {
	t.Helper()
	return NewSchemaCache(config, loader, zerolog.New(zerolog.NewTestWriter(t)))
}

func TestSchemaCache_HitAfterMiss(t *testing.T) {
	var calls atomic.Int32
	c := newTestCache(t, nil, func(ctx context.Context, alias string) (*models.DatabaseSchema, error) {
		calls.Add(1)
		return schemaFor(alias, 1), nil
	})

	first, err := c.Get(context.Background(), "sales")
	require.NoError(t, err)
	second, err := c.Get(context.Background(), "sales")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Size)
}

func TestSchemaCache_SingleFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := newTestCache(t, nil, func(ctx context.Context, alias string) (*models.DatabaseSchema, error) {
		calls.Add(1)
		<-release
		return schemaFor(alias, 1), nil
	})

	const callers = 20
	var wg sync.WaitGroup
	results := make([]*models.DatabaseSchema, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := c.Get(context.Background(), "sales")
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}

	// Let every caller reach the in-flight computation before it finishes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, s := range results {
		assert.Same(t, results[0], s)
	}
}

func TestSchemaCache_AliasesAreIndependent(t *testing.T) {
	slowStarted := make(chan struct{})
	release := make(chan struct{})
	c := newTestCache(t, nil, func(ctx context.Context, alias string) (*models.DatabaseSchema, error) {
		if alias == "slow" {
			close(slowStarted)
			<-release
		}
		return schemaFor(alias, 1), nil
	})
	defer close(release)

	go func() { _, _ = c.Get(context.Background(), "slow") }()
	<-slowStarted

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := c.Get(ctx, "fast")
	require.NoError(t, err)
	assert.Equal(t, "fast", s.Alias)
}

func TestSchemaCache_InvalidateDuringLoad(t *testing.T) {
	var version atomic.Int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	c := newTestCache(t, nil, func(ctx context.Context, alias string) (*models.DatabaseSchema, error) {
		v := int(version.Add(1))
		started <- struct{}{}
		if v == 1 {
			<-release
		}
		return schemaFor(alias, v), nil
	})

	staleDone := make(chan *models.DatabaseSchema)
	go func() {
		s, err := c.Get(context.Background(), "sales")
		assert.NoError(t, err)
		staleDone <- s
	}()
	<-started

	c.Invalidate("sales")

	fresh, err := c.Get(context.Background(), "sales")
	require.NoError(t, err)
	assert.Equal(t, "main.t2", fresh.Tables[0].Name)

	close(release)
	stale := <-staleDone
	assert.Equal(t, "main.t1", stale.Tables[0].Name, "the in-flight caller still gets its result")

	entry, ok := c.Peek("sales")
	require.True(t, ok)
	assert.Equal(t, "main.t2", entry.Schema.Tables[0].Name, "the stale result must not overwrite the fresh one")
}

func TestSchemaCache_InvalidateForcesReload(t *testing.T) {
	var calls atomic.Int32
	c := newTestCache(t, nil, func(ctx context.Context, alias string) (*models.DatabaseSchema, error) {
		return schemaFor(alias, int(calls.Add(1))), nil
	})

	_, err := c.Get(context.Background(), "sales")
	require.NoError(t, err)
	c.Invalidate("sales")
	_, ok := c.Peek("sales")
	assert.False(t, ok)

	s, err := c.Get(context.Background(), "sales")
	require.NoError(t, err)
	assert.Equal(t, "main.t2", s.Tables[0].Name)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSchemaCache_ErrorsAreNotCached(t *testing.T) {
	var calls atomic.Int32
	c := newTestCache(t, nil, func(ctx context.Context, alias string) (*models.DatabaseSchema, error) {
		if calls.Add(1) == 1 {
			return nil, errors.IntrospectionError(alias, "", assert.AnError)
		}
		return schemaFor(alias, 1), nil
	})

	_, err := c.Get(context.Background(), "sales")
	require.Error(t, err)
	assert.Equal(t, errors.CodeIntrospectionFailed, errors.GetCode(err))
	assert.Equal(t, 0, c.Len())

	_, err = c.Get(context.Background(), "sales")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, uint64(1), c.Stats().LoadErrors)
}

func TestSchemaCache_TTL(t *testing.T) {
	var calls atomic.Int32
	c := newTestCache(t, DefaultConfig().WithTTL(30*time.Millisecond), func(ctx context.Context, alias string) (*models.DatabaseSchema, error) {
		calls.Add(1)
		return schemaFor(alias, 1), nil
	})

	_, err := c.Get(context.Background(), "sales")
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)
	_, err = c.Get(context.Background(), "sales")
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
}

func TestSchemaCache_CapacityEviction(t *testing.T) {
	c := newTestCache(t, DefaultConfig().WithMaxEntries(2), func(ctx context.Context, alias string) (*models.DatabaseSchema, error) {
		return schemaFor(alias, 1), nil
	})

	for _, alias := range []string{"a", "b", "c"} {
		_, err := c.Get(context.Background(), alias)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, c.Len())
	_, ok := c.Peek("a")
	assert.False(t, ok, "least recently used entry is evicted")
	assert.GreaterOrEqual(t, c.Stats().Evictions, uint64(1))
}

func TestSchemaCache_CallerCancellationDoesNotAbortLoad(t *testing.T) {
	release := make(chan struct{})
	var loadErr atomic.Value
	c := newTestCache(t, nil, func(ctx context.Context, alias string) (*models.DatabaseSchema, error) {
		<-release
		if err := ctx.Err(); err != nil {
			loadErr.Store(err)
		}
		return schemaFor(alias, 1), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		_, err := c.Get(ctx, "sales")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	err := <-done
	assert.Equal(t, errors.CodeCanceled, errors.GetCode(err))

	close(release)
	require.Eventually(t, func() bool {
		_, ok := c.Peek("sales")
		return ok
	}, time.Second, 10*time.Millisecond)
	assert.Nil(t, loadErr.Load(), "the detached load must not see the caller's cancellation")
}
