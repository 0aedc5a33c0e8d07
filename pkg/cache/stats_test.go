package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsCollector_Counters(t *testing.T) {
	tests := []struct {
		name   string
		record func(c *StatsCollector)
		want   Stats
	}{
		{
			name:   "hits",
			record: func(c *StatsCollector) { c.RecordHit(); c.RecordHit() },
			want:   Stats{Hits: 2},
		},
		{
			name:   "misses",
			record: func(c *StatsCollector) { c.RecordMiss() },
			want:   Stats{Misses: 1},
		},
		{
			name:   "evictions",
			record: func(c *StatsCollector) { c.RecordEviction(); c.RecordEviction(); c.RecordEviction() },
			want:   Stats{Evictions: 3},
		},
		{
			name:   "loads count failures separately",
			record: func(c *StatsCollector) { c.RecordLoad(nil); c.RecordLoad(assert.AnError) },
			want:   Stats{Loads: 2, LoadErrors: 1},
		},
		{
			name:   "size keeps the last value",
			record: func(c *StatsCollector) { c.UpdateSize(4); c.UpdateSize(7) },
			want:   Stats{Size: 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewStatsCollector()
			tt.record(c)
			got := c.GetStats()
			got.LastUpdated = time.Time{}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatsCollector_HitRate(t *testing.T) {
	c := NewStatsCollector()
	assert.Zero(t, c.HitRate())

	c.RecordHit()
	c.RecordHit()
	c.RecordHit()
	c.RecordMiss()
	assert.InDelta(t, 0.75, c.HitRate(), 1e-9)
}

func TestStatsCollector_ConcurrentLookups(t *testing.T) {
	c := NewStatsCollector()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				c.RecordHit()
			} else {
				c.RecordMiss()
			}
		}(i)
	}
	wg.Wait()

	stats := c.GetStats()
	assert.Equal(t, uint64(8), stats.Hits)
	assert.Equal(t, uint64(8), stats.Misses)
}

func TestStatsCollector_LastUpdatedAdvances(t *testing.T) {
	c := NewStatsCollector()
	before := c.GetStats().LastUpdated

	time.Sleep(5 * time.Millisecond)
	c.RecordMiss()

	assert.True(t, c.GetStats().LastUpdated.After(before))
}
