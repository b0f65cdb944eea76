package availability

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestSinceKeepsLastHour(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stats := Statistics{
		"a:1": {
			{Timestamp: now.Add(-3601 * time.Second), ServerIdentifier: "a:1"},
			{Timestamp: now.Add(-3600 * time.Second), ServerIdentifier: "a:1"},
			{Timestamp: now.Add(-3599 * time.Second), ServerIdentifier: "a:1"},
		},
		"b:2": {
			{Timestamp: now.Add(-2 * time.Hour), ServerIdentifier: "b:2"},
		},
	}

	got := stats.Since(now.Add(-filterWindow))
	assert.Len(t, got["a:1"], 2)
	assert.NotContains(t, got, "b:2", "servers without recent records are not covered")
	assert.Len(t, stats["a:1"], 3, "source must be untouched")
}

func TestAppendCopiesOnWrite(t *testing.T) {
	base := Statistics{}.Append([]Record{{ServerIdentifier: "a:1", AverageLatency: intp(1)}})
	next := base.Append([]Record{{ServerIdentifier: "a:1", AverageLatency: intp(2)}, {ServerIdentifier: "b:2"}})
	other := base.Append([]Record{{ServerIdentifier: "a:1", AverageLatency: intp(3)}})

	require.Len(t, base["a:1"], 1)
	require.Len(t, next["a:1"], 2)
	require.Len(t, other["a:1"], 2)
	assert.Equal(t, 2, *next["a:1"][1].AverageLatency)
	assert.Equal(t, 3, *other["a:1"][1].AverageLatency)
	assert.NotContains(t, base, "b:2")
}

func TestRetain(t *testing.T) {
	stats := Statistics{"a:1": nil, "b:2": nil}
	got := stats.Retain(map[string]struct{}{"b:2": {}, "c:3": {}})
	assert.Len(t, got, 1)
	assert.Contains(t, got, "b:2")
}

func TestMeans(t *testing.T) {
	recs := []Record{
		{AverageLatency: intp(10), AverageInboundSpeed: intp(100)},
		{AverageLatency: intp(30)},
	}
	m := Means(recs)
	assert.InDelta(t, 20.0, m[FieldAverageLatency], 1e-9)
	assert.InDelta(t, 100.0, m[FieldAverageInboundSpeed], 1e-9)
	assert.NotContains(t, m, FieldMaxLatency)
}

func TestInOutBoundRecordFetchAndReset(t *testing.T) {
	var r InOutBoundRecord

	var (
		wg             sync.WaitGroup
		mu             sync.Mutex
		totalIn, total int64
	)
	for range 8 {
		wg.Go(func() {
			for range 1000 {
				r.AddInbound(3)
				r.AddOutbound(1)
			}
		})
	}
	wg.Go(func() {
		for range 100 {
			in, out := r.FetchAndReset()
			mu.Lock()
			totalIn += in
			total += out
			mu.Unlock()
		}
	})
	wg.Wait()

	in, out := r.FetchAndReset()
	totalIn += in
	total += out
	assert.Equal(t, int64(8*1000*3), totalIn)
	assert.Equal(t, int64(8*1000), total)

	in, out = r.FetchAndReset()
	assert.Zero(t, in)
	assert.Zero(t, out)
}
