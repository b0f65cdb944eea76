package strategy

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/sslocal/internal/availability"
	"github.com/die-net/sslocal/internal/upstream"
)

// Records older than the hour-of-day window leave servers uncovered, so the
// high availability fallback must keep receiving telemetry.
func TestStatisticsExpiredRecordsForwardToFallback(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	list := upstream.NewList([]*upstream.Server{srvA, srvB})

	store := &availability.FileStore{Path: filepath.Join(t.TempDir(), "statistics.json")}
	old := clk.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Save(availability.Statistics{
		srvA.Identifier(): {{Timestamp: old, ServerIdentifier: srvA.Identifier(), AverageLatency: intp(20)}},
		srvB.Identifier(): {{Timestamp: old, ServerIdentifier: srvB.Identifier(), AverageLatency: intp(30)}},
	}))

	cfg := availability.DefaultConfig()
	cfg.Enabled = true
	mon := availability.New(cfg, availability.Options{Servers: list, Store: store, Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = mon.Run(ctx) }()

	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		return len(mon.Raw()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	snap := mon.Snapshot()
	require.NotNil(t, snap)
	assert.Empty(t, snap, "stale servers are not part of the filtered view")

	ha := NewHighAvailability(list, clk, slog.Default())
	s := NewStatistics(list, mon, ha, StatisticsSettings{
		Weights:    map[availability.Field]float64{availability.FieldAverageLatency: -1},
		ChoiceKept: 10 * time.Minute,
	}, clk, slog.Default())

	first := s.SelectServer(CallerTCP, nil)
	require.NotNil(t, first)
	for range 5 {
		s.ReportFailure(first)
	}
	next := s.SelectServer(CallerTCP, nil)
	require.NotNil(t, next)
	assert.NotEqual(t, first.Identifier(), next.Identifier(), "fallback moved away from the failing server")
}
