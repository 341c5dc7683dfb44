package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCountHitsMissesAndDiscards(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	c := newTestCache(t, FilesystemOptions{Metrics: metrics})
	ctx := context.Background()

	if _, err := c.NewSourceReader(ctx, "cats"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected miss, got %v", err)
	}
	first := mustSourceWriter(t, c, "cats")
	_ = mustSourceWriter(t, c, "cats")
	writeAll(t, first, []byte("source"))
	result, err := c.NewSourceReader(ctx, "cats")
	if err != nil {
		t.Fatalf("expected hit, got %v", err)
	}
	_ = result.Reader.Close()

	labels := []string{BackendFilesystem, string(AreaSource)}
	if got := testutil.ToFloat64(metrics.misses.WithLabelValues(labels...)); got != 1 {
		t.Fatalf("expected 1 miss, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.hits.WithLabelValues(labels...)); got != 1 {
		t.Fatalf("expected 1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.writes.WithLabelValues(labels...)); got != 1 {
		t.Fatalf("expected 1 write, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.discarded.WithLabelValues(labels...)); got != 1 {
		t.Fatalf("expected 1 discarded writer, got %v", got)
	}

	if err := c.Purge(ctx, "cats"); err != nil {
		t.Fatalf("purge error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.purged.WithLabelValues(labels...)); got != 1 {
		t.Fatalf("expected 1 purged file, got %v", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.hit("filesystem", AreaInfo)
	m.purge("filesystem", AreaInfo, 3)
	m.sweep("filesystem", 2)
}
