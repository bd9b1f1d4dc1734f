package observe

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumByAttr returns the int64 sum data point whose attribute key has value.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordDrop_ByReason(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDrop(ctx, ReasonQueueFull)
	m.RecordDrop(ctx, ReasonQueueFull)
	m.RecordDrop(ctx, ReasonNoPeer)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "micstream.frames.dropped", "reason", ReasonQueueFull); got != 2 {
		t.Errorf("queue_full drops = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "micstream.frames.dropped", "reason", ReasonNoPeer); got != 1 {
		t.Errorf("no_peer drops = %d, want 1", got)
	}
}

func TestRecordSend(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSend(ctx, 512, 0.0004)
	m.RecordSend(ctx, 512, 0.002)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "micstream.frames.sent", "", ""); got != 2 {
		t.Errorf("frames sent = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "micstream.bytes.sent", "", ""); got != 1024 {
		t.Errorf("bytes sent = %d, want 1024", got)
	}

	met := findMetric(rm, "micstream.send.duration")
	if met == nil {
		t.Fatal("send duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("send duration is not a histogram")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestObserveGauges(t *testing.T) {
	m, reader := newTestMetrics(t)

	reg, err := m.ObserveGauges(func() Gauges {
		return Gauges{QueueDepth: 3, PoolInUse: 5}
	})
	if err != nil {
		t.Fatalf("ObserveGauges: %v", err)
	}
	defer reg.Unregister()

	rm := collect(t, reader)
	tests := map[string]int64{
		"micstream.queue.depth":  3,
		"micstream.pool.in_use": 5,
	}
	for name, want := range tests {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		g, ok := met.Data.(metricdata.Gauge[int64])
		if !ok || len(g.DataPoints) != 1 {
			t.Fatalf("metric %q is not a single-point gauge", name)
		}
		if g.DataPoints[0].Value != want {
			t.Errorf("%s = %d, want %d", name, g.DataPoints[0].Value, want)
		}
	}
}

func TestMiddleware_RecordsRoutePath(t *testing.T) {
	m, reader := newTestMetrics(t)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(Middleware(m, nil))
	app.Get("/api/stats", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/stats", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	rm := collect(t, reader)
	met := findMetric(rm, "micstream.http.request.duration")
	if met == nil {
		t.Fatal("http duration metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	found := false
	for _, dp := range hist.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "path" && kv.Value.AsString() == "/api/stats" {
				found = true
			}
		}
	}
	if !found {
		t.Error("no data point for path=/api/stats")
	}
}
