package otel

import (
	"context"
	"sync"
	"testing"

	goTrust "github.com/MrEthical07/goTrust"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	counters map[goTrust.MetricID]uint64
	latency  []uint64
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() goTrust.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goTrust.MetricsSnapshot{
		Counters:   make(map[goTrust.MetricID]uint64, len(f.counters)),
		Histograms: map[goTrust.MetricID][]uint64{},
	}
	for k, v := range f.counters {
		out.Counters[k] = v
	}
	out.Histograms[goTrust.MetricValidateLatency] = append([]uint64(nil), f.latency...)
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader(t *testing.T, src metricsSource) (*sdkmetric.ManualReader, *Exporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("gotrust-test")
	exp, err := NewFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewFromSource: %v", err)
	}
	t.Cleanup(func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
	return reader, exp
}

func sumValue(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			}
		}
	}
	return 0, false
}

func TestExporterObservesSnapshot(t *testing.T) {
	src := &fakeSource{
		counters: map[goTrust.MetricID]uint64{goTrust.MetricSessionCreated: 3},
		latency:  []uint64{1, 1, 1, 1, 1, 1, 1, 1},
		dropped:  1,
	}
	reader, _ := newReader(t, src)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	cases := map[string]int64{
		"gotrust_session_created_total":                    3,
		"gotrust_session_terminated_total":                 0,
		"gotrust_audit_dropped_total":                      1,
		"gotrust_validate_latency_seconds_bucket_le_0_005": 1,
		"gotrust_validate_latency_seconds_bucket_le_inf":   8,
		"gotrust_validate_latency_seconds_count":           8,
	}
	for name, want := range cases {
		got, ok := sumValue(rm, name)
		if !ok {
			t.Fatalf("metric %s not collected", name)
		}
		if got != want {
			t.Fatalf("metric %s: expected %d, got %d", name, want, got)
		}
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	meter := sdkmetric.NewMeterProvider().Meter("gotrust-test")
	if _, err := NewFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := New(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	src := &fakeSource{counters: map[goTrust.MetricID]uint64{}}
	reader, _ := newReader(t, src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[goTrust.MetricSessionValidated] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
