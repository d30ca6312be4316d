package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestMetrics_PartitionCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.PartitionsCreated.Inc()
	metrics.PartitionsReleased.Inc()
	metrics.BuffersAppended.WithLabelValues("0", "memory").Inc()
	metrics.BuffersAppended.WithLabelValues("0", "disk").Inc()
	metrics.BytesAppended.WithLabelValues("0").Add(4096)
	metrics.BuffersInBacklog.WithLabelValues("0").Set(3)
	metrics.BuffersDropped.WithLabelValues("1").Inc()
}

func TestMetrics_SpillWorkflow(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.SpillsTriggered.Inc()
	metrics.SpilledBuffers.Add(10)
	metrics.SpilledBytes.Add(10 * 32 * 1024)
	metrics.SpillWriteDuration.Observe(0.002)
	metrics.SpillErrors.WithLabelValues("write").Inc()

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metricFamilies {
		if *mf.Name == "shuffle_spills_triggered_total" {
			found = true
			break
		}
	}
	if !found {
		t.Error("Expected spill counter to be registered")
	}
}

func TestMetrics_PoolGauges(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.PoolSegmentsInUse.Set(12)
	metrics.PoolRequests.WithLabelValues("success").Inc()
	metrics.PoolRequests.WithLabelValues("exhausted").Inc()
	metrics.PoolReclaims.Inc()

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if len(metricFamilies) == 0 {
		t.Error("No metrics were registered")
	}
}
