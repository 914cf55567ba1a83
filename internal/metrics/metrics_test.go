package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsIsShared(t *testing.T) {
	if NewMetrics() != NewMetrics() {
		t.Error("NewMetrics should return the same instance")
	}
}

func TestRecordCycle(t *testing.T) {
	m := NewMetrics()
	before := testutil.ToFloat64(m.CyclesTotal.WithLabelValues("no_photos"))
	m.RecordCycle("no_photos", 150*time.Millisecond)
	if got := testutil.ToFloat64(m.CyclesTotal.WithLabelValues("no_photos")); got != before+1 {
		t.Errorf("cycles = %v, want %v", got, before+1)
	}
}

func TestRecordWindowSetsGauge(t *testing.T) {
	m := NewMetrics()
	m.RecordWindow("1m", "found", 4)
	if got := testutil.ToFloat64(m.WindowAssets.WithLabelValues("1m")); got != 4 {
		t.Errorf("assets = %v, want 4", got)
	}
	m.RecordWindow("1m", "empty", 0)
	if got := testutil.ToFloat64(m.WindowAssets.WithLabelValues("1m")); got != 0 {
		t.Errorf("assets = %v, want 0", got)
	}
}

func TestRecordDelivery(t *testing.T) {
	m := NewMetrics()
	before := testutil.ToFloat64(m.NotificationsDelivered.WithLabelValues("log", "failure"))
	m.RecordDelivery("log", false)
	if got := testutil.ToFloat64(m.NotificationsDelivered.WithLabelValues("log", "failure")); got != before+1 {
		t.Errorf("deliveries = %v, want %v", got, before+1)
	}
}
