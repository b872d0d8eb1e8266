package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Viewers.Set(2)
	m.Broadcasts.WithLabelValues("cell:update").Inc()
	m.RateLimited.WithLabelValues("too_fast").Inc()

	if got := testutil.ToFloat64(m.Viewers); got != 2 {
		t.Errorf("viewers gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Broadcasts.WithLabelValues("cell:update")); got != 1 {
		t.Errorf("broadcast counter = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) == 0 {
		t.Error("no metric families registered")
	}
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	// Two registries must not collide (duplicate registration panics).
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}
