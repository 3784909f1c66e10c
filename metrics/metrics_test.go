package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(reg)

	s.EventsPublished.WithLabelValues("topic").Inc()
	s.RpcCalls.WithLabelValues("addr", "ok").Inc()
	s.HandlerPanics.Inc()

	if got := testutil.ToFloat64(s.EventsPublished.WithLabelValues("topic")); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(s.HandlerPanics); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
}

func TestNoopUsesPrivateRegistry(t *testing.T) {
	s1 := Noop()
	s2 := Noop()

	s1.RpcTimeouts.Inc()
	if got := testutil.ToFloat64(s2.RpcTimeouts); got != 0 {
		t.Fatalf("expected independent registries, s2 saw %v", got)
	}
}
