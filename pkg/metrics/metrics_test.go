// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"strings"
	"sync"
	"testing"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_total", "A test counter")
	c.Inc(nil)
	c.Add(nil, 10)
	c.Inc(Labels{"opcode": "GET_VERSION"})

	if got := c.Get(nil); got != 11 {
		t.Errorf("Get(nil) = %d, want 11", got)
	}
	if got := c.Get(Labels{"opcode": "GET_VERSION"}); got != 1 {
		t.Errorf("Get(opcode) = %d, want 1", got)
	}
	if got := c.Get(Labels{"opcode": "unseen"}); got != 0 {
		t.Errorf("unseen series = %d", got)
	}
	if c.Type() != TypeCounter || c.Name() != "test_total" {
		t.Errorf("type %v name %q", c.Type(), c.Name())
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_gauge", "A test gauge")
	g.Set(Labels{"mode": "live"}, 3)
	g.Add(Labels{"mode": "live"}, -1.5)
	if got := g.Get(Labels{"mode": "live"}); got != 1.5 {
		t.Errorf("Get = %v, want 1.5", got)
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("test_seconds", "A test histogram", []float64{1, 0.1, 0.01})
	for _, v := range []float64{0.005, 0.05, 0.05, 0.5, 5} {
		h.Observe(nil, v)
	}
	s := h.GetSnapshot(nil)
	if s.Count != 5 {
		t.Errorf("Count = %d", s.Count)
	}
	want := map[float64]uint64{0.01: 1, 0.1: 3, 1: 4}
	for b, n := range want {
		if s.Buckets[b] != n {
			t.Errorf("bucket %v = %d, want %d", b, s.Buckets[b], n)
		}
	}
	if empty := h.GetSnapshot(Labels{"x": "y"}); empty.Count != 0 || empty.Buckets == nil {
		t.Errorf("empty snapshot = %+v", empty)
	}
}

func TestGatherFormat(t *testing.T) {
	r := NewRegistry()
	c := NewCounter("events_total", "Events by stream")
	h := NewHistogram("latency_seconds", "Latency", []float64{0.1})
	r.MustRegister(c)
	r.MustRegister(h)
	c.Inc(Labels{"stream": "pressure"})
	c.Inc(Labels{"stream": "accelerometer"})
	h.Observe(Labels{"op": "a"}, 0.05)

	out := r.Gather()
	for _, want := range []string{
		"# HELP events_total Events by stream\n# TYPE events_total counter\n",
		"events_total{stream=\"accelerometer\"} 1\nevents_total{stream=\"pressure\"} 1\n",
		`latency_seconds_bucket{le="0.1",op="a"} 1`,
		`latency_seconds_bucket{le="+Inf",op="a"} 1`,
		`latency_seconds_sum{op="a"} 0.05`,
		`latency_seconds_count{op="a"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Gather missing %q in:\n%s", want, out)
		}
	}
	if strings.Index(out, "events_total") > strings.Index(out, "latency_seconds") {
		t.Error("metrics not in registration order")
	}

	if err := r.Register(NewGauge("events_total", "dup")); err == nil {
		t.Error("duplicate name accepted")
	}
	if r.Get("latency_seconds") != h || r.Get("missing") != nil {
		t.Error("Get returned the wrong metric")
	}
}

func TestLabels(t *testing.T) {
	l := Labels{"b": "2", "a": "say \"hi\"\n"}
	if got := l.Key(); got != "a=say \"hi\"\n,b=2" {
		t.Errorf("Key() = %q", got)
	}
	if got := l.String(); got != `{a="say \"hi\"\n",b="2"}` {
		t.Errorf("String() = %q", got)
	}
	if Labels(nil).String() != "" {
		t.Error("empty labels rendered")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	c := NewCounter("c_total", "c")
	h := NewHistogram("h", "h", []float64{1})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc(Labels{"k": "v"})
				h.Observe(nil, 0.5)
			}
		}()
	}
	wg.Wait()
	if c.Get(Labels{"k": "v"}) != 10000 || h.GetSnapshot(nil).Count != 10000 {
		t.Errorf("counter %d, histogram %d", c.Get(Labels{"k": "v"}), h.GetSnapshot(nil).Count)
	}
}

func BenchmarkCounterInc(b *testing.B) {
	c := NewCounter("bench_total", "bench")
	l := Labels{"opcode": "GET_INT_DETAIL"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Inc(l)
	}
}
