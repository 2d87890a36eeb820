// Metric primitives for the sensor hub driver
//
// Counters, gauges and histograms keyed by label set, rendered in the
// Prometheus text exposition format. Series are written in label order so
// scrapes are stable.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MetricType is the exposition type of a metric.
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	}
	return "untyped"
}

// Labels is one label set of a metric.
type Labels map[string]string

func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Key identifies the label set independent of map order.
func (l Labels) Key() string {
	var sb strings.Builder
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(l[k])
	}
	return sb.String()
}

// String renders the label set as {k="v",...}, or "" when empty.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(labelEscaper.Replace(l[k]))
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}

func (l Labels) clone() Labels {
	out := make(Labels, len(l)+1)
	for k, v := range l {
		out[k] = v
	}
	return out
}

// with returns a copy of l with one more label.
func (l Labels) with(k, v string) Labels {
	out := l.clone()
	out[k] = v
	return out
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Metric is anything a Registry can expose.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

// series is the state of one label set.
type series struct {
	labels  Labels
	value   float64
	count   uint64
	buckets []uint64
}

// family is the label-keyed series store shared by all metric types.
type family struct {
	name string
	help string
	typ  MetricType

	mu     sync.Mutex
	series map[string]*series
	bounds []float64
}

func newFamily(name, help string, typ MetricType) *family {
	return &family{name: name, help: help, typ: typ, series: make(map[string]*series)}
}

func (f *family) Name() string     { return f.name }
func (f *family) Help() string     { return f.help }
func (f *family) Type() MetricType { return f.typ }

// get returns the series for labels, creating it. f.mu must be held.
func (f *family) get(labels Labels) *series {
	key := labels.Key()
	s, ok := f.series[key]
	if !ok {
		s = &series{labels: labels.clone()}
		if f.bounds != nil {
			s.buckets = make([]uint64, len(f.bounds))
		}
		f.series[key] = s
	}
	return s
}

// peek returns a copy of the series for labels without creating it.
func (f *family) peek(labels Labels) (series, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[labels.Key()]
	if !ok {
		return series{}, false
	}
	cp := *s
	cp.buckets = append([]uint64(nil), s.buckets...)
	return cp, true
}

// each calls fn for a copy of every series in key order.
func (f *family) each(fn func(s series)) {
	f.mu.Lock()
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	snap := make([]series, len(keys))
	for i, k := range keys {
		snap[i] = *f.series[k]
		snap[i].buckets = append([]uint64(nil), f.series[k].buckets...)
	}
	f.mu.Unlock()

	for _, s := range snap {
		fn(s)
	}
}

func (f *family) writeHeader(sb *strings.Builder) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.typ)
}

// Counter is a monotonically increasing count.
type Counter struct{ *family }

// NewCounter creates a counter.
func NewCounter(name, help string) *Counter {
	return &Counter{newFamily(name, help, TypeCounter)}
}

// Inc adds one.
func (c *Counter) Inc(labels Labels) { c.Add(labels, 1) }

// Add adds delta.
func (c *Counter) Add(labels Labels, delta uint64) {
	c.mu.Lock()
	c.get(labels).count += delta
	c.mu.Unlock()
}

// Get returns the count for labels.
func (c *Counter) Get(labels Labels) uint64 {
	s, _ := c.peek(labels)
	return s.count
}

func (c *Counter) Write(sb *strings.Builder) {
	c.writeHeader(sb)
	c.each(func(s series) {
		fmt.Fprintf(sb, "%s%s %d\n", c.name, s.labels, s.count)
	})
}

// Gauge is a value that can go up and down.
type Gauge struct{ *family }

// NewGauge creates a gauge.
func NewGauge(name, help string) *Gauge {
	return &Gauge{newFamily(name, help, TypeGauge)}
}

// Set replaces the value for labels.
func (g *Gauge) Set(labels Labels, v float64) {
	g.mu.Lock()
	g.get(labels).value = v
	g.mu.Unlock()
}

// Add adds delta, which may be negative.
func (g *Gauge) Add(labels Labels, delta float64) {
	g.mu.Lock()
	g.get(labels).value += delta
	g.mu.Unlock()
}

// Get returns the value for labels.
func (g *Gauge) Get(labels Labels) float64 {
	s, _ := g.peek(labels)
	return s.value
}

func (g *Gauge) Write(sb *strings.Builder) {
	g.writeHeader(sb)
	g.each(func(s series) {
		fmt.Fprintf(sb, "%s%s %s\n", g.name, s.labels, formatFloat(s.value))
	})
}

// Histogram counts observations in cumulative buckets.
type Histogram struct{ *family }

// NewHistogram creates a histogram with the given upper bounds.
func NewHistogram(name, help string, bounds []float64) *Histogram {
	h := &Histogram{newFamily(name, help, TypeHistogram)}
	h.bounds = append([]float64(nil), bounds...)
	sort.Float64s(h.bounds)
	return h
}

// Observe records one value.
func (h *Histogram) Observe(labels Labels, v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.get(labels)
	s.count++
	s.value += v
	if i := sort.SearchFloat64s(h.bounds, v); i < len(h.bounds) {
		s.buckets[i]++
	}
}

// HistogramSnapshot is a copy of one histogram series. Buckets are
// cumulative and keyed by upper bound.
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

// GetSnapshot returns the series for labels.
func (h *Histogram) GetSnapshot(labels Labels) HistogramSnapshot {
	snap := HistogramSnapshot{Buckets: make(map[float64]uint64, len(h.bounds))}
	s, ok := h.peek(labels)
	if !ok {
		return snap
	}
	snap.Count, snap.Sum = s.count, s.value
	var cum uint64
	for i, b := range h.bounds {
		cum += s.buckets[i]
		snap.Buckets[b] = cum
	}
	return snap
}

func (h *Histogram) Write(sb *strings.Builder) {
	h.writeHeader(sb)
	h.each(func(s series) {
		var cum uint64
		for i, b := range h.bounds {
			cum += s.buckets[i]
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, s.labels.with("le", formatFloat(b)), cum)
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, s.labels.with("le", "+Inf"), s.count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, s.labels, formatFloat(s.value))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, s.labels, s.count)
	})
}

// Registry exposes metrics in registration order.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Metric
	ordered []Metric
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Metric)}
}

// Register adds m. Names must be unique.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[m.Name()]; dup {
		return fmt.Errorf("metric %q already registered", m.Name())
	}
	r.byName[m.Name()] = m
	r.ordered = append(r.ordered, m)
	return nil
}

// MustRegister is Register that panics on a duplicate name.
func (r *Registry) MustRegister(m Metric) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Get returns the metric registered under name, or nil.
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// Gather renders every metric in the text exposition format.
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, m := range r.ordered {
		m.Write(&sb)
	}
	return sb.String()
}
