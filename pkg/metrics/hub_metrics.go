// Sensor hub metrics definitions
//
// Defines the metrics exported by a hub driver instance:
// - Command channel traffic, retries and failures
// - Interrupt dispatch and work slot pressure
// - Rate arbiter and activation state
// - Log replay throughput
// - Go runtime
//
// All recording methods are safe on a nil *HubMetrics so components can
// run without a metrics sink.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"time"
)

// HubMetrics holds all hub driver metrics
type HubMetrics struct {
	// Command channel
	CommandsTotal   *Counter
	CommandErrors   *Counter
	CommandRetries  *Counter
	CommandTimeouts *Counter
	CommandLatency  *Histogram
	LateCompletions *Counter
	BusRetries      *Counter

	// Interrupts
	IRQTotal       *Counter
	IRQDrops       *Counter
	HardErrors     *Counter
	DomainTasks    *Counter
	DomainRequeues *Counter
	PoolBusy       *Gauge

	// Rate arbiter and activation
	Recomputes       *Counter
	RecomputeErrors  *Counter
	TaskPeriod       *Gauge
	ActiveStreams    *Gauge
	ActivationErrors *Counter

	// Log replay
	Flushes       *Counter
	FlushErrors   *Counter
	FlushBytes    *Counter
	FlushRecords  *Counter
	EventsEmitted *Counter

	// Go runtime
	Goroutines *Gauge
	HeapBytes  *Gauge
	Uptime     *Gauge

	startTime time.Time
	registry  *Registry
}

// NewHubMetrics creates and registers all hub metrics
func NewHubMetrics() *HubMetrics {
	hm := &HubMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	hm.CommandsTotal = NewCounter("sensorhub_commands_total",
		"Commands issued to the hub MCU by opcode")
	hm.CommandErrors = NewCounter("sensorhub_command_errors_total",
		"Failed commands by opcode and error code")
	hm.CommandRetries = NewCounter("sensorhub_command_retries_total",
		"Command retries after a transient busy code")
	hm.CommandTimeouts = NewCounter("sensorhub_command_timeouts_total",
		"Commands that saw no completion within the bound")
	hm.CommandLatency = NewHistogram("sensorhub_command_latency_seconds",
		"Issue to completion latency", []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5})
	hm.LateCompletions = NewCounter("sensorhub_late_completions_total",
		"Completion interrupts with no waiting command")
	hm.BusRetries = NewCounter("sensorhub_bus_retries_total",
		"Transport retries on device busy")

	hm.IRQTotal = NewCounter("sensorhub_irq_total",
		"Hardware interrupts received")
	hm.IRQDrops = NewCounter("sensorhub_irq_drops_total",
		"Interrupt work dropped because every work slot was busy")
	hm.HardErrors = NewCounter("sensorhub_hard_errors_total",
		"Hard error interrupts")
	hm.DomainTasks = NewCounter("sensorhub_domain_tasks_total",
		"Domain bottom half runs by domain")
	hm.DomainRequeues = NewCounter("sensorhub_domain_requeues_total",
		"Domain interrupts coalesced into a running task")
	hm.PoolBusy = NewGauge("sensorhub_work_slots_busy",
		"Deferred work slots in use")

	hm.Recomputes = NewCounter("sensorhub_rate_recomputes_total",
		"Rate arbiter recomputations")
	hm.RecomputeErrors = NewCounter("sensorhub_rate_recompute_errors_total",
		"Rate arbiter recomputations aborted by a command failure")
	hm.TaskPeriod = NewGauge("sensorhub_task_period_microseconds",
		"Committed hardware task period by kind")
	hm.ActiveStreams = NewGauge("sensorhub_active_streams",
		"Number of active streams by delivery mode")
	hm.ActivationErrors = NewCounter("sensorhub_activation_errors_total",
		"Activation changes rolled back")

	hm.Flushes = NewCounter("sensorhub_log_flushes_total",
		"Log replay flushes")
	hm.FlushErrors = NewCounter("sensorhub_log_flush_errors_total",
		"Failed log replay flushes by error code")
	hm.FlushBytes = NewCounter("sensorhub_log_bytes_total",
		"Log payload bytes transferred")
	hm.FlushRecords = NewCounter("sensorhub_log_records_total",
		"Log records decoded by family")
	hm.EventsEmitted = NewCounter("sensorhub_events_total",
		"Events forwarded to the notifier by stream")

	hm.Goroutines = NewGauge("sensorhub_go_goroutines",
		"Number of active goroutines")
	hm.HeapBytes = NewGauge("sensorhub_go_memory_heap_bytes",
		"Go heap memory in use")
	hm.Uptime = NewGauge("sensorhub_uptime_seconds",
		"Seconds since the metrics were created")

	hm.registerAll()
	return hm
}

func (hm *HubMetrics) registerAll() {
	metrics := []Metric{
		hm.CommandsTotal, hm.CommandErrors, hm.CommandRetries,
		hm.CommandTimeouts, hm.CommandLatency, hm.LateCompletions, hm.BusRetries,
		hm.IRQTotal, hm.IRQDrops, hm.HardErrors, hm.DomainTasks,
		hm.DomainRequeues, hm.PoolBusy,
		hm.Recomputes, hm.RecomputeErrors, hm.TaskPeriod, hm.ActiveStreams,
		hm.ActivationErrors,
		hm.Flushes, hm.FlushErrors, hm.FlushBytes, hm.FlushRecords, hm.EventsEmitted,
		hm.Goroutines, hm.HeapBytes, hm.Uptime,
	}
	for _, m := range metrics {
		hm.registry.MustRegister(m)
	}
}

// RecordCommand records one completed Execute call
func (hm *HubMetrics) RecordCommand(opcode string, latency time.Duration, errCode string) {
	if hm == nil {
		return
	}
	hm.CommandsTotal.Inc(Labels{"opcode": opcode})
	hm.CommandLatency.Observe(nil, latency.Seconds())
	if errCode != "" {
		hm.CommandErrors.Inc(Labels{"opcode": opcode, "code": errCode})
		if errCode == "TIMEOUT" {
			hm.CommandTimeouts.Inc(nil)
		}
	}
}

// RecordCommandRetry records a busy retry
func (hm *HubMetrics) RecordCommandRetry(opcode string) {
	if hm == nil {
		return
	}
	hm.CommandRetries.Inc(Labels{"opcode": opcode})
}

// RecordLateCompletion records a discarded completion
func (hm *HubMetrics) RecordLateCompletion() {
	if hm == nil {
		return
	}
	hm.LateCompletions.Inc(nil)
}

// RecordBusRetry records a transport level retry
func (hm *HubMetrics) RecordBusRetry(op string) {
	if hm == nil {
		return
	}
	hm.BusRetries.Inc(Labels{"op": op})
}

// RecordIRQ records a top-half interrupt and whether it was dropped
func (hm *HubMetrics) RecordIRQ(dropped bool) {
	if hm == nil {
		return
	}
	hm.IRQTotal.Inc(nil)
	if dropped {
		hm.IRQDrops.Inc(nil)
	}
}

// RecordHardError records a hard error interrupt
func (hm *HubMetrics) RecordHardError() {
	if hm == nil {
		return
	}
	hm.HardErrors.Inc(nil)
}

// RecordDomainTask records a domain bottom half run or coalesced request
func (hm *HubMetrics) RecordDomainTask(domain string, requeued bool) {
	if hm == nil {
		return
	}
	if requeued {
		hm.DomainRequeues.Inc(Labels{"domain": domain})
		return
	}
	hm.DomainTasks.Inc(Labels{"domain": domain})
}

// SetPoolBusy updates the busy slot gauge
func (hm *HubMetrics) SetPoolBusy(n int) {
	if hm == nil {
		return
	}
	hm.PoolBusy.Set(nil, float64(n))
}

// RecordRecompute records a rate recomputation result
func (hm *HubMetrics) RecordRecompute(sensorUs, fusionUs uint32, err error) {
	if hm == nil {
		return
	}
	hm.Recomputes.Inc(nil)
	if err != nil {
		hm.RecomputeErrors.Inc(nil)
		return
	}
	hm.TaskPeriod.Set(Labels{"kind": "sensor"}, float64(sensorUs))
	hm.TaskPeriod.Set(Labels{"kind": "fusion"}, float64(fusionUs))
}

// SetActiveStreams updates the live and batch stream counts
func (hm *HubMetrics) SetActiveStreams(live, batch int) {
	if hm == nil {
		return
	}
	hm.ActiveStreams.Set(Labels{"mode": "live"}, float64(live))
	hm.ActiveStreams.Set(Labels{"mode": "batch"}, float64(batch))
}

// RecordActivationError records a rolled back activation change
func (hm *HubMetrics) RecordActivationError() {
	if hm == nil {
		return
	}
	hm.ActivationErrors.Inc(nil)
}

// RecordFlush records one log replay
func (hm *HubMetrics) RecordFlush(bytes int, errCode string) {
	if hm == nil {
		return
	}
	hm.Flushes.Inc(nil)
	if errCode != "" {
		hm.FlushErrors.Inc(Labels{"code": errCode})
		return
	}
	hm.FlushBytes.Add(nil, uint64(bytes))
}

// RecordRecord records one decoded log record
func (hm *HubMetrics) RecordRecord(family string) {
	if hm == nil {
		return
	}
	hm.FlushRecords.Inc(Labels{"family": family})
}

// RecordEvent records an event forwarded to the notifier
func (hm *HubMetrics) RecordEvent(stream string) {
	if hm == nil {
		return
	}
	hm.EventsEmitted.Inc(Labels{"stream": stream})
}

// UpdateSystemMetrics updates Go runtime metrics
func (hm *HubMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	hm.Goroutines.Set(nil, float64(goruntime.NumGoroutine()))
	hm.HeapBytes.Set(nil, float64(m.HeapAlloc))
	hm.Uptime.Set(nil, time.Since(hm.startTime).Seconds())
}

// Gather returns all metrics in Prometheus text format
func (hm *HubMetrics) Gather() string {
	hm.UpdateSystemMetrics()
	return hm.registry.Gather()
}

// Registry returns the internal registry
func (hm *HubMetrics) Registry() *Registry {
	return hm.registry
}
