// Tests for driver metrics
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestHubMetricsNilSafe(t *testing.T) {
	var hm *HubMetrics
	hm.RecordCommand("GetVersion", time.Millisecond, "TIMEOUT")
	hm.RecordCommandRetry("GetVersion")
	hm.RecordIRQ(true)
	hm.RecordDomainTask("acc", false)
	hm.RecordRecompute(1, 2, nil)
	hm.RecordFlush(10, "")
	hm.RecordEvent("acc")
}

func TestRecordCommand(t *testing.T) {
	hm := NewHubMetrics()
	hm.RecordCommand("CheckAccess", 2*time.Millisecond, "")
	hm.RecordCommand("CheckAccess", 100*time.Millisecond, "TIMEOUT")

	if got := hm.CommandsTotal.Get(Labels{"opcode": "CheckAccess"}); got != 2 {
		t.Errorf("commands = %d", got)
	}
	if got := hm.CommandErrors.Get(Labels{"opcode": "CheckAccess", "code": "TIMEOUT"}); got != 1 {
		t.Errorf("errors = %d", got)
	}
	if hm.CommandTimeouts.Get(nil) != 1 {
		t.Error("timeout not counted")
	}
	if s := hm.CommandLatency.GetSnapshot(nil); s.Count != 2 {
		t.Errorf("latency observations = %d", s.Count)
	}
}

func TestRecordIRQAndDomains(t *testing.T) {
	hm := NewHubMetrics()
	hm.RecordIRQ(false)
	hm.RecordIRQ(true)
	hm.RecordDomainTask("gyro", false)
	hm.RecordDomainTask("gyro", true)

	if hm.IRQTotal.Get(nil) != 2 || hm.IRQDrops.Get(nil) != 1 {
		t.Errorf("irq total=%d drops=%d", hm.IRQTotal.Get(nil), hm.IRQDrops.Get(nil))
	}
	if hm.DomainTasks.Get(Labels{"domain": "gyro"}) != 1 || hm.DomainRequeues.Get(Labels{"domain": "gyro"}) != 1 {
		t.Error("domain counters wrong")
	}
}

func TestRecordRecomputeFailureKeepsPeriod(t *testing.T) {
	hm := NewHubMetrics()
	hm.RecordRecompute(10000, 20000, nil)
	hm.RecordRecompute(5000, 5000, errors.New("timeout"))

	if hm.TaskPeriod.Get(Labels{"kind": "sensor"}) != 10000 {
		t.Error("failed recompute must not move the period gauge")
	}
	if hm.RecomputeErrors.Get(nil) != 1 {
		t.Error("recompute error not counted")
	}
}

func TestRecordFlush(t *testing.T) {
	hm := NewHubMetrics()
	hm.RecordFlush(21, "")
	hm.RecordFlush(0, "BAD_RECORD")
	hm.RecordRecord("acc")

	out := hm.Gather()
	for _, want := range []string{
		"sensorhub_log_flushes_total 2",
		"sensorhub_log_bytes_total 21",
		`sensorhub_log_flush_errors_total{code="BAD_RECORD"} 1`,
		`sensorhub_log_records_total{family="acc"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q", want)
		}
	}
}
