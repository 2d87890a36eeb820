// Tests for hub error codes and wrapping
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestHubErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"timeout", TimeoutError("SetTaskPeriod", 500*time.Millisecond), "[TIMEOUT:SetTaskPeriod] no completion within 500ms"},
		{"protocol", ProtocolError("CheckAccess", 0x0002), "[PROTOCOL:CheckAccess] mcu rejected command (mcu code 0x0002)"},
		{"wrapped", TransportError("read", fmt.Errorf("nack")), "[TRANSPORT:read] bus transfer failed: nack"},
		{"plain", ArgumentError("unknown stream"), "[ARGUMENT] unknown stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsWalksChain(t *testing.T) {
	inner := TimeoutError("GetIntDetail", time.Second)
	outer := StateError("fusion", inner)
	wrapped := fmt.Errorf("activate: %w", outer)

	if !Is(wrapped, ErrStateInconsistency) {
		t.Error("expected STATE_INCONSISTENCY in chain")
	}
	if !Is(wrapped, ErrTimeout) {
		t.Error("expected TIMEOUT in chain")
	}
	if Is(wrapped, ErrProtocol) {
		t.Error("unexpected PROTOCOL in chain")
	}
	if Code(wrapped) != ErrStateInconsistency {
		t.Errorf("Code = %s", Code(wrapped))
	}
	if !IsCommandFailure(wrapped) {
		t.Error("timeout should count as a command failure")
	}
}

func TestMCUCode(t *testing.T) {
	err := StateError("rate", ProtocolError("SetDecimation", 0x0031))
	code, ok := MCUCode(err)
	if !ok || code != 0x0031 {
		t.Errorf("MCUCode = 0x%04x,%v", code, ok)
	}
	if _, ok := MCUCode(HardError("x")); ok {
		t.Error("hard error carries no mcu code")
	}
	if _, ok := MCUCode(stderrors.New("plain")); ok {
		t.Error("plain error carries no mcu code")
	}
}

func TestUnwrapToStdlib(t *testing.T) {
	sentinel := stderrors.New("bus gone")
	err := TransportError("write", sentinel)
	if !stderrors.Is(err, sentinel) {
		t.Error("errors.Is should reach the wrapped cause")
	}
}

func TestContext(t *testing.T) {
	err := SizeMismatchError(128, 96)
	if err.Context["requested"] != 128 || err.Context["reported"] != 96 {
		t.Errorf("unexpected context %v", err.Context)
	}
	if !strings.Contains(BadRecordError(7, "unknown tag 0x33").Error(), "offset 7") {
		t.Error("bad record error should name the offset")
	}
}

func TestFromPanic(t *testing.T) {
	run := func(f func()) (err error) {
		defer func() {
			if e := FromPanic(recover()); e != nil {
				err = e
			}
		}()
		f()
		return nil
	}

	if err := run(func() {}); err != nil {
		t.Errorf("no panic should give nil, got %v", err)
	}
	err := run(func() { panic("boom") })
	if !Is(err, ErrRuntime) || !strings.Contains(err.Error(), "boom") {
		t.Errorf("unexpected panic error %v", err)
	}
	err = run(func() {
		var m map[string]int
		m["x"] = 1
	})
	if !Is(err, ErrRuntime) {
		t.Errorf("runtime panic not converted: %v", err)
	}
}
