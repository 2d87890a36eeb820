package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"sensorhub-go/pkg/config"
	"sensorhub-go/pkg/sensor"
)

func TestParseStreams(t *testing.T) {
	got, err := parseStreams("accelerometer, pressure,,")
	if err != nil {
		t.Fatalf("parseStreams: %v", err)
	}
	if len(got) != 2 || got[0] != sensor.Accelerometer || got[1] != sensor.Pressure {
		t.Errorf("parseStreams = %v", got)
	}
	if _, err := parseStreams("accelerometer,sonar"); err == nil {
		t.Error("unknown stream accepted")
	}
}

func TestSimulatePrintsEvents(t *testing.T) {
	cfg := config.DefaultHubConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	err := simulate(ctx, &out, &cfg,
		[]sensor.Stream{sensor.StepCounter},
		[]sensor.Stream{sensor.Accelerometer},
		10*time.Millisecond, false)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	text := out.String()
	for _, want := range []string{"step_counter", "accelerometer"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %s events:\n%s", want, text)
		}
	}
	if strings.Contains(text, "gyroscope") {
		t.Error("gyroscope events printed without being enabled")
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := versionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := out.String(); got != "hubd dev\n" {
		t.Errorf("output = %q", got)
	}
}

func TestIntervalFlagsMustBePositive(t *testing.T) {
	tests := []struct {
		name string
		cmd  func() *cobra.Command
		args []string
		flag string
	}{
		{"run zero flush", runCmd, []string{"--config", "hub.cfg", "--flush-interval", "0"}, "flush-interval"},
		{"run negative flush", runCmd, []string{"--config", "hub.cfg", "--flush-interval=-1s"}, "flush-interval"},
		{"simulate zero tick", simulateCmd, []string{"--tick", "0"}, "tick"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := tt.cmd()
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetErr(&out)
			cmd.SetArgs(tt.args)
			err := cmd.Execute()
			if err == nil || !strings.Contains(err.Error(), "--"+tt.flag+" must be positive") {
				t.Errorf("Execute err = %v", err)
			}
		})
	}
}
