package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewProductionWritesJSON(t *testing.T) {
	var out, console bytes.Buffer
	l := New("production", &out, &console)

	l.Info().Str("task_id", "t1").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(out.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", out.String(), err)
	}
	if entry["task_id"] != "t1" {
		t.Errorf("expected task_id t1, got %v", entry["task_id"])
	}
	if console.Len() != 0 {
		t.Errorf("expected nothing on console, got %q", console.String())
	}
}

func TestNewDevelopmentWritesConsole(t *testing.T) {
	var out, console bytes.Buffer
	l := New("", &out, &console)

	l.Info().Msg("hello")

	if out.Len() != 0 {
		t.Errorf("expected nothing on out, got %q", out.String())
	}
	if !bytes.Contains(console.Bytes(), []byte("hello")) {
		t.Errorf("expected console output to contain message, got %q", console.String())
	}
}

func TestSetLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	tests := []struct {
		name string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SetLevel(tt.name); got != tt.want {
				t.Errorf("SetLevel(%q) = %v, want %v", tt.name, got, tt.want)
			}
			if zerolog.GlobalLevel() != tt.want {
				t.Errorf("global level = %v, want %v", zerolog.GlobalLevel(), tt.want)
			}
		})
	}
}

func TestComponentDerivesFromGlobalLogger(t *testing.T) {
	saved := Log
	defer func() { Log = saved }()

	var out bytes.Buffer
	Log = New("production", &out, nil)

	l := Component("consumer")
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(out.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", out.String(), err)
	}
	if entry["component"] != "consumer" {
		t.Errorf("expected component consumer, got %v", entry["component"])
	}
}
