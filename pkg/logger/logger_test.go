package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewDefaultStampsModule(t *testing.T) {
	log := NewDefault("raffle-test")
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	log.WithField("round", 1).Info("round opened")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry["module"] != "raffle-test" {
		t.Fatalf("expected module field, got %v", entry["module"])
	}
	if entry["msg"] != "round opened" {
		t.Fatalf("unexpected message: %v", entry["msg"])
	}
}

func TestNewParsesLevelAndFormat(t *testing.T) {
	log := New(LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	if log.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected json formatter, got %T", log.Formatter)
	}

	fallback := New(LoggingConfig{Level: "loud", Output: "nowhere"})
	if fallback.GetLevel() != logrus.InfoLevel {
		t.Fatalf("invalid level should fall back to info, got %s", fallback.GetLevel())
	}
}

func TestNamedKeepsConfiguration(t *testing.T) {
	parent := New(LoggingConfig{Level: "warn"})
	child := parent.Named("keeper")
	if child.Module() != "keeper" {
		t.Fatalf("unexpected module %q", child.Module())
	}
	if child.GetLevel() != logrus.WarnLevel {
		t.Fatalf("child should inherit level, got %s", child.GetLevel())
	}
}
