package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewSetsLevelAndFormat(t *testing.T) {
	cfg := LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}
	log := New(cfg)
	if log.GetLevel().String() != "debug" {
		t.Fatalf("expected level debug, got %s", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected JSON formatter, got %T", log.Formatter)
	}
}

func TestNewDefaultsToInfoOnInvalidLevel(t *testing.T) {
	log := New(LoggingConfig{Level: "not-a-level", Format: "text"})
	if log.GetLevel().String() != "info" {
		t.Fatalf("expected fallback level info, got %s", log.GetLevel())
	}
}

func TestWithDeviceTagsEntry(t *testing.T) {
	log := NewDefault("test")
	entry := log.WithDevice("dev_1")
	if entry.Data["device_id"] != "dev_1" {
		t.Fatalf("expected device_id field, got %#v", entry.Data)
	}
}
