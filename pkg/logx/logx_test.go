package logx

import (
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger("test-component")
	if logger == nil {
		t.Fatal("Expected non-nil logger")
	}

	if logger.GetComponent() != "test-component" {
		t.Errorf("Expected component 'test-component', got %s", logger.GetComponent())
	}
}

func TestLogBufferCapture(t *testing.T) {
	logger := NewLogger("buffer-test")

	before := time.Now().UTC().Add(-time.Second)
	logger.Info("hello %s", "world")

	entries := GetRecentLogEntries("buffer-test", before)
	if len(entries) == 0 {
		t.Fatal("Expected at least one captured log entry")
	}

	last := entries[len(entries)-1]
	if last.Message != "hello world" {
		t.Errorf("Expected message 'hello world', got %q", last.Message)
	}
	if last.Level != string(LevelInfo) {
		t.Errorf("Expected level INFO, got %s", last.Level)
	}
}

func TestDebugSuppressedWhenDisabled(t *testing.T) {
	SetDebug(false)
	defer SetDebug(false)

	logger := NewLogger("debug-test")
	before := time.Now().UTC().Add(-time.Second)
	logger.Debug("should not appear")

	for _, entry := range GetRecentLogEntries("debug-test", before) {
		if entry.Level == string(LevelDebug) {
			t.Error("Expected no debug entries while debug is disabled")
		}
	}

	SetDebug(true)
	logger.Debug("should appear")

	found := false
	for _, entry := range GetRecentLogEntries("debug-test", before) {
		if entry.Level == string(LevelDebug) {
			found = true
		}
	}
	if !found {
		t.Error("Expected a debug entry after enabling debug")
	}
}

func TestBufferFiltering(t *testing.T) {
	a := NewLogger("comp-a")
	b := NewLogger("comp-b")

	before := time.Now().UTC().Add(-time.Second)
	a.Info("from a")
	b.Info("from b")

	for _, entry := range GetRecentLogEntries("comp-a", before) {
		if entry.Component != "comp-a" {
			t.Errorf("Filter leaked entry from %s", entry.Component)
		}
	}
}
