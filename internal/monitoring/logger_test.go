package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	prev := Logf
	defer func() { Logf = prev }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")

	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op logger
	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()

	Logf("test message: %s", "value")
}

func TestDebugf(t *testing.T) {
	prev := Logf
	defer func() {
		Logf = prev
		SetDebug(false)
	}()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	SetDebug(false)
	Debugf("ignore point: %.1f", 120.0)
	if len(lines) != 0 {
		t.Fatalf("expected no output with debug disabled, got %v", lines)
	}

	SetDebug(true)
	if !DebugEnabled() {
		t.Fatal("DebugEnabled() = false after SetDebug(true)")
	}
	Debugf("ignore point: %.1f", 120.0)
	if len(lines) != 1 || lines[0] != "[debug] ignore point: 120.0" {
		t.Errorf("unexpected debug output: %v", lines)
	}
}
