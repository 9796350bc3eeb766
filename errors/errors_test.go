package errors

import (
	"strings"
	"testing"
)

func TestNewIncludesCallerLocation(t *testing.T) {
	err := New("missing %s", "ARCADE_USER_ID")
	if !strings.HasPrefix(err.Error(), "[errors_test.go:") {
		t.Errorf("expected caller prefix, got %q", err.Error())
	}
	if !strings.HasSuffix(err.Error(), "missing ARCADE_USER_ID") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestWrapfKeepsChain(t *testing.T) {
	base := Sentinel("boom")
	wrapped := Wrapf(base, "stream %d", 2)
	if !Is(wrapped, base) {
		t.Fatal("wrapped error lost its cause")
	}
	if !strings.Contains(wrapped.Error(), "stream 2: boom") {
		t.Errorf("unexpected message %q", wrapped.Error())
	}
	if Wrapf(nil, "ignored") != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}
