package herr

import (
	"errors"
	"testing"
)

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("dial refused")
	err := Wrap(CodeBehavior, "connect to peer", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to see through to the wrapped cause")
	}
	if CodeOf(err) != CodeBehavior {
		t.Errorf("CodeOf() = %v, want CodeBehavior", CodeOf(err))
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if CodeOf(errors.New("plain")) != CodeUnknown {
		t.Error("expected CodeUnknown for a plain error")
	}
}

func TestIs(t *testing.T) {
	err := New(CodeTimeout, "query timed out")
	if !Is(err, CodeTimeout) {
		t.Error("expected Is(err, CodeTimeout) to be true")
	}
	if Is(err, CodeNotFound) {
		t.Error("expected Is(err, CodeNotFound) to be false")
	}
}
