package simerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsByCode(t *testing.T) {
	err := WithMetadata(CodePrecondition, "slot 4 occupied", map[string]string{"slot": "4"})

	if !errors.Is(err, ErrPrecondition) {
		t.Errorf("errors.Is(%v, ErrPrecondition) = false, want true", err)
	}
	if errors.Is(err, ErrIdle) {
		t.Errorf("errors.Is(%v, ErrIdle) = true, want false", err)
	}
	if got := err.Error(); got != "slot 4 occupied" {
		t.Errorf("Error() = %q, want %q", got, "slot 4 occupied")
	}
}

func TestWrappedChain(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("update 12: %w", Wrap(CodeStorage, "write snapshot", cause))

	if got := GetCode(err); got != CodeStorage {
		t.Errorf("GetCode() = %v, want %v", got, CodeStorage)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable through errors.Is")
	}
	if IsPrecondition(err) {
		t.Error("IsPrecondition() = true for storage error")
	}
}

func TestGetCodeUnknown(t *testing.T) {
	if got := GetCode(errors.New("plain")); got != CodeUnknown {
		t.Errorf("GetCode(plain) = %v, want %v", got, CodeUnknown)
	}
}
