package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategories(t *testing.T) {
	errA := Logic("bad request")
	errB := Runtime("timed out")

	wrapped := fmt.Errorf("reading /dev/x: %w", errB)

	if !IsLogic(errA) || IsRuntime(errA) {
		t.Errorf("Logic sentinel misclassified: logic=%v runtime=%v", IsLogic(errA), IsRuntime(errA))
	}
	if !IsRuntime(wrapped) || IsLogic(wrapped) {
		t.Errorf("wrapped Runtime sentinel misclassified")
	}
	if !errors.Is(wrapped, errB) {
		t.Error("errors.Is(wrapped, sentinel) = false, want true")
	}
	if errors.Is(wrapped, errA) {
		t.Error("errors.Is(wrapped, other sentinel) = true, want false")
	}
	if errB.Error() != "timed out" {
		t.Errorf("Error() = %q, want %q", errB.Error(), "timed out")
	}
}
