package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestDenyError_MatchesForbidden(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("verify: %w", Deny(ReasonOrganizationMismatch))
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("want errors.Is(ErrForbidden)")
	}
	r, ok := ReasonOf(err)
	if !ok || r != ReasonOrganizationMismatch {
		t.Fatalf("reason: got %q ok=%v", r, ok)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("deny must not match ErrNotFound")
	}
}

func TestValidation_Wraps(t *testing.T) {
	t.Parallel()

	err := Validation("item[%d] empty title", 2)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
	if err.Error() != "validation: item[2] empty title" {
		t.Fatalf("message: %q", err.Error())
	}
	if _, ok := ReasonOf(err); ok {
		t.Fatalf("validation carries no deny reason")
	}
}
