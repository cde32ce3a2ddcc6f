package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatsWithAndWithoutCause(t *testing.T) {
	bare := New(KindSessionNotFound, "no such session")
	if bare.Error() != "no such session" {
		t.Fatalf("Error() = %q, want %q", bare.Error(), "no such session")
	}

	wrapped := Wrap(KindFileSystemError, "read stream-out", errors.New("permission denied"))
	want := "read stream-out: permission denied"
	if wrapped.Error() != want {
		t.Fatalf("Error() = %q, want %q", wrapped.Error(), want)
	}
}

func TestUnwrapReturnsWrappedCause(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := Wrap(KindFileSystemError, "write session.json", cause)
	if !errors.Is(wrapped, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestIsMatchesOnlyTheGivenKind(t *testing.T) {
	err := New(KindSessionExited, "already exited")
	if !Is(err, KindSessionExited) {
		t.Fatal("expected Is to match the same kind")
	}
	if Is(err, KindSessionNotFound) {
		t.Fatal("expected Is to reject a different kind")
	}
	if Is(errors.New("plain error"), KindSessionExited) {
		t.Fatal("expected Is to reject a non-*Error")
	}
}

func TestKindOfExtractsKindOrReturnsEmpty(t *testing.T) {
	err := New(KindInvalidDimensions, "cols must be positive")
	if got := KindOf(err); got != KindInvalidDimensions {
		t.Fatalf("KindOf() = %q, want %q", got, KindInvalidDimensions)
	}
	if got := KindOf(errors.New("plain error")); got != "" {
		t.Fatalf("KindOf() = %q, want empty", got)
	}
}

func TestKindOfFindsWrappedError(t *testing.T) {
	inner := New(KindRemoteUnreachable, "dial failed")
	outer := errors.New("higher-level failure: " + inner.Error())
	if got := KindOf(outer); got != "" {
		t.Fatalf("KindOf() on a plain wrapping string = %q, want empty", got)
	}

	fmtWrapped := fmt.Errorf("retry failed: %w", inner)
	if got := KindOf(fmtWrapped); got != KindRemoteUnreachable {
		t.Fatalf("KindOf() = %q, want %q", got, KindRemoteUnreachable)
	}
}
