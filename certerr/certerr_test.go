package certerr

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestWrapKeepsCause(t *testing.T) {
	err := fmt.Errorf("issue: %w", Wrap(KindStorage, "CERT-ALLOC-002", "create failed", io.ErrUnexpectedEOF))

	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("cause not reachable through %v", err)
	}
	if !IsKind(err, KindStorage) || IsKind(err, KindDecoding) {
		t.Fatalf("IsKind mismatch for %v", err)
	}
	if got := KindOf(err); got != KindStorage {
		t.Fatalf("KindOf=%q", got)
	}
	if got := RuleID(err); got != "CERT-ALLOC-002" {
		t.Fatalf("RuleID=%q", got)
	}
	if got := err.Error(); got != "issue: create failed" {
		t.Fatalf("Error()=%q", got)
	}
}

func TestWrapNilCauseIsNew(t *testing.T) {
	var e *Error
	if !errors.As(Wrap(KindInvalidInput, "R", "m", nil), &e) {
		t.Fatalf("expected *Error")
	}
	if e.Cause != nil || e.Unwrap() != nil {
		t.Fatalf("unexpected cause %v", e.Cause)
	}
}

func TestMessageFallsBackToCause(t *testing.T) {
	err := Wrap(KindDecoding, "R", "", io.EOF)
	if err.Error() != io.EOF.Error() {
		t.Fatalf("Error()=%q", err.Error())
	}
}

func TestPlainErrorsHaveNoKind(t *testing.T) {
	err := errors.New("plain")
	if KindOf(err) != "" || RuleID(err) != "" || IsKind(err, KindInternal) {
		t.Fatalf("plain error classified")
	}
	var nilErr *Error
	if nilErr.Error() != "<nil>" {
		t.Fatalf("nil receiver")
	}
}
