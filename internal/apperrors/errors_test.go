package apperrors

import (
	"errors"
	"net/http"
	"testing"
)

func TestStatusCodeAndWireCode(t *testing.T) {
	tests := []struct {
		kind       Kind
		wantStatus int
		wantWire   string
	}{
		{Unauthenticated, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{TokenExpired, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{Forbidden, http.StatusForbidden, "FORBIDDEN"},
		{NotFound, http.StatusNotFound, "NOT_FOUND"},
		{InvalidArgument, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{Conflict, http.StatusConflict, "CONFLICT"},
		{QuotaExceeded, http.StatusTooManyRequests, "TOO_MANY_REQUESTS"},
		{Transient, http.StatusServiceUnavailable, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := New(tt.kind, "boom")
			if got := err.StatusCode(); got != tt.wantStatus {
				t.Errorf("StatusCode() = %d, want %d", got, tt.wantStatus)
			}
			if got := err.WireCode(); got != tt.wantWire {
				t.Errorf("WireCode() = %s, want %s", got, tt.wantWire)
			}
		})
	}
}

func TestWrap_PreservesExistingAppError(t *testing.T) {
	original := New(Forbidden, "nope")
	wrapped := Wrap(original, Transient)
	if wrapped != original {
		t.Error("Wrap should return the same *AppError instance unchanged, not re-wrap it")
	}
}

func TestWrap_ConvertsPlainError(t *testing.T) {
	wrapped := Wrap(errors.New("db exploded"), Transient)
	if wrapped.Kind != Transient {
		t.Errorf("Kind = %s, want Transient", wrapped.Kind)
	}
	if wrapped.Message != "db exploded" {
		t.Errorf("Message = %q, want %q", wrapped.Message, "db exploded")
	}
}

func TestWrap_NilIsNil(t *testing.T) {
	if Wrap(nil, Transient) != nil {
		t.Error("Wrap(nil, ...) should return nil")
	}
}

func TestIs(t *testing.T) {
	err := New(NotFound, "missing")
	if !Is(err, NotFound) {
		t.Error("Is(err, NotFound) = false, want true")
	}
	if Is(err, Forbidden) {
		t.Error("Is(err, Forbidden) = true, want false")
	}
	if Is(errors.New("plain"), NotFound) {
		t.Error("Is on a non-AppError should be false")
	}
}

func TestWithDetails(t *testing.T) {
	err := Newf(InvalidArgument, "bad value: %d", 7).WithDetails(map[string]any{"value": 7})
	if err.Details == nil {
		t.Error("expected Details to be set")
	}
	if err.Message != "bad value: 7" {
		t.Errorf("Message = %q, want %q", err.Message, "bad value: 7")
	}
}
