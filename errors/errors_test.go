package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"storage unavailable", ErrStorageUnavailable, true},
		{"rate limited", ErrRateLimited, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"value out of range", ErrValueOutOfRange, false},
		{"unknown device", ErrUnknownDevice, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"connection in message", fmt.Errorf("connection refused"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"value out of range", ErrValueOutOfRange, true},
		{"timestamp implausible", ErrTimestampImplausible, true},
		{"invalid device id", ErrInvalidDeviceID, true},
		{"empty batch", ErrEmptyBatch, true},
		{"batch too large", ErrBatchTooLarge, true},
		{"no valid records", ErrNoValidRecords, true},
		{"unknown device", ErrUnknownDevice, true},
		{"invalid retention", ErrInvalidRetention, true},
		{"storage unavailable", ErrStorageUnavailable, false},
		{"wrapped validation", fmt.Errorf("record 3: %w", ErrValueOutOfRange), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsValidation(t *testing.T) {
	if !IsValidation(ErrValueOutOfRange) {
		t.Error("expected ErrValueOutOfRange to be a validation error")
	}
	if IsValidation(ErrUnknownDevice) {
		t.Error("expected ErrUnknownDevice not to be a validation error")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil defaults transient", nil, ErrorTransient},
		{"validation is invalid", ErrInvalidDeviceID, ErrorInvalid},
		{"config is fatal", ErrInvalidConfig, ErrorFatal},
		{"storage is transient", ErrStorageUnavailable, ErrorTransient},
		{"unknown is transient", fmt.Errorf("mystery"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("expected %v, got %v", test.expected, got)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("boom")

	wrapped := Wrap(base, "Store", "Append", "persist sample")
	if wrapped == nil {
		t.Fatal("expected non-nil wrapped error")
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should unwrap to base")
	}
	want := "Store.Append: persist sample failed: boom"
	if wrapped.Error() != want {
		t.Errorf("expected %q, got %q", want, wrapped.Error())
	}

	if Wrap(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("boom")

	transient := WrapTransient(base, "Store", "Append", "persist")
	if !IsTransient(transient) {
		t.Error("WrapTransient result should be transient")
	}
	if !errors.Is(transient, base) {
		t.Error("classified error should unwrap to base")
	}

	invalid := WrapInvalid(base, "Validator", "Validate", "check")
	if !IsInvalid(invalid) {
		t.Error("WrapInvalid result should be invalid")
	}

	fatal := WrapFatal(base, "Config", "Load", "parse")
	if !IsFatal(fatal) {
		t.Error("WrapFatal result should be fatal")
	}

	if WrapTransient(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil should return nil")
	}

	var ce *ClassifiedError
	if !errors.As(transient, &ce) {
		t.Fatal("expected ClassifiedError")
	}
	if ce.Component != "Store" || ce.Operation != "Append" {
		t.Errorf("unexpected component/operation: %s/%s", ce.Component, ce.Operation)
	}
	if !strings.Contains(ce.Error(), "persist failed") {
		t.Errorf("unexpected message: %s", ce.Error())
	}
}
