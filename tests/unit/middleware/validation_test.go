package middleware_test

import (
	"strings"
	"testing"

	. "marketpulse/pkg/api/middleware"
)

func TestValidator_ValidateJobType_AcceptsAllowed(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	for _, jobType := range []string{"feed_fetch", "content_process", "daily_analysis", "cleanup"} {
		if err := v.ValidateJobType(jobType); err != nil {
			t.Errorf("expected job type '%s' to be valid, got %v", jobType, err)
		}
	}
}

func TestValidator_ValidateJobType_RejectsUnknown(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	if err := v.ValidateJobType("shell_exec"); err == nil {
		t.Error("expected shell_exec job type to be rejected")
	}
}

func TestValidator_ValidatePayloadSize_AcceptsSmallPayload(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	if err := v.ValidatePayloadSize([]byte(`{"source_id":"abc"}`)); err != nil {
		t.Errorf("expected small payload to be valid, got %v", err)
	}
}

func TestValidator_ValidatePayloadSize_RejectsOversized(t *testing.T) {
	config := DefaultValidatorConfig()
	config.MaxPayloadBytes = 10
	v := NewValidator(config)

	if err := v.ValidatePayloadSize([]byte(strings.Repeat("x", 100))); err == nil {
		t.Error("expected oversized payload to be rejected")
	}
}

func TestValidator_ValidateDedupKey_RejectsTooLong(t *testing.T) {
	config := DefaultValidatorConfig()
	config.MaxDedupKeyLen = 5
	v := NewValidator(config)

	if err := v.ValidateDedupKey("way-too-long-dedup-key"); err == nil {
		t.Error("expected too long dedup key to be rejected")
	}
}

func TestValidator_ValidateDedupKey_AcceptsWithinBound(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	if err := v.ValidateDedupKey("2026-07-31"); err != nil {
		t.Errorf("expected dedup key to be valid, got %v", err)
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Field:   "payload",
		Message: "is required",
	}

	expected := "payload: is required"
	if err.Error() != expected {
		t.Errorf("expected '%s', got '%s'", expected, err.Error())
	}
}
