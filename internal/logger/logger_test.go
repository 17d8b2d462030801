package logger

import (
	"context"
	"testing"
)

func TestWithCorrelationID_And_CorrelationIDFromContext(t *testing.T) {
	ctx := context.Background()
	correlationID := "job-12345"

	// Initially empty
	if got := CorrelationIDFromContext(ctx); got != "" {
		t.Errorf("CorrelationIDFromContext() on empty ctx = %v, want empty", got)
	}

	// After setting
	ctx = WithCorrelationID(ctx, correlationID)
	if got := CorrelationIDFromContext(ctx); got != correlationID {
		t.Errorf("CorrelationIDFromContext() = %v, want %v", got, correlationID)
	}
}

func TestFromContext_WithCorrelationID(t *testing.T) {
	base := New()
	ctx := context.Background()
	correlationID := "job-67890"

	// Without correlation ID - should return base logger (not nil)
	logger := FromContext(ctx, base)
	if logger == nil {
		t.Error("FromContext() returned nil")
	}

	// With correlation ID - should return logger with correlation_id attached
	ctx = WithCorrelationID(ctx, correlationID)
	loggerWithID := FromContext(ctx, base)
	if loggerWithID == nil {
		t.Error("FromContext() with correlation ID returned nil")
	}
}

func TestNew_ReturnsLogger(t *testing.T) {
	logger := New()
	if logger == nil {
		t.Error("New() returned nil")
	}
}
