package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesClassificationFromCode(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{"index", ErrCodeSnapshotMissing, CategoryIndex, SeverityError, false},
		{"collaborator timeout", ErrCodeCollaboratorTimeout, CategoryCollaborator, SeverityWarning, true},
		{"retrieval unavailable", ErrCodeRetrievalUnavailable, CategoryCollaborator, SeverityFatal, false},
		{"validation", ErrCodeQueryEmpty, CategoryValidation, SeverityError, false},
		{"pipeline failed", ErrCodePipelineFailed, CategoryInternal, SeverityFatal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestCoreError_ErrorFormat(t *testing.T) {
	err := New(ErrCodeQueryEmpty, "query is empty", nil)
	assert.Equal(t, "[ERR_402_QUERY_EMPTY] query is empty", err.Error())
}

func TestCoreError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCodeCollaboratorUnavailable, cause)

	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
}

func TestCoreError_IsMatchesByCode(t *testing.T) {
	err := New(ErrCodeRetrievalUnavailable, "sparse and dense both down", nil)
	assert.ErrorIs(t, err, ErrRetrievalUnavailable)
	assert.NotErrorIs(t, err, ErrPipelineFailed)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestIsRetryable_WalksChain(t *testing.T) {
	inner := New(ErrCodeCollaboratorTimeout, "deadline exceeded", nil)
	wrapped := fmt.Errorf("dense search: %w", inner)

	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestGetCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(ErrCodeUnknownScope, "no such tenant", nil))
	assert.Equal(t, ErrCodeUnknownScope, GetCode(err))
	assert.Equal(t, "", GetCode(errors.New("plain")))
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return New(ErrCodeCollaboratorTimeout, "timeout", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonRetryableAbortsImmediately(t *testing.T) {
	cfg := DefaultRetryConfig()

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return New(ErrCodeInvalidInput, "bad input", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ExhaustionWrapsLastError(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2.0}

	last := New(ErrCodeCollaboratorUnavailable, "still down", nil)
	err := Retry(context.Background(), cfg, func() error { return last })

	require.Error(t, err)
	assert.ErrorIs(t, err, last)
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error {
		return New(ErrCodeCollaboratorTimeout, "timeout", nil)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryWithResult(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2.0}

	attempts := 0
	got, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, New(ErrCodeCollaboratorTimeout, "timeout", nil)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}
