package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesKindOnly(t *testing.T) {
	err := New(NotFound, "missing")
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, Conflict))
	assert.False(t, Is(errors.New("plain error"), NotFound), "a non-*Error never matches any kind")
}

func TestWrap_PreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(TransientIO, "query failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRetryable_OnlyTransientIO(t *testing.T) {
	assert.True(t, New(TransientIO, "x").Retryable())
	assert.False(t, New(PermanentFailure, "x").Retryable())
	assert.False(t, New(Validation, "x").Retryable())
}
