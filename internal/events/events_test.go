package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_ExactAndWildcardPatterns(t *testing.T) {
	ctx := context.Background()
	var exact, wildcard []Type

	r := NewRegistry()
	r.Subscribe("job.completed", func(ctx context.Context, ev Event) error {
		exact = append(exact, ev.Type)
		return nil
	})
	r.Subscribe("job.*", func(ctx context.Context, ev Event) error {
		wildcard = append(wildcard, ev.Type)
		return nil
	})

	require.NoError(t, r.Dispatch(ctx, Event{Type: JobCompleted}))
	require.NoError(t, r.Dispatch(ctx, Event{Type: JobFailed}))

	assert.Equal(t, []Type{JobCompleted}, exact, "the exact-match subscriber only fires for job.completed")
	assert.Equal(t, []Type{JobCompleted, JobFailed}, wildcard, "the job.* subscriber fires for every job event")
}

func TestDispatch_StopsAtFirstHandlerError(t *testing.T) {
	ctx := context.Background()
	called := false

	r := NewRegistry()
	r.Subscribe("job.*", func(ctx context.Context, ev Event) error {
		return errors.New("boom")
	})
	r.Subscribe("job.*", func(ctx context.Context, ev Event) error {
		called = true
		return nil
	})

	err := r.Dispatch(ctx, Event{Type: JobFailed})
	require.Error(t, err)
	assert.False(t, called, "a subscriber after a failing one must not run")
}
