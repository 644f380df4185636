package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"blogpilot/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{Attempts: 3, Base: time.Millisecond, Cap: 4 * time.Millisecond}
}

func TestDoSucceedsAfterTransientFailure(t *testing.T) {
	var retries []time.Duration
	v, err := Do(context.Background(), fastPolicy(), func(attempt int) (int, error) {
		if attempt == 1 {
			return 0, core.E(core.KindTransient, "op", "busy", nil)
		}
		return attempt, nil
	}, func(_ error, next time.Duration) { retries = append(retries, next) })

	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, []time.Duration{time.Millisecond}, retries)
}

func TestDoStopsAfterAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), func(int) (string, error) {
		calls++
		return "", errors.New("connection reset")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, "connection reset", err.Error())
	assert.Equal(t, 3, calls)
}

func TestDoNeverRetriesAuth(t *testing.T) {
	calls := 0
	authErr := &core.Error{Kind: core.KindAuth, StatusCode: 401}
	_, err := Do(context.Background(), fastPolicy(), func(int) (struct{}, error) {
		calls++
		return struct{}{}, authErr
	}, nil)

	assert.Equal(t, 1, calls)
	assert.Same(t, authErr, err)
}

func TestDoStopsOnNonRetryableTaggedError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), func(int) (int, error) {
		calls++
		return 0, core.PublishError("publish", 400, false, nil)
	}, nil)

	assert.Equal(t, 1, calls)
	assert.True(t, core.IsKind(err, core.KindPublish))
}

func TestShouldRetry(t *testing.T) {
	assert.False(t, ShouldRetry(nil))
	assert.False(t, ShouldRetry(context.Canceled))
	assert.False(t, ShouldRetry(context.DeadlineExceeded))
	assert.True(t, ShouldRetry(core.E(core.KindTransient, "op", "timeout", context.DeadlineExceeded)))
	assert.False(t, ShouldRetry(&core.Error{Kind: core.KindAuth}))
	assert.True(t, ShouldRetry(errors.New("untagged")))
}

func TestPolicyNormalized(t *testing.T) {
	p := Policy{}.normalized()
	assert.Equal(t, DefaultPolicy(), p)

	p = Policy{Attempts: 5, Base: time.Second, Cap: time.Millisecond}.normalized()
	assert.Equal(t, time.Second, p.Cap)

	// an unset cap keeps the default rather than collapsing to the base
	p = Policy{Attempts: 2, Base: time.Second}.normalized()
	assert.Equal(t, 30*time.Second, p.Cap)
	assert.Equal(t, time.Second, p.Base)
}
