package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyDelay(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Factor: 2, MaxDelay: 60 * time.Second}
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 60 * time.Second},
		{1000, 60 * time.Second},
		{-1, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.n), "n=%d", tt.n)
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	p := Policy{BaseDelay: time.Millisecond, Factor: 2, MaxDelay: 5 * time.Millisecond, MaxAttempts: 5}
	calls := 0
	attempts, err := p.Do(context.Background(), nil, func(context.Context, int) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	p := Policy{BaseDelay: time.Millisecond, MaxAttempts: 5}
	attempts, err := p.Do(context.Background(), func(err error) bool { return !errors.Is(err, fatal) },
		func(context.Context, int) error { return fatal })
	assert.ErrorIs(t, err, fatal)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, attempts)
}

func TestDoExhausts(t *testing.T) {
	boom := errors.New("boom")
	p := Policy{BaseDelay: time.Millisecond, Factor: 1, MaxAttempts: 3}
	attempts, err := p.Do(context.Background(), nil, func(context.Context, int) error { return boom })
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
}

type hinted struct{ wait time.Duration }

func (h hinted) Error() string { return "slow down" }
func (h hinted) RetryAfterHint() time.Duration { return h.wait }

func TestDoHonoursHintAndContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p := Policy{BaseDelay: time.Millisecond, MaxAttempts: 3}
	start := time.Now()
	attempts, err := p.Do(ctx, nil, func(context.Context, int) error { return hinted{wait: time.Hour} })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), time.Second)
}
