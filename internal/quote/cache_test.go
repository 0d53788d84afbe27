package quote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func counter(values ...string) (FetchFunc[string], *int) {
	calls := 0
	return func(context.Context) (string, error) {
		v := values[calls%len(values)]
		calls++
		return v, nil
	}, &calls
}

func TestCache_ReusesPayloadWithinInterval(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 5, 15, 9, 30, 0, 0, time.UTC)}
	c := NewCache[string](2*time.Second, clock.Now, zap.NewNop())
	fetch, calls := counter("a", "b")

	v, ok := c.Get(context.Background(), fetch)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	clock.Advance(1999 * time.Millisecond)
	v, _ = c.Get(context.Background(), fetch)
	assert.Equal(t, "a", v)
	assert.Equal(t, 1, *calls)

	clock.Advance(time.Millisecond)
	v, _ = c.Get(context.Background(), fetch)
	assert.Equal(t, "b", v, "refresh at exactly the interval")
	assert.Equal(t, 2, *calls)
}

func TestCache_FailedRefreshKeepsPayloadAndTimestamp(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 5, 15, 9, 30, 0, 0, time.UTC)}
	c := NewCache[[]int](time.Second, clock.Now, zap.NewNop())

	v, ok := c.Get(context.Background(), func(context.Context) ([]int, error) { return []int{1, 2}, nil })
	require.True(t, ok)
	firstFetch := c.FetchedAt()

	clock.Advance(5 * time.Second)
	failing := 0
	v, ok = c.Get(context.Background(), func(context.Context) ([]int, error) {
		failing++
		return nil, errors.New("provider down")
	})
	assert.True(t, ok)
	assert.Equal(t, []int{1, 2}, v)
	assert.Equal(t, firstFetch, c.FetchedAt())

	// Still stale, so the next call retries.
	c.Get(context.Background(), func(context.Context) ([]int, error) {
		failing++
		return nil, errors.New("provider down")
	})
	assert.Equal(t, 2, failing)
}

func TestCache_EmptyAndFailingReportsAbsence(t *testing.T) {
	c := NewCache[string](time.Second, nil, nil)
	v, ok := c.Get(context.Background(), func(context.Context) (string, error) {
		return "", context.DeadlineExceeded
	})
	assert.False(t, ok)
	assert.Empty(t, v)
	assert.True(t, c.FetchedAt().IsZero())
}

func TestCache_Invalidate(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 5, 15, 9, 30, 0, 0, time.UTC)}
	c := NewCache[string](time.Minute, clock.Now, zap.NewNop())
	fetch, calls := counter("a", "b")

	c.Get(context.Background(), fetch)
	c.Invalidate()
	v, _ := c.Get(context.Background(), fetch)
	assert.Equal(t, "b", v)
	assert.Equal(t, 2, *calls)
}
