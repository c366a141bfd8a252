package future

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_ResolveOnce(t *testing.T) {
	f := New[string]()

	_, _, ok := f.Peek()
	assert.False(t, ok)

	assert.True(t, f.Resolve("203.0.113.5"))
	assert.False(t, f.Resolve("198.51.100.1"), "second resolve must be ignored")
	assert.False(t, f.Fail(errors.New("late")), "fail after resolve must be ignored")

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5", v)
}

func TestValue_FailWakesAllWaiters(t *testing.T) {
	f := New[int]()
	boom := errors.New("boom")

	const waiters = 8
	var wg sync.WaitGroup
	errs := make(chan error, waiters)
	for range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Wait(context.Background())
			errs <- err
		}()
	}

	time.Sleep(10 * time.Millisecond)
	f.Fail(boom)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, boom)
	}
}

func TestValue_WaitHonoursContext(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-f.Done():
		t.Fatal("slot must still be pending")
	default:
	}
}
