package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyMutexSerializesSameKey(t *testing.T) {
	m := NewKeyMutex()
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, "coupon:1")
			require.NoError(t, err)
			defer release()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestKeyMutexIndependentKeys(t *testing.T) {
	m := NewKeyMutex()
	ctx := context.Background()

	release1, err := m.Acquire(ctx, "coupon:1")
	require.NoError(t, err)
	defer release1()

	// 不同 key 互不阻塞
	release2, err := m.Acquire(ctx, "coupon:2")
	require.NoError(t, err)
	release2()
}

func TestKeyMutexAcquireCancellable(t *testing.T) {
	m := NewKeyMutex()

	release, err := m.Acquire(context.Background(), "coupon:1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx, "coupon:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyMutexReleaseAllowsNextWaiter(t *testing.T) {
	m := NewKeyMutex()
	ctx := context.Background()

	release, err := m.Acquire(ctx, "coupon:1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := m.Acquire(ctx, "coupon:1")
		assert.NoError(t, err)
		defer r()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire must block until release")
	case <-time.After(20 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
}
