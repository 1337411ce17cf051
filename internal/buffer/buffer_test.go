package buffer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/sentry-envelope-transport/internal/promise"
)

func pending() (*promise.Promise[int], func(int)) {
	var resolve func(int)
	p := promise.New(func(res func(int), _ func(error)) { resolve = res })
	return p, resolve
}

func after(mock *clock.Mock, d time.Duration, v int) func() *promise.Promise[int] {
	return func() *promise.Promise[int] {
		return promise.New(func(resolve func(int), _ func(error)) {
			mock.AfterFunc(d, func() { resolve(v) })
		})
	}
}

func awaitBool(t *testing.T, p *promise.Promise[bool]) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := p.Await(ctx)
	require.NoError(t, err)
	return v
}

func TestAddRejectsWhenFull(t *testing.T) {
	buf := New[int](3)

	for i := 0; i < 3; i++ {
		p, _ := pending()
		got := buf.Add(func() *promise.Promise[int] { return p })
		assert.Same(t, p, got)
	}
	require.Equal(t, 3, buf.Len())

	called := false
	rejected := buf.Add(func() *promise.Promise[int] {
		called = true
		return promise.Resolve(0)
	})

	_, err, ok := rejected.Result()
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.False(t, called, "producer must not run when the buffer is full")
	assert.Equal(t, 3, buf.Len())
}

func TestDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New[int](0).Capacity())
	assert.Equal(t, 7, New[int](7).Capacity())
}

func TestSettledTasksLeaveBuffer(t *testing.T) {
	buf := New[int](2)

	ok, resolveOK := pending()
	var rejectBad func(error)
	bad := promise.New(func(_ func(int), rej func(error)) { rejectBad = rej })

	buf.Add(func() *promise.Promise[int] { return ok })
	buf.Add(func() *promise.Promise[int] { return bad })
	require.Equal(t, 2, buf.Len())

	resolveOK(1)
	assert.Eventually(t, func() bool { return buf.Len() == 1 }, time.Second, time.Millisecond)

	rejectBad(errors.New("failed"))
	assert.Eventually(t, func() bool { return buf.Len() == 0 }, time.Second, time.Millisecond)

	p, _ := pending()
	buf.Add(func() *promise.Promise[int] { return p })
	assert.Equal(t, 1, buf.Len())
}

func TestAlreadySettledTaskIsNotRetained(t *testing.T) {
	buf := New[int](1)
	buf.Add(func() *promise.Promise[int] { return promise.Resolve(1) })
	assert.Eventually(t, func() bool { return buf.Len() == 0 }, time.Second, time.Millisecond)
}

func TestFailingProducerReleasesSlot(t *testing.T) {
	buf := New[int](1)

	p := buf.Add(func() *promise.Promise[int] { panic("boom") })
	_, err, ok := p.Result()
	require.True(t, ok)
	assert.ErrorIs(t, err, promise.ErrPanic)

	assert.Eventually(t, func() bool { return buf.Len() == 0 }, time.Second, time.Millisecond)

	p = buf.Add(func() *promise.Promise[int] { return nil })
	_, err, ok = p.Result()
	require.True(t, ok)
	assert.ErrorIs(t, err, promise.ErrPanic)

	assert.Eventually(t, func() bool { return buf.Len() == 0 }, time.Second, time.Millisecond)

	var called bool
	p = buf.Add(func() *promise.Promise[int] {
		called = true
		return promise.Resolve(7)
	})
	assert.True(t, called, "slot must be free again")
	v, err, _ := p.Result()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestDrainEmptyResolvesImmediately(t *testing.T) {
	buf := New[int](1)
	d := buf.Drain(0)
	v, err, ok := d.Result()
	require.True(t, ok)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestDrainWaitsForAllTasks(t *testing.T) {
	mock := clock.NewMock()
	buf := New[int](10, WithClock(mock))

	for i, d := range []time.Duration{5, 1, 4, 2, 3} {
		buf.Add(after(mock, d*time.Millisecond, i))
	}
	require.Equal(t, 5, buf.Len())

	drained := buf.Drain(0)
	mock.Add(4 * time.Millisecond)
	assert.Equal(t, promise.Pending, drained.State())

	mock.Add(time.Millisecond)
	assert.True(t, awaitBool(t, drained))
	assert.Equal(t, 0, buf.Len())
}

func TestDrainIgnoresFailures(t *testing.T) {
	buf := New[int](4)
	var rejects []func(error)
	for i := 0; i < 3; i++ {
		buf.Add(func() *promise.Promise[int] {
			return promise.New(func(_ func(int), rej func(error)) { rejects = append(rejects, rej) })
		})
	}

	drained := buf.Drain(0)
	for _, rej := range rejects {
		rej(errors.New("failed"))
	}

	assert.True(t, awaitBool(t, drained))
	assert.Equal(t, 0, buf.Len())
}

func TestDrainTimeoutLeavesUnsettledTasks(t *testing.T) {
	mock := clock.NewMock()
	buf := New[int](10, WithClock(mock))

	for i, d := range []time.Duration{2, 4, 6, 8, 10} {
		buf.Add(after(mock, d*time.Millisecond, i))
	}

	drained := buf.Drain(8 * time.Millisecond)
	mock.Add(8 * time.Millisecond)

	assert.False(t, awaitBool(t, drained))
	require.Eventually(t, func() bool { return buf.Len() == 1 }, time.Second, time.Millisecond)

	again := buf.Drain(0)
	mock.Add(2 * time.Millisecond)

	assert.True(t, awaitBool(t, again))
	assert.Equal(t, 0, buf.Len())
}

func TestConcurrentAddNeverExceedsCapacity(t *testing.T) {
	const capacity = 10
	buf := New[int](capacity)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		produced atomic.Int64
		mu       sync.Mutex
		resolves []func(int)
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := buf.Add(func() *promise.Promise[int] {
				produced.Add(1)
				task, resolve := pending()
				mu.Lock()
				resolves = append(resolves, resolve)
				mu.Unlock()
				return task
			})
			assert.LessOrEqual(t, buf.Len(), capacity)
			if _, err, ok := p.Result(); !ok || !errors.Is(err, ErrBufferFull) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, capacity, accepted.Load())
	assert.EqualValues(t, capacity, produced.Load())
	assert.Equal(t, capacity, buf.Len())

	for _, resolve := range resolves {
		resolve(0)
	}
	assert.Eventually(t, func() bool { return buf.Len() == 0 }, time.Second, time.Millisecond)
}
