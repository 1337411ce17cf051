package promise

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func await[T any](t *testing.T, p *Promise[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := p.Await(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "promise never settled")
	return v, err
}

func TestSettlesOnce(t *testing.T) {
	var resolve func(int)
	var reject func(error)
	p := New(func(res func(int), rej func(error)) {
		resolve, reject = res, rej
	})
	assert.Equal(t, Pending, p.State())

	resolve(1)
	resolve(2)
	reject(errors.New("late"))

	v, err, ok := p.Result()
	require.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, Resolved, p.State())
}

func TestExecutorPanicRejects(t *testing.T) {
	p := New(func(func(string), func(error)) {
		panic("boom")
	})

	_, err := await(t, p)
	assert.ErrorIs(t, err, ErrPanic)
	assert.Equal(t, Rejected, p.State())
}

func TestThenMapsValue(t *testing.T) {
	p := Then(Resolve(20), func(v int) (string, error) {
		if v != 20 {
			return "", errors.New("unexpected")
		}
		return "twenty", nil
	})

	v, err := await(t, p)
	require.NoError(t, err)
	assert.Equal(t, "twenty", v)
}

func TestThenPassesRejectionThrough(t *testing.T) {
	sentinel := errors.New("sentinel")
	called := false
	p := Then(Reject[int](sentinel), func(int) (int, error) {
		called = true
		return 0, nil
	})

	_, err := await(t, p)
	assert.ErrorIs(t, err, sentinel)
	assert.False(t, called)
}

func TestCatchRecovers(t *testing.T) {
	p := Reject[int](errors.New("fail")).Catch(func(err error) (int, error) {
		return 42, nil
	})

	v, err := await(t, p)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFinallyKeepsOutcome(t *testing.T) {
	sentinel := errors.New("sentinel")
	runs := 0

	ok := Resolve("x").Finally(func() { runs++ })
	bad := Reject[string](sentinel).Finally(func() { runs++ })

	v, err := await(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	_, err = await(t, bad)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, runs)
}

func TestContinuationPanicRejectsDerived(t *testing.T) {
	p := Then(Resolve(1), func(int) (int, error) {
		panic("handler")
	})

	_, err := await(t, p)
	assert.ErrorIs(t, err, ErrPanic)
}

func TestContinuationsRunInRegistrationOrder(t *testing.T) {
	var resolve func(int)
	p := New(func(res func(int), _ func(error)) { resolve = res })

	var mu sync.Mutex
	var order []int
	var last *Promise[int]
	for i := 0; i < 5; i++ {
		i := i
		last = Then(p, func(int) (int, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		})
	}

	resolve(0)
	_, err := await(t, last)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestLateContinuationIsDeferred(t *testing.T) {
	settled := Resolve(1)
	var order []string
	var inner *Promise[int]

	outer := Handle(settled, func(int) *Promise[int] {
		inner = Then(settled, func(v int) (int, error) {
			order = append(order, "inner")
			return v, nil
		})
		order = append(order, "outer")
		return nil
	}, Reject[int])

	_, err := await(t, outer)
	require.NoError(t, err)
	_, err = await(t, inner)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestChainFlattensNestedPromise(t *testing.T) {
	var resolveInner func(string)
	inner := New(func(res func(string), _ func(error)) { resolveInner = res })

	p := Chain(Resolve(1), func(int) *Promise[string] { return inner })

	select {
	case <-p.Done():
		t.Fatal("outer settled before inner")
	case <-time.After(10 * time.Millisecond):
	}

	resolveInner("done")
	v, err := await(t, p)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestDeepChainDoesNotGrowStack(t *testing.T) {
	const depth = 100000

	var resolve func(int)
	root := New(func(res func(int), _ func(error)) { resolve = res })

	p := root
	for i := 0; i < depth; i++ {
		p = Chain(p, func(v int) *Promise[int] { return Resolve(v + 1) })
	}

	resolve(0)
	v, err := await(t, p)
	require.NoError(t, err)
	assert.Equal(t, depth, v)
}

func TestAwaitHonoursContext(t *testing.T) {
	p := New(func(func(int), func(error)) {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Pending, p.State())
}

func TestConcurrentSettlement(t *testing.T) {
	var resolve func(int)
	p := New(func(res func(int), _ func(error)) { resolve = res })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resolve(i)
		}(i)
	}
	wg.Wait()

	_, _, ok := p.Result()
	assert.True(t, ok)
	assert.Equal(t, Resolved, p.State())
}
