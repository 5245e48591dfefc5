package future

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errBoom = errors.New("boom")

func TestFuture_FirstSettleWins(t *testing.T) {
	tests := []struct {
		name      string
		settle    func(f *Future) bool
		value     any
		err       error
		cancelled bool
	}{
		{
			name:   "resolve",
			settle: func(f *Future) bool { return f.Resolve("v") },
			value:  "v",
		},
		{
			name:   "fail",
			settle: func(f *Future) bool { return f.Fail(errBoom) },
			err:    errBoom,
		},
		{
			name:      "cancel",
			settle:    func(f *Future) bool { return f.Cancel() },
			err:       context.Canceled,
			cancelled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New()
			assert.False(t, f.IsDone())

			require.True(t, tt.settle(f))
			assert.True(t, f.IsDone())

			assert.False(t, f.Resolve("later"))
			assert.False(t, f.Fail(errors.New("later")))
			assert.False(t, f.Cancel())

			value, err := f.Result()
			assert.Equal(t, tt.value, value)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.cancelled, f.Cancelled())
		})
	}
}

func TestFuture_Pending(t *testing.T) {
	f := New()

	_, err := f.Result()
	assert.ErrorIs(t, err, ErrPending)
	assert.NoError(t, f.Err())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.IsDone())
}

func TestFuture_FailWithoutError(t *testing.T) {
	f := New()
	require.True(t, f.Fail(nil))
	assert.Error(t, f.Err())
}

func TestFuture_Constructors(t *testing.T) {
	value, err := Resolved(1).Result()
	require.NoError(t, err)
	assert.Equal(t, 1, value)

	assert.ErrorIs(t, Failed(errBoom).Err(), errBoom)
}

func TestFuture_Wait(t *testing.T) {
	f := New()
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.Resolve("late")
	}()

	value, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", value)
}

func TestFuture_OnDone(t *testing.T) {
	f := New()
	var calls []string
	f.OnDone(func(*Future) { calls = append(calls, "first") })
	f.OnDone(func(*Future) { calls = append(calls, "second") })
	assert.Empty(t, calls)

	f.Resolve(nil)
	assert.Equal(t, []string{"first", "second"}, calls)

	// Registered after settling runs immediately
	f.OnDone(func(*Future) { calls = append(calls, "third") })
	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestFuture_Transfer(t *testing.T) {
	tests := []struct {
		name  string
		src   func() *Future
		check func(t *testing.T, dst *Future)
	}{
		{
			name: "value",
			src:  func() *Future { return Resolved("v") },
			check: func(t *testing.T, dst *Future) {
				value, err := dst.Result()
				require.NoError(t, err)
				assert.Equal(t, "v", value)
			},
		},
		{
			name: "error",
			src:  func() *Future { return Failed(errBoom) },
			check: func(t *testing.T, dst *Future) {
				assert.ErrorIs(t, dst.Err(), errBoom)
				assert.False(t, dst.Cancelled())
			},
		},
		{
			name: "cancellation",
			src: func() *Future {
				f := New()
				f.Cancel()
				return f
			},
			check: func(t *testing.T, dst *Future) {
				assert.True(t, dst.Cancelled())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := New()
			tt.src().Transfer(dst)
			require.True(t, dst.IsDone())
			tt.check(t, dst)
		})
	}
}

func TestFuture_TransferKeepsSettledDestination(t *testing.T) {
	dst := Resolved("kept")
	Failed(errBoom).Transfer(dst)

	value, err := dst.Result()
	require.NoError(t, err)
	assert.Equal(t, "kept", value)
}

func TestFuture_ConcurrentSettle(t *testing.T) {
	f := New()
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var settled bool
			switch i % 3 {
			case 0:
				settled = f.Resolve(i)
			case 1:
				settled = f.Fail(errBoom)
			default:
				settled = f.Cancel()
			}
			if settled {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
