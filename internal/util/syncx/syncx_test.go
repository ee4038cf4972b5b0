// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package syncx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.astrophena.name/taskrelay/internal/testutil"
)

func TestProtected(t *testing.T) {
	t.Parallel()

	t.Run("read access", func(t *testing.T) {
		p := Protect(42)
		var result int
		p.ReadAccess(func(val int) {
			result = val
		})
		testutil.AssertEqual(t, result, 42)
	})

	t.Run("concurrent write access", func(t *testing.T) {
		p := Protect(make(map[string]int))
		var wg sync.WaitGroup
		for range 100 {
			wg.Go(func() {
				p.WriteAccess(func(m map[string]int) {
					m["n"]++
				})
			})
		}
		wg.Wait()

		var result int
		p.ReadAccess(func(m map[string]int) { result = m["n"] })
		testutil.AssertEqual(t, result, 100)
	})
}

func TestLazy(t *testing.T) {
	t.Parallel()

	var (
		l     Lazy[int]
		calls int
	)
	f := func() int {
		calls++
		return calls
	}
	testutil.AssertEqual(t, l.Get(f), 1)
	testutil.AssertEqual(t, l.Get(f), 1)

	var le Lazy[string]
	wantErr := errors.New("boom")
	_, err := le.GetErr(func() (string, error) { return "", wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("GetErr() error = %v, want %v", err, wantErr)
	}
}

func TestLimitedWaitGroup(t *testing.T) {
	t.Parallel()

	const limit = 3

	var (
		lwg     = NewLimitedWaitGroup(limit)
		running atomic.Int32
		peak    atomic.Int32
		done    atomic.Int32
	)
	for range 20 {
		lwg.Go(func() {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
			done.Add(1)
		})
	}
	lwg.Wait()

	testutil.AssertEqual(t, done.Load(), int32(20))
	if peak.Load() > limit {
		t.Fatalf("peak concurrency = %d, want <= %d", peak.Load(), limit)
	}
}

func TestSleep(t *testing.T) {
	t.Parallel()

	if !Sleep(context.Background(), time.Millisecond) {
		t.Error("Sleep must report a full wait")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if Sleep(ctx, time.Hour) {
		t.Error("Sleep must report cancellation")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Sleep ignored cancellation for %v", elapsed)
	}
}
