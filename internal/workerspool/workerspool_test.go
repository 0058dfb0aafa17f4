// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_ForEach(t *testing.T) {
	for _, parallelism := range []int{0, 1, 3, -1} {
		pool := New(parallelism)
		var running, maxRunning, count atomic.Int32
		pool.ForEach(20, func(i int) {
			now := running.Add(1)
			for {
				prev := maxRunning.Load()
				if now <= prev || maxRunning.CompareAndSwap(prev, now) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			count.Add(1)
			running.Add(-1)
		})
		assert.Equal(t, int32(20), count.Load(), "parallelism=%d", parallelism)
		if parallelism > 0 {
			assert.LessOrEqual(t, int(maxRunning.Load()), parallelism, "parallelism=%d", parallelism)
		}
		if parallelism == 0 {
			assert.Equal(t, int32(1), maxRunning.Load())
		}
	}
}

func TestPool_StartIfAvailable(t *testing.T) {
	pool := New(1)
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	require.True(t, pool.StartIfAvailable(func() {
		defer wg.Done()
		<-release
	}))
	assert.False(t, pool.StartIfAvailable(func() {}), "pool should be full")
	close(release)
	wg.Wait()

	assert.False(t, New(0).StartIfAvailable(func() {}))
	assert.False(t, New(0).IsEnabled())
	assert.True(t, New(-1).IsUnlimited())
}
