// Copyright (c) 2024 The readypoll Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package readypoll

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEmptyDequeue(t *testing.T) {
	q := newReadinessQueue()
	n, result := q.dequeue()
	assert.Nil(t, n)
	assert.Equal(t, dequeueEmpty, result)
}

func TestQueueFIFOOrder(t *testing.T) {
	q := newReadinessQueue()
	n1 := &readinessNode{queue: q}
	n2 := &readinessNode{queue: q}
	n3 := &readinessNode{queue: q}

	q.enqueue(n1)
	q.enqueue(n2)
	q.enqueue(n3)

	for _, want := range []*readinessNode{n1, n2, n3} {
		got, result := q.dequeue()
		require.Equal(t, dequeueData, result)
		assert.Same(t, want, got)
	}

	_, result := q.dequeue()
	assert.Equal(t, dequeueEmpty, result)
}

func TestQueuePrepareForSleepAndWake(t *testing.T) {
	var woke atomic.Bool
	q := newReadinessQueue()
	q.setWaker(func() { woke.Store(true) })

	ok := q.prepareForSleep()
	assert.True(t, ok, "an empty queue should accept the sleep marker")

	n := &readinessNode{queue: q}
	wasSleep := q.enqueue(n)
	assert.True(t, wasSleep, "enqueue onto a sleeping queue reports the wake")
	assert.True(t, woke.Load(), "the waker callback must fire")

	got, result := q.dequeue()
	require.Equal(t, dequeueData, result)
	assert.Same(t, n, got)
}

func TestQueuePrepareForSleepFailsWithPendingData(t *testing.T) {
	q := newReadinessQueue()
	n := &readinessNode{queue: q}
	q.enqueue(n)

	ok := q.prepareForSleep()
	assert.False(t, ok, "must not install the sleep marker over pending data")
}

func TestQueueCloseStopsFurtherDelivery(t *testing.T) {
	q := newReadinessQueue()
	n := &readinessNode{queue: q}
	q.enqueue(n)

	got, result := q.dequeue()
	require.Equal(t, dequeueData, result)
	assert.Same(t, n, got)

	q.close()

	after := &readinessNode{queue: q}
	// Producers must never block or panic once the queue is closed.
	assert.NotPanics(t, func() { q.enqueue(after) })

	_, result = q.dequeue()
	assert.Equal(t, dequeueEmpty, result, "nothing linked after the closed marker is delivered")
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := newReadinessQueue()
	const producers = 16
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.enqueue(&readinessNode{queue: q})
			}
		}()
	}
	wg.Wait()

	count := 0
	for {
		_, result := q.dequeue()
		if result == dequeueEmpty {
			break
		}
		if result == dequeueInconsistent {
			continue
		}
		count++
	}
	assert.Equal(t, producers*perProducer, count)
}
