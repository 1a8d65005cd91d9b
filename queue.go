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

import "sync/atomic"

// readinessQueue is an intrusive, lock-free, multi-producer single-consumer
// queue of *readinessNode, patterned after Dmitry Vyukov's MPSC algorithm
// (the same shape as the teacher's internal/netpoll async task queue,
// generalized from "enqueue a task closure" to "enqueue a readiness node").
//
// Three permanent sentinel nodes give the queue its wake and teardown
// semantics without a separate out-of-band channel:
//
//   - end: the permanent tail sentinel every real push chains onto.
//   - sleep: installed at the tail by the poller immediately before it
//     blocks in the selector; a producer that observes it as the previous
//     head knows the poller is (about to be) asleep and must call Wake.
//   - closed: installed once during teardown; further enqueues still link
//     into the list (so producers never block) but dequeue treats anything
//     at or past it as absent. The implicit queue reference of a node linked
//     after it is never released by a drain.
type readinessQueue struct {
	head atomic.Pointer[readinessNode]
	tail *readinessNode

	end    *readinessNode
	sleep  *readinessNode
	closed *readinessNode

	wake func()
}

func newReadinessQueue() *readinessQueue {
	q := &readinessQueue{
		end:    &readinessNode{},
		sleep:  &readinessNode{},
		closed: &readinessNode{},
	}
	q.head.Store(q.end)
	q.tail = q.end
	return q
}

// setWaker installs the function invoked when an enqueue observes the
// sleep marker as the previous head. It must be called before the queue is
// used concurrently.
func (q *readinessQueue) setWaker(wake func()) { q.wake = wake }

// enqueue links n onto the tail of the queue. It returns true if the
// previous head was the sleep marker, meaning the caller just woke (or is
// about to wake) a sleeping poller.
func (q *readinessQueue) enqueue(n *readinessNode) bool {
	n.next.Store(nil)
	prev := q.head.Swap(n)
	wasSleep := prev == q.sleep
	prev.next.Store(n)
	if wasSleep && q.wake != nil {
		q.wake()
	}
	return wasSleep
}

// dequeueResult mirrors the three outcomes the Vyukov algorithm produces.
type dequeueResult int

const (
	dequeueEmpty dequeueResult = iota
	dequeueData
	dequeueInconsistent
)

// dequeue pops one node from the head of the queue. Only the poller
// (single consumer) may call this.
func (q *readinessQueue) dequeue() (*readinessNode, dequeueResult) {
	tail := q.tail
	next := tail.next.Load()

	if tail == q.end {
		if next == nil {
			return nil, dequeueEmpty
		}
		q.tail = next
		tail = next
		next = next.next.Load()
	}
	if tail == q.sleep {
		if next == nil {
			return nil, dequeueEmpty
		}
		q.tail = next
		tail = next
		next = next.next.Load()
	}
	if tail == q.closed {
		return nil, dequeueEmpty
	}

	if next != nil {
		q.tail = next
		return tail, dequeueData
	}

	if q.head.Load() != tail {
		// A producer has claimed head but not yet linked prev.next; the
		// list is momentarily inconsistent. The caller should retry, or
		// rely on the next Poll's selector syscall as a wide barrier.
		return nil, dequeueInconsistent
	}

	// No more data: re-link the end sentinel so the queue stays non-empty
	// for subsequent enqueues to chain onto.
	q.enqueue(q.end)
	next = tail.next.Load()
	if next != nil {
		q.tail = next
		return tail, dequeueData
	}
	return nil, dequeueEmpty
}

// prepareForSleep installs the sleep marker at the tail, atomically, only
// if the queue is currently drained to the end sentinel. It returns false
// (installation failed) if there is pending data, in which case the caller
// must not block in the selector.
//
// If an earlier call's sleep marker is still the tail with nothing linked
// behind it, the marker is already in place and this reports true.
func (q *readinessQueue) prepareForSleep() bool {
	if q.tail == q.sleep {
		return q.sleep.next.Load() == nil
	}
	if q.tail != q.end || q.end.next.Load() != nil {
		return false
	}
	q.sleep.next.Store(nil)
	if !q.head.CompareAndSwap(q.end, q.sleep) {
		return false
	}
	q.end.next.Store(q.sleep)
	return true
}

// close installs the closed sentinel; further producer enqueues still
// succeed (so SetReadiness never blocks or panics) but the poller will
// never observe data past it again.
func (q *readinessQueue) close() {
	q.enqueue(q.closed)
}
