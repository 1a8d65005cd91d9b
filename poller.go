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
	"time"

	"readypoll/internal/selector"
	perrors "readypoll/pkg/errors"
)

// Poller is a thread-safe handle combining one SystemSelector (OS-handle
// readiness) with one ReadinessQueue (user-space readiness). A process may
// open as many independent Pollers as it needs; each owns its own selector
// fd/handle and queue.
type Poller struct {
	sel   selector.Selector
	queue *readinessQueue
	reg   registrar

	// lockState packs {locked:1 bit, waiters: rest} so Poll calls from
	// multiple goroutines serialise without a full mutex on the fast path:
	// an uncontended caller only pays a single CAS.
	lockState atomic.Uint32
	mu        sync.Mutex
	cond      *sync.Cond

	closed atomic.Bool

	raw []selector.Event
}

const pollLockedBit = 1

// New opens a Poller, creating the platform-appropriate SystemSelector
// (epoll, kqueue, IOCP, or WASI preview 1) and its waker.
func New() (*Poller, error) {
	sel, err := selector.Open()
	if err != nil {
		return nil, err
	}
	p := &Poller{
		sel:   sel,
		queue: newReadinessQueue(),
		raw:   make([]selector.Event, 0, 128),
	}
	p.cond = sync.NewCond(&p.mu)
	p.reg = registrar{id: pollerIDSeq.Add(1), sel: sel}
	p.queue.setWaker(func() { _ = p.sel.Wake() })
	return p, nil
}

// Register binds source to this Poller under token, delivering events
// matching interest subject to opts. token must not be WakerToken and
// interest must not be empty.
func (p *Poller) Register(source EventSource, token Token, interest Interest, opts PollOpt) error {
	if p.closed.Load() {
		return perrors.ErrPollerShutdown
	}
	if token == WakerToken || interest.Empty() {
		return perrors.ErrInvalidArgument
	}
	return source.register(&p.reg, token, interest, opts)
}

// Reregister changes the token/interest/opts of an already-registered
// source.
func (p *Poller) Reregister(source EventSource, token Token, interest Interest, opts PollOpt) error {
	if p.closed.Load() {
		return perrors.ErrPollerShutdown
	}
	if token == WakerToken || interest.Empty() {
		return perrors.ErrInvalidArgument
	}
	return source.reregister(&p.reg, token, interest, opts)
}

// Deregister removes source from this Poller.
func (p *Poller) Deregister(source EventSource) error {
	if p.closed.Load() {
		return perrors.ErrPollerShutdown
	}
	return source.deregister(&p.reg)
}

// Poll blocks until at least one event is ready, timeout elapses, or the
// Poller is closed from another goroutine, filling events (whose previous
// contents are discarded) and returning how many were delivered. A nil
// timeout blocks indefinitely; a zero timeout returns immediately with
// whatever is already ready. Concurrent Poll calls on the same Poller are
// serialised; each one either drives the wait itself or is woken once the
// driving call returns.
func (p *Poller) Poll(events *EventBuffer, timeout *time.Duration) (int, error) {
	if p.closed.Load() {
		return 0, perrors.ErrPollerShutdown
	}
	p.lockPoll()
	defer p.unlockPoll()
	return p.pollLocked(events, timeout)
}

// PollUnsync is Poll without the cross-goroutine serialisation lock, for
// callers who can prove by construction that no other goroutine will ever
// call Poll/PollUnsync on this Poller concurrently. It avoids the CAS and
// (on contention) sync.Cond overhead Poll pays to stay safe for the
// general case.
func (p *Poller) PollUnsync(events *EventBuffer, timeout *time.Duration) (int, error) {
	if p.closed.Load() {
		return 0, perrors.ErrPollerShutdown
	}
	return p.pollLocked(events, timeout)
}

func (p *Poller) pollLocked(events *EventBuffer, timeout *time.Duration) (int, error) {
	events.reset()

	if p.drainQueue(events) > 0 || events.full() {
		return events.Len(), nil
	}

	timeoutMS := -1
	if timeout != nil {
		timeoutMS = int(timeout.Milliseconds())
	}
	if !p.queue.prepareForSleep() {
		// A producer raced us in between the drain above and here; don't
		// risk a long block that would starve it. Poll the selector
		// without blocking instead, then drain once more below.
		timeoutMS = 0
	}

	raw, err := p.sel.Select(p.raw[:0], timeoutMS)
	if err != nil {
		return events.Len(), err
	}
	p.raw = raw

	for _, ev := range raw {
		if !events.push(Event{token: Token(ev.Token), readiness: Interest(ev.Readiness)}) {
			break
		}
	}

	p.drainQueue(events)
	return events.Len(), nil
}

// drainQueue pops ready user-space nodes into events until either the
// queue is empty or events is full, returning how many it delivered.
//
// A Level-triggered node whose readiness is still effective after delivery
// is relinked onto the tail instead of left unqueued, so the next Poll call
// (or a later drain within this same call, once older entries are caught
// up) reports it again — matching spec.md §4.4's level-triggered
// requirement. Relinking the same node can otherwise loop forever within a
// single drain if it's the only thing in the queue, so `until` remembers
// the first node this call relinked; once dequeue returns that same node a
// second time, every node still in the queue is one already visited this
// round, so the drain relinks that node once more and stops rather than
// spinning on it.
func (p *Poller) drainQueue(events *EventBuffer) int {
	delivered := 0
	var until *readinessNode
	for !events.full() {
		node, result := p.queue.dequeue()
		switch result {
		case dequeueEmpty:
			return delivered
		case dequeueInconsistent:
			continue
		}
		if node == until {
			p.queue.enqueue(node)
			return delivered
		}

		s := node.state.Load()
		if stateDropped(s) {
			node.clearQueued()
			node.release()
			continue
		}

		effective := stateReadiness(s) & stateInterest(s)
		if effective == 0 {
			node.clearQueued()
			continue
		}

		events.push(Event{token: node.token(), readiness: effective})
		delivered++

		switch {
		case statePollOpt(s).IsOneshot():
			node.clearInterestBits(effective)
			node.clearQueued()
		case statePollOpt(s).IsLevel():
			// Leave the queued bit set and relink immediately instead of
			// going through SetReadiness's CAS gate: dequeue just
			// unlinked this node so the drain loop exclusively owns it,
			// and keeping the bit set the whole time stops a concurrent
			// SetReadiness from relinking it a second time underneath us.
			if until == nil {
				until = node
			}
			p.queue.enqueue(node)
		default:
			node.clearQueued()
		}
	}
	return delivered
}

// Close tears down the selector and the readiness queue. It is idempotent;
// Poll and PollUnsync calls that begin after Close has run return
// ErrPollerShutdown (a call already in progress is not made to return it).
func (p *Poller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.queue.close()
	return p.sel.Close()
}

func (p *Poller) lockPoll() {
	if p.lockState.CompareAndSwap(0, pollLockedBit) {
		return
	}
	p.mu.Lock()
	for {
		cur := p.lockState.Load()
		if cur&pollLockedBit == 0 {
			if p.lockState.CompareAndSwap(cur, cur|pollLockedBit) {
				p.mu.Unlock()
				return
			}
			continue
		}
		if p.lockState.CompareAndSwap(cur, cur+2) {
			break
		}
	}
	for {
		p.cond.Wait()
		cur := p.lockState.Load()
		if cur&pollLockedBit != 0 {
			continue
		}
		if p.lockState.CompareAndSwap(cur, (cur-2)|pollLockedBit) {
			break
		}
	}
	p.mu.Unlock()
}

func (p *Poller) unlockPoll() {
	for {
		cur := p.lockState.Load()
		next := cur &^ pollLockedBit
		if !p.lockState.CompareAndSwap(cur, next) {
			continue
		}
		if next>>1 > 0 {
			p.mu.Lock()
			p.cond.Signal()
			p.mu.Unlock()
		}
		return
	}
}

// DumpRegistrations returns a snapshot of every fd currently registered
// with this Poller's SystemSelector, in ascending fd order, or nil on
// back-ends without a registration table; it backs the registration-dump
// test and the demo's /registrations admin route, never the hot path.
func (p *Poller) DumpRegistrations() []selector.Entry {
	type dumper interface{ Dump() []selector.Entry }
	if d, ok := p.sel.(dumper); ok {
		return d.Dump()
	}
	return nil
}
