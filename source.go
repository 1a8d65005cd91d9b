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
	"sync/atomic"

	"readypoll/internal/selector"
	perrors "readypoll/pkg/errors"
)

var pollerIDSeq atomic.Uint64

// registrar is the capability a Poller hands to an EventSource's
// register/reregister/deregister methods: a route to the Poller's
// SystemSelector for OS handles, and the Poller's own id for the
// CrossPoller guard.
type registrar struct {
	id  uint64
	sel selector.Selector
}

// EventSource is anything a Poller can register: an OS handle (TCPListener,
// TCPStream, UDPSocket, UnixListener, UnixStream, PipeSource, or the
// generic FD) or a Registration. Implementations are expected to embed
// crossPollerGuard and reject being registered with a second Poller while
// still bound to a first.
type EventSource interface {
	register(r *registrar, token Token, interest Interest, opts PollOpt) error
	reregister(r *registrar, token Token, interest Interest, opts PollOpt) error
	deregister(r *registrar) error
}

// crossPollerGuard enforces the invariant that one source is registered
// with at most one Poller at a time, matching spec.md's CrossPoller
// invariant. bound stores id+1 so that 0 can mean "unbound".
type crossPollerGuard struct {
	bound atomic.Uint64
}

func (g *crossPollerGuard) bind(id uint64) error {
	if g.bound.CompareAndSwap(0, id+1) {
		return nil
	}
	if g.bound.Load() == id+1 {
		return perrors.ErrAlreadyRegistered
	}
	return perrors.ErrCrossPoller
}

func (g *crossPollerGuard) check(id uint64) error {
	bound := g.bound.Load()
	if bound == 0 {
		return perrors.ErrNotFound
	}
	if bound != id+1 {
		return perrors.ErrCrossPoller
	}
	return nil
}

func (g *crossPollerGuard) unbind() {
	g.bound.Store(0)
}
