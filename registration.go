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

import perrors "readypoll/pkg/errors"

// Registration is the owning half of a user-space readiness source: the
// value passed to Poller.Register, and the handle that can later update
// the interest set, token, or poll options it was created with.
type Registration struct {
	node  *readinessNode
	guard crossPollerGuard
}

// SetReadiness is the broadcast half of a user-space readiness source: a
// small value safe to clone and hand to any number of goroutines, whose
// only capability is toggling readiness bits on the node it was paired
// with.
type SetReadiness struct {
	node *readinessNode
}

// NewRegistration creates a readiness source with no backing OS handle:
// pair the Registration with p.Register to receive events, and give the
// SetReadiness to whatever code determines readiness (a worker goroutine
// finishing a task, a condition becoming true, and so on).
func NewRegistration(p *Poller, token Token, interest Interest, opts PollOpt) (*Registration, *SetReadiness) {
	node := newReadinessNode(p.queue, token, interest, opts)
	return &Registration{node: node}, &SetReadiness{node: node}
}

func (r *Registration) register(reg *registrar, token Token, interest Interest, opts PollOpt) error {
	if token == WakerToken || interest.Empty() {
		return perrors.ErrInvalidArgument
	}
	if err := r.guard.bind(reg.id); err != nil {
		return err
	}
	r.node.update(token, interest, opts)
	return nil
}

func (r *Registration) reregister(reg *registrar, token Token, interest Interest, opts PollOpt) error {
	if token == WakerToken || interest.Empty() {
		return perrors.ErrInvalidArgument
	}
	if err := r.guard.check(reg.id); err != nil {
		if err == perrors.ErrNotFound {
			return perrors.ErrInvalidArgument
		}
		return err
	}
	r.node.update(token, interest, opts)
	return nil
}

func (r *Registration) deregister(reg *registrar) error {
	if err := r.guard.check(reg.id); err != nil {
		return err
	}
	r.guard.unbind()
	// Push the node through the readiness queue so Poll's drain loop sees
	// the dropped flag and releases the queue's implicit reference, even
	// if SetReadiness is never called again for this node.
	r.node.setDroppedAndEnqueue()
	r.node.release()
	return nil
}

// Update changes the interest/token/opts of an already-registered
// Registration. p must be the same Poller the Registration was registered
// with; callers must serialise their own calls to Update (and to Reregister
// through the owning Poller), since the node only guards against torn reads
// of a single update, not against two writers racing.
func (r *Registration) Update(p *Poller, token Token, interest Interest, opts PollOpt) error {
	if interest.Empty() {
		return perrors.ErrInvalidArgument
	}
	if err := r.guard.check(p.reg.id); err != nil {
		return err
	}
	r.node.update(token, interest, opts)
	return nil
}

// SetReadiness ORs interest into the node's readiness bits, enqueueing it
// onto its Poller's ReadinessQueue (and waking a sleeping poller) if this
// call newly made it ready.
func (s SetReadiness) SetReadiness(interest Interest) error {
	s.node.setReadiness(interest)
	return nil
}

// Readiness returns the node's currently observed readiness bits.
func (s SetReadiness) Readiness() Interest {
	return s.node.readiness()
}
