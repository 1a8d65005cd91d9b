// Copyright (c) 2024 The readypoll Authors
// Copyright (c) 2022 The rcproxy Authors
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

// Package selector implements the per-platform SystemSelector back-ends
// (epoll, kqueue, IOCP, WASI preview 1) behind a single readiness-oriented
// interface, plus the registration table shared by the Unix back-ends.
package selector

import (
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/petar/GoLLRB/llrb"
)

// Entry mirrors the kernel's true subscription state for one fd, so
// Reregister/Deregister can diff against what was actually asked for last
// and so a debug dump can show the live registration set in fd order.
type Entry struct {
	FD       int
	Token    uint64
	Interest uint32
	Opts     uint8
}

// Less implements llrb.Item, ordering entries by fd.
func (e *Entry) Less(than llrb.Item) bool {
	return e.FD < than.(*Entry).FD
}

// registry is the SystemSelector's fd -> *Entry table. Lookups and updates
// come from arbitrary goroutines calling Register/Reregister/Deregister
// concurrently with the poller goroutine calling Select, so the primary
// index is the lock-free cornelk/hashmap; the GoLLRB ordered tree is a
// secondary index kept in step under a plain mutex purely for diagnostics
// (Dump), never consulted on the hot path.
type registry struct {
	table hashmap.HashMap

	mu      sync.Mutex
	ordered *llrb.LLRB
}

func newRegistry() *registry {
	return &registry{ordered: llrb.New()}
}

func (r *registry) get(fd int) (*Entry, bool) {
	v, ok := r.table.Get(fd)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

func (r *registry) put(e *Entry) {
	r.table.Insert(e.FD, e)
	r.mu.Lock()
	r.ordered.ReplaceOrInsert(e)
	r.mu.Unlock()
}

func (r *registry) delete(fd int) {
	r.table.Del(fd)
	r.mu.Lock()
	r.ordered.Delete(&Entry{FD: fd})
	r.mu.Unlock()
}

func (r *registry) len() int {
	return r.table.Len()
}

// Dump returns a snapshot of every registered fd in ascending order, used
// by tests and the admin surface to verify invariants (e.g. that a
// deregistered fd is really gone).
func (r *registry) dump() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, r.ordered.Len())
	r.ordered.AscendGreaterOrEqual(&Entry{FD: -1}, func(i llrb.Item) bool {
		out = append(out, *i.(*Entry))
		return true
	})
	return out
}
