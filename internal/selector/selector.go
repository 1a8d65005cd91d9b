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

package selector

// Interest/PollOpt bit layouts mirror readypoll.Interest / readypoll.PollOpt
// exactly (this package is imported by the root package, so it cannot
// import those types back; it deals in the same bit patterns as plain
// uint32/uint8 to avoid the cycle).
const (
	Readable Interest = 1 << iota
	Writable
	ErrorHint
	ReadClosed
	WriteClosed
	Priority
	AIO
	LIO
)

type Interest uint32

const (
	Edge PollOpt = 1 << iota
	Level
	Oneshot
)

type PollOpt uint8

// Event is one readiness report from a back-end's Select call.
type Event struct {
	Token     uint64
	Readiness Interest
}

// Selector is the contract every per-platform back-end (epoll, kqueue,
// IOCP, WASI preview 1) implements. All four operations are safe to call
// concurrently with each other and with a concurrent Select except where a
// specific back-end documents otherwise; Select itself is only ever called
// by the single goroutine holding the Poller's poll lock.
type Selector interface {
	// Register adds fd to the selector with the given token/interest/opts.
	Register(fd int, token uint64, interest Interest, opts PollOpt) error
	// Reregister updates fd's interest/opts. Returns ErrNotFound if fd was
	// never registered (on back-ends that track this).
	Reregister(fd int, token uint64, interest Interest, opts PollOpt) error
	// Deregister removes fd. Returns ErrNotFound if fd isn't registered.
	Deregister(fd int) error
	// Select blocks up to timeoutMS (or forever if timeoutMS < 0, or
	// returns immediately if timeoutMS == 0), appending reported events to
	// events[:0:cap(events)] and returning the slice and any error. EINTR
	// is retried internally; it is never returned to the caller.
	Select(events []Event, timeoutMS int) ([]Event, error)
	// Wake unblocks a concurrent Select call from any goroutine.
	Wake() error
	// Close releases the underlying OS handle(s).
	Close() error
}

// Open constructs the platform-appropriate back-end.
func Open() (Selector, error) {
	return open()
}
