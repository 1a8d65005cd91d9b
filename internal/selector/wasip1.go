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

//go:build wasip1

package selector

import (
	"sync"
	"syscall"

	perrors "readypoll/pkg/errors"
)

// wasiSelector backs this library on WASI preview 1. It keeps a table of
// registered fds and, on each Select, probes every fd with a zero-byte
// non-blocking read and/or write (see pollOneoffFd); poll_oneoff itself is
// not called. Select does not wait: timeoutMS is not used, and it returns
// as soon as every fd has been probed. Wake puts a token into a one-slot
// channel, which the next Select discards.
type wasiSelector struct {
	mu      sync.Mutex
	fds     map[int]*wasiReg
	waking  bool
	wakeSig chan struct{}
}

type wasiReg struct {
	fd       int
	token    uint64
	interest Interest
	opts     PollOpt
}

func open() (Selector, error) {
	return &wasiSelector{fds: make(map[int]*wasiReg), wakeSig: make(chan struct{}, 1)}, nil
}

func (s *wasiSelector) Register(fd int, token uint64, interest Interest, opts PollOpt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fds[fd] = &wasiReg{fd: fd, token: token, interest: interest, opts: opts}
	return nil
}

func (s *wasiSelector) Reregister(fd int, token uint64, interest Interest, opts PollOpt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.fds[fd]
	if !ok {
		return perrors.ErrNotFound
	}
	r.token, r.interest, r.opts = token, interest, opts
	return nil
}

func (s *wasiSelector) Deregister(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fds[fd]; !ok {
		return perrors.ErrNotFound
	}
	delete(s.fds, fd)
	return nil
}

// Select probes every registered fd once and reports the ones found
// readable or writable; a Oneshot registration has its interest cleared
// after one report. It then discards any pending Wake token and returns
// without waiting.
func (s *wasiSelector) Select(events []Event, timeoutMS int) ([]Event, error) {
	events = events[:0]

	s.mu.Lock()
	regs := make([]*wasiReg, 0, len(s.fds))
	for _, r := range s.fds {
		regs = append(regs, r)
	}
	s.mu.Unlock()

	for _, r := range regs {
		readable, writable, err := pollOneoffFd(r.fd, r.interest, timeoutMS)
		if err != nil {
			events = append(events, Event{Token: r.token, Readiness: ErrorHint})
			continue
		}
		var ready Interest
		if readable {
			ready |= Readable
		}
		if writable {
			ready |= Writable
		}
		if ready != 0 {
			events = append(events, Event{Token: r.token, Readiness: ready})
			if r.opts&Oneshot != 0 {
				s.mu.Lock()
				r.interest = 0
				s.mu.Unlock()
			}
		}
	}

	select {
	case <-s.wakeSig:
	default:
	}
	return events, nil
}

func (s *wasiSelector) Wake() error {
	select {
	case s.wakeSig <- struct{}{}:
	default:
	}
	return nil
}

func (s *wasiSelector) Close() error {
	return nil
}

// pollOneoffFd reports whether fd looks readable and/or writable, using a
// zero-byte non-blocking Read and Write as probes: any result other than
// EAGAIN counts as ready. wasip1's syscall package does not export
// poll_oneoff, so no subscription is made; timeoutMS is not used, each fd
// costs its own syscalls, and the returned error is always nil.
func pollOneoffFd(fd int, interest Interest, timeoutMS int) (readable, writable bool, err error) {
	if interest&Readable != 0 {
		var buf [0]byte
		_, rerr := syscall.Read(fd, buf[:])
		readable = rerr != syscall.EAGAIN
	}
	if interest&Writable != 0 {
		var buf [0]byte
		_, werr := syscall.Write(fd, buf[:])
		writable = werr != syscall.EAGAIN
	}
	return readable, writable, nil
}
