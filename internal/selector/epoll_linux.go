// Copyright (c) 2024 The readypoll Authors
// Copyright (c) 2019 Andy Pan
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

//go:build linux

package selector

import (
	"os"
	"unsafe"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"

	perrors "readypoll/pkg/errors"
)

// wakerDrainPool supplies scratch buffers for draining the waker eventfd.
// Get/Put recycle the same backing array across calls (grown to 8 bytes once,
// then just resliced), so a steady-state Select loop drains the waker
// without allocating.
var wakerDrainPool bytebufferpool.Pool

// epollSelector adapts Linux epoll to the Selector contract. The waker is a
// non-blocking, close-on-exec eventfd registered under wakerToken.
type epollSelector struct {
	fd  int
	wfd int

	raw []unix.EpollEvent

	reg *registry
}

const wakerToken = ^uint64(0)

func open() (Selector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	r0, _, errno := unix.Syscall(unix.SYS_EVENTFD2, 0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC, 0)
	if errno != 0 {
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd2", errno)
	}
	s := &epollSelector{fd: epfd, wfd: int(r0), reg: newRegistry(), raw: make([]unix.EpollEvent, initEventsCap)}
	var ev unix.EpollEvent
	ev.Events = unix.EPOLLIN
	*(*uint64)(unsafe.Pointer(&ev.Fd)) = wakerToken
	if err := unix.EpollCtl(s.fd, unix.EPOLL_CTL_ADD, s.wfd, &ev); err != nil {
		_ = unix.Close(s.wfd)
		_ = unix.Close(s.fd)
		return nil, os.NewSyscallError("epoll_ctl add waker", err)
	}
	return s, nil
}

func epollEvents(i Interest, opts PollOpt) uint32 {
	var ev uint32
	if i&Readable != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if i&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	if opts&Edge != 0 {
		ev |= unix.EPOLLET
	}
	if opts&Oneshot != 0 {
		ev |= unix.EPOLLONESHOT
	}
	ev |= unix.EPOLLRDHUP
	return ev
}

func (s *epollSelector) Register(fd int, token uint64, interest Interest, opts PollOpt) error {
	var ev unix.EpollEvent
	ev.Events = epollEvents(interest, opts)
	*(*uint64)(unsafe.Pointer(&ev.Fd)) = token
	if err := unix.EpollCtl(s.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return os.NewSyscallError("epoll_ctl add", err)
	}
	s.reg.put(&Entry{FD: fd, Token: token, Interest: uint32(interest), Opts: uint8(opts)})
	return nil
}

func (s *epollSelector) Reregister(fd int, token uint64, interest Interest, opts PollOpt) error {
	if _, ok := s.reg.get(fd); !ok {
		return perrors.ErrNotFound
	}
	var ev unix.EpollEvent
	ev.Events = epollEvents(interest, opts)
	*(*uint64)(unsafe.Pointer(&ev.Fd)) = token
	if err := unix.EpollCtl(s.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return os.NewSyscallError("epoll_ctl mod", err)
	}
	s.reg.put(&Entry{FD: fd, Token: token, Interest: uint32(interest), Opts: uint8(opts)})
	return nil
}

func (s *epollSelector) Deregister(fd int) error {
	if _, ok := s.reg.get(fd); !ok {
		return perrors.ErrNotFound
	}
	if err := unix.EpollCtl(s.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return os.NewSyscallError("epoll_ctl del", err)
	}
	s.reg.delete(fd)
	return nil
}

func (s *epollSelector) Select(events []Event, timeoutMS int) ([]Event, error) {
	var n int
	var err error
	for {
		n, err = unix.EpollWait(s.fd, s.raw, timeoutMS)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return events[:0], os.NewSyscallError("epoll_wait", err)
	}

	events = events[:0]
	for i := 0; i < n; i++ {
		tok := *(*uint64)(unsafe.Pointer(&s.raw[i].Fd))
		if tok == wakerToken {
			buf := wakerDrainPool.Get()
			if cap(buf.B) < 8 {
				buf.B = make([]byte, 8)
			} else {
				buf.B = buf.B[:8]
			}
			_, _ = unix.Read(s.wfd, buf.B)
			wakerDrainPool.Put(buf)
			continue
		}
		events = append(events, Event{Token: tok, Readiness: translateEpoll(s.raw[i].Events)})
	}

	if next := growCap(len(s.raw), n); next != len(s.raw) {
		s.raw = make([]unix.EpollEvent, next)
	}
	return events, nil
}

func translateEpoll(ev uint32) Interest {
	var r Interest
	if ev&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		r |= Readable
	}
	if ev&unix.EPOLLOUT != 0 {
		r |= Writable
	}
	if ev&unix.EPOLLERR != 0 {
		r |= ErrorHint
	}
	if ev&unix.EPOLLRDHUP != 0 {
		r |= ReadClosed
	}
	if ev&unix.EPOLLHUP != 0 {
		r |= ReadClosed | WriteClosed
	}
	if ev&unix.EPOLLPRI != 0 {
		r |= Priority
	}
	return r
}

// Dump returns a snapshot of every fd currently registered, for diagnostics.
func (s *epollSelector) Dump() []Entry {
	return s.reg.dump()
}

func (s *epollSelector) Wake() error {
	var b [8]byte
	b[7] = 1
	_, err := unix.Write(s.wfd, b[:])
	if err != nil && err != unix.EAGAIN {
		return os.NewSyscallError("eventfd write", err)
	}
	return nil
}

func (s *epollSelector) Close() error {
	_ = unix.Close(s.wfd)
	return os.NewSyscallError("close", unix.Close(s.fd))
}
