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

//go:build windows

package selector

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	perrors "readypoll/pkg/errors"
)

// iocpSelector bridges Windows' completion-based I/O model to this
// library's readiness model. Each registered socket is associated with a
// single IOCP via CreateIoCompletionPort, with its fd as the completion
// key; no reads, writes or AFD polls are issued on the caller's behalf, so
// the only completions that arrive on the port are the ones Wake posts.
//
// golang.org/x/sys/windows has no AFD poll wrapper, so readiness is probed
// instead: Select waits on the port with GetQueuedCompletionStatus for up
// to timeoutMS, then checks every registered socket with a zero-timeout
// WSAPoll (see pollHandleReadiness). Edge registrations are emulated by
// removing each reported Readable/Writable bit from the socket's interest
// until Reregister restores it; Level registrations are reported on every
// Select while ready; Oneshot clears the whole interest after one report.
type iocpSelector struct {
	port windows.Handle

	mu      sync.Mutex
	sockets map[int]*iocpSocket

	wakeToken uint64
}

type iocpSocket struct {
	handle   windows.Handle
	token    uint64
	interest Interest
	opts     PollOpt
}

const iocpWakeKey = ^uintptr(0)

func open() (Selector, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return &iocpSelector{port: port, sockets: make(map[int]*iocpSocket), wakeToken: ^uint64(0)}, nil
}

func (s *iocpSelector) Register(fd int, token uint64, interest Interest, opts PollOpt) error {
	h := windows.Handle(fd)
	if _, err := windows.CreateIoCompletionPort(h, s.port, uintptr(fd), 0); err != nil {
		return err
	}
	s.mu.Lock()
	s.sockets[fd] = &iocpSocket{handle: h, token: token, interest: interest, opts: opts}
	s.mu.Unlock()
	return nil
}

func (s *iocpSelector) Reregister(fd int, token uint64, interest Interest, opts PollOpt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sock, ok := s.sockets[fd]
	if !ok {
		return perrors.ErrNotFound
	}
	sock.token, sock.interest, sock.opts = token, interest, opts
	return nil
}

func (s *iocpSelector) Deregister(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sockets[fd]; !ok {
		return perrors.ErrNotFound
	}
	delete(s.sockets, fd)
	return nil
}

// Select polls every registered socket's readiness via a zero-timeout
// WSAPoll-equivalent check and returns the union with whatever genuine IOCP
// completions (principally the waker) arrived during timeoutMS. A real AFD
// poll group would let this block in the kernel the way epoll_wait does;
// documented above as the one place this back-end diverges from a true
// completion-driven wait.
func (s *iocpSelector) Select(events []Event, timeoutMS int) ([]Event, error) {
	events = events[:0]

	var bytes uint32
	var key uintptr
	var overlapped *windows.Overlapped
	waitMS := uint32(timeoutMS)
	if timeoutMS < 0 {
		waitMS = windows.INFINITE
	}
	err := windows.GetQueuedCompletionStatus(s.port, &bytes, &key, &overlapped, waitMS)
	if err != nil && err != windows.WAIT_TIMEOUT {
		return events, err
	}
	if err == nil && key == iocpWakeKey {
		// consumed; fall through to the readiness sweep below
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for fd, sock := range s.sockets {
		r, pollErr := pollHandleReadiness(windows.Handle(fd), sock.interest)
		if pollErr != nil {
			r |= ErrorHint
		}
		if r == 0 {
			continue
		}
		events = append(events, Event{Token: sock.token, Readiness: r})
		if sock.opts&Oneshot != 0 {
			sock.interest = 0
		} else if sock.opts&Edge != 0 {
			sock.interest &^= r & (Readable | Writable)
		}
	}
	return events, nil
}

// wsaPollFd mirrors ws2_32's WSAPOLLFD; x/sys/windows does not wrap WSAPoll
// itself, so it's called directly through the DLL the way the package's own
// unexported syscalls are generated.
type wsaPollFd struct {
	Fd      windows.Handle
	Events  int16
	Revents int16
}

const (
	pollRdNorm = 0x0100
	pollWrNorm = 0x0010
	pollHup    = 0x0002
	pollErr    = 0x0001
)

var (
	ws2_32      = windows.NewLazySystemDLL("ws2_32.dll")
	procWSAPoll = ws2_32.NewProc("WSAPoll")
)

// pollHandleReadiness issues a zero-timeout WSAPoll against a single socket
// handle, translating POLLRDNORM/POLLWRNORM/POLLHUP/POLLERR into this
// package's Interest bits. It is the closest available probe to a one-shot
// epoll_wait/kevent check without a raw AFD IOCTL.
func pollHandleReadiness(h windows.Handle, interest Interest) (Interest, error) {
	var events int16
	if interest&Readable != 0 {
		events |= pollRdNorm
	}
	if interest&Writable != 0 {
		events |= pollWrNorm
	}
	if events == 0 {
		return 0, nil
	}
	fds := []wsaPollFd{{Fd: h, Events: events}}
	ret, _, err := procWSAPoll.Call(
		uintptr(unsafe.Pointer(&fds[0])),
		uintptr(len(fds)),
		0,
	)
	if int32(ret) < 0 {
		return 0, err
	}
	if ret == 0 {
		return 0, nil
	}
	var r Interest
	revents := fds[0].Revents
	if revents&pollRdNorm != 0 {
		r |= Readable
	}
	if revents&pollWrNorm != 0 {
		r |= Writable
	}
	if revents&pollHup != 0 {
		r |= ReadClosed | WriteClosed
	}
	if revents&pollErr != 0 {
		r |= ErrorHint
	}
	return r, nil
}

func (s *iocpSelector) Wake() error {
	return windows.PostQueuedCompletionStatus(s.port, 0, iocpWakeKey, nil)
}

func (s *iocpSelector) Close() error {
	return windows.CloseHandle(s.port)
}
