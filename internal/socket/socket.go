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

// Package socket holds the raw fd option-setters and handle-extraction
// helpers the EventSource wrapper types need in order to hand a selectable
// file descriptor to a Poller. The teacher module imports an equivalent
// "core/internal/socket" package from call sites across engine.go,
// listener.go, acceptor.go, and connection.go, but that package itself was
// not part of the retrieved source tree; this file reconstructs its option
// setters from those call sites and from the well-known shape of the fd
// option helpers net libraries in this style expose.

//go:build linux || freebsd || dragonfly || darwin

package socket

import "golang.org/x/sys/unix"

// Option bundles one setsockopt-shaped call with the value to apply, so
// callers can build up a slice of deferred socket options the way the
// teacher's listener.go does.
type Option struct {
	SetSockOpt func(fd, value int) error
	Opt        int
}

// Apply runs every option in order, stopping at the first error.
func Apply(fd int, opts []Option) error {
	for _, opt := range opts {
		if err := opt.SetSockOpt(fd, opt.Opt); err != nil {
			return err
		}
	}
	return nil
}

func SetReuseAddr(fd, _ int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

func SetReusePort(fd, _ int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

func SetNoDelay(fd, value int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, value)
}

func SetSendBuffer(fd, bytes int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bytes)
}

func SetRecvBuffer(fd, bytes int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
}

func SetLinger(fd, sec int) error {
	return unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{
		Onoff:  1,
		Linger: int32(sec),
	})
}

func SetKeepAlivePeriod(fd, secs int) error {
	if secs <= 0 {
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 0)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	if err := setKeepAliveInterval(fd, secs); err != nil {
		return err
	}
	return setKeepAliveIdle(fd, secs)
}

func SetNonblock(fd int, nonblocking bool) error {
	return unix.SetNonblock(fd, nonblocking)
}

// Dup duplicates fd with the close-on-exec flag set, the way the teacher's
// engine.go dups a passed-in listener fd before handing ownership to its
// own reactor loop.
func Dup(fd int) (int, error) {
	nfd, _, errno := unix.Syscall(unix.SYS_FCNTL, uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if errno != 0 {
		return -1, errno
	}
	return int(nfd), nil
}
