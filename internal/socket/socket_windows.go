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

package socket

import "golang.org/x/sys/windows"

type Option struct {
	SetSockOpt func(fd, value int) error
	Opt        int
}

func Apply(fd int, opts []Option) error {
	for _, opt := range opts {
		if err := opt.SetSockOpt(fd, opt.Opt); err != nil {
			return err
		}
	}
	return nil
}

func SetReuseAddr(fd, _ int) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
}

func SetReusePort(fd, _ int) error {
	// Windows has no SO_REUSEPORT; SO_REUSEADDR already allows rebinding.
	return SetReuseAddr(fd, 0)
}

func SetNoDelay(fd, value int) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.IPPROTO_TCP, windows.TCP_NODELAY, value)
}

func SetSendBuffer(fd, bytes int) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_SNDBUF, bytes)
}

func SetRecvBuffer(fd, bytes int) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_RCVBUF, bytes)
}

func SetLinger(fd, sec int) error {
	return windows.SetsockoptLinger(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_LINGER, &windows.Linger{
		Onoff:  1,
		Linger: int32(sec),
	})
}

func SetKeepAlivePeriod(fd, secs int) error {
	onoff := 1
	if secs <= 0 {
		onoff = 0
	}
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_KEEPALIVE, onoff)
}

func SetNonblock(fd int, nonblocking bool) error {
	var mode uint32
	if nonblocking {
		mode = 1
	}
	return windows.IoctlSocket(windows.Handle(fd), windows.FIONBIO, &mode)
}

// Dup duplicates fd as an inheritable-false handle via DuplicateHandle
// against the current process.
func Dup(fd int) (int, error) {
	var dup windows.Handle
	proc := windows.CurrentProcess()
	if err := windows.DuplicateHandle(proc, windows.Handle(fd), proc, &dup, 0, false, windows.DUPLICATE_SAME_ACCESS); err != nil {
		return -1, err
	}
	return int(dup), nil
}
