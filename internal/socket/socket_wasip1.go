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

package socket

import "syscall"

// WASI preview 1 exposes no setsockopt surface at all; every option setter
// here is a documented no-op rather than a silently-ignored one, so callers
// applying a teacher-style Option slice on this platform fail loudly only
// if they check the (always-nil) error and expect a behavioural effect.

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

func SetReuseAddr(int, int) error       { return nil }
func SetReusePort(int, int) error       { return nil }
func SetNoDelay(int, int) error         { return nil }
func SetSendBuffer(int, int) error      { return nil }
func SetRecvBuffer(int, int) error      { return nil }
func SetLinger(int, int) error          { return nil }
func SetKeepAlivePeriod(int, int) error { return nil }

func SetNonblock(fd int, nonblocking bool) error {
	return syscall.SetNonblock(fd, nonblocking)
}

// Dup duplicates fd via dup(2), which WASI preview 1 does implement.
func Dup(fd int) (int, error) {
	return syscall.Dup(fd)
}
