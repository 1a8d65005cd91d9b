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
	"readypoll/internal/selector"
	perrors "readypoll/pkg/errors"
)

// fdSource is the EventSource implementation shared by every OS-handle
// wrapper type (TCPListener, TCPStream, UDPSocket, UnixListener, UnixStream,
// PipeSource, and the generic FD): it routes register/reregister/deregister
// to the Poller's SystemSelector keyed by the raw fd, and enforces the
// CrossPoller invariant the same way Registration does for user-space
// sources.
type fdSource struct {
	fd    int
	guard crossPollerGuard
}

func (f *fdSource) register(reg *registrar, token Token, interest Interest, opts PollOpt) error {
	if err := f.guard.bind(reg.id); err != nil {
		return err
	}
	return reg.sel.Register(f.fd, uint64(token), selector.Interest(interest), selector.PollOpt(opts))
}

func (f *fdSource) reregister(reg *registrar, token Token, interest Interest, opts PollOpt) error {
	if err := f.guard.check(reg.id); err != nil {
		if err == perrors.ErrNotFound {
			return perrors.ErrInvalidArgument
		}
		return err
	}
	return reg.sel.Reregister(f.fd, uint64(token), selector.Interest(interest), selector.PollOpt(opts))
}

func (f *fdSource) deregister(reg *registrar) error {
	if err := f.guard.check(reg.id); err != nil {
		return err
	}
	defer f.guard.unbind()
	return reg.sel.Deregister(f.fd)
}

// FD adapts a bare, already-nonblocking OS file descriptor into an
// EventSource. It's the escape hatch for handle types this package doesn't
// wrap directly (e.g. an eventfd, a timerfd, a signalfd).
type FD struct {
	fdSource
}

// NewFD wraps an existing raw file descriptor. The caller retains ownership
// of fd (readypoll never closes it).
func NewFD(fd int) *FD {
	return &FD{fdSource: fdSource{fd: fd}}
}

// Fd returns the wrapped raw file descriptor.
func (f *FD) Fd() int { return f.fd }
