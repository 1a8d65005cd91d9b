// Copyright (c) 2024 The readypoll Authors
// Copyright (c) 2021 Andy Pan
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

//go:build freebsd || dragonfly || darwin

package selector

import (
	"os"

	"golang.org/x/sys/unix"

	perrors "readypoll/pkg/errors"
)

// kqueueSelector adapts BSD/Darwin kqueue to the Selector contract,
// directly generalizing the teacher's internal/netpoll kqueue back-end
// (OpenPoller/AddRead/AddWrite/ModReadWrite/Polling) from a fixed
// redis-proxy callback signature to the generic readiness contract this
// library needs. The waker is an EVFILT_USER+NOTE_TRIGGER entry, matching
// the teacher's UrgentTrigger/Trigger "note" pattern exactly.
type kqueueSelector struct {
	fd int

	raw []unix.Kevent_t

	reg *registry
}

var wakerNote = []unix.Kevent_t{{
	Ident:  0,
	Filter: unix.EVFILT_USER,
	Fflags: unix.NOTE_TRIGGER,
}}

func open() (Selector, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	if _, err = unix.Kevent(fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("kevent add waker", err)
	}
	return &kqueueSelector{fd: fd, reg: newRegistry(), raw: make([]unix.Kevent_t, initEventsCap)}, nil
}

func (s *kqueueSelector) Register(fd int, token uint64, interest Interest, opts PollOpt) error {
	changes := kqueueChanges(fd, token, interest, opts, unix.EV_ADD)
	if _, err := unix.Kevent(s.fd, changes, nil, nil); err != nil {
		return os.NewSyscallError("kevent add", ignorePipeErr(err))
	}
	s.reg.put(&Entry{FD: fd, Token: token, Interest: uint32(interest), Opts: uint8(opts)})
	return nil
}

func (s *kqueueSelector) Reregister(fd int, token uint64, interest Interest, opts PollOpt) error {
	prev, ok := s.reg.get(fd)
	if !ok {
		return perrors.ErrNotFound
	}
	var changes []unix.Kevent_t
	if prev.Interest&uint32(Readable) != 0 && interest&Readable == 0 {
		changes = append(changes, kqueueEvent(fd, unix.EVFILT_READ, unix.EV_DELETE))
	}
	if prev.Interest&uint32(Writable) != 0 && interest&Writable == 0 {
		changes = append(changes, kqueueEvent(fd, unix.EVFILT_WRITE, unix.EV_DELETE))
	}
	changes = append(changes, kqueueChanges(fd, token, interest, opts, unix.EV_ADD)...)
	if len(changes) > 0 {
		if _, err := unix.Kevent(s.fd, changes, nil, nil); err != nil {
			return os.NewSyscallError("kevent mod", ignorePipeErr(err))
		}
	}
	s.reg.put(&Entry{FD: fd, Token: token, Interest: uint32(interest), Opts: uint8(opts)})
	return nil
}

func (s *kqueueSelector) Deregister(fd int) error {
	if _, ok := s.reg.get(fd); !ok {
		return perrors.ErrNotFound
	}
	changes := []unix.Kevent_t{
		kqueueEvent(fd, unix.EVFILT_READ, unix.EV_DELETE),
		kqueueEvent(fd, unix.EVFILT_WRITE, unix.EV_DELETE),
	}
	if _, err := unix.Kevent(s.fd, changes, nil, nil); err != nil && err != unix.ENOENT {
		return os.NewSyscallError("kevent delete", err)
	}
	s.reg.delete(fd)
	return nil
}

func kqueueEvent(fd int, filter int16, flags uint16) unix.Kevent_t {
	return unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: flags}
}

func kqueueChanges(fd int, token uint64, interest Interest, opts PollOpt, baseFlags uint16) []unix.Kevent_t {
	flags := baseFlags
	if opts&Edge != 0 {
		flags |= unix.EV_CLEAR
	}
	if opts&Oneshot != 0 {
		flags |= unix.EV_ONESHOT
	}
	// token is carried in the registry (keyed by fd), not in Udata: Select
	// looks entries up by the fd on the returned kevent.
	_ = token
	var out []unix.Kevent_t
	if interest&Readable != 0 {
		out = append(out, kqueueEvent(fd, unix.EVFILT_READ, flags))
	}
	if interest&Writable != 0 {
		out = append(out, kqueueEvent(fd, unix.EVFILT_WRITE, flags))
	}
	return out
}

// ignorePipeErr mirrors the teacher's comment: EPIPE on add has been
// observed on darwin for already-closed pipes and is not actionable.
func ignorePipeErr(err error) error {
	if err == unix.EPIPE {
		return nil
	}
	return err
}

func (s *kqueueSelector) Select(events []Event, timeoutMS int) ([]Event, error) {
	var ts *unix.Timespec
	if timeoutMS >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMS) * 1e6)
		ts = &t
	}

	var n int
	var err error
	for {
		n, err = unix.Kevent(s.fd, nil, s.raw, ts)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return events[:0], os.NewSyscallError("kevent wait", err)
	}

	events = events[:0]
	for i := 0; i < n; i++ {
		ev := &s.raw[i]
		if ev.Ident == 0 && ev.Filter == unix.EVFILT_USER {
			continue
		}
		entry, ok := s.reg.get(int(ev.Ident))
		if !ok {
			continue
		}
		var r Interest
		switch ev.Filter {
		case unix.EVFILT_READ:
			r |= Readable
		case unix.EVFILT_WRITE:
			r |= Writable
		}
		if ev.Flags&unix.EV_EOF != 0 {
			r |= ReadClosed
			if ev.Fflags != 0 {
				r |= ErrorHint
			}
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			r |= ErrorHint
		}
		events = append(events, Event{Token: entry.Token, Readiness: r})
	}

	if next := growCap(len(s.raw), n); next != len(s.raw) {
		s.raw = make([]unix.Kevent_t, next)
	}
	return events, nil
}

// Dump returns a snapshot of every fd currently registered, for diagnostics.
func (s *kqueueSelector) Dump() []Entry {
	return s.reg.dump()
}

func (s *kqueueSelector) Wake() error {
	_, err := unix.Kevent(s.fd, wakerNote, nil, nil)
	if err != nil && err != unix.EAGAIN {
		return os.NewSyscallError("kevent trigger", err)
	}
	return nil
}

func (s *kqueueSelector) Close() error {
	return os.NewSyscallError("close", unix.Close(s.fd))
}
