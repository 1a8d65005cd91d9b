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
	"net"
	"syscall"

	"readypoll/internal/socket"
)

// These thin OS-handle wrapper types carry no buffering and no protocol
// logic of their own; they exist purely to pull a raw, non-blocking fd out
// of the standard library's net types and hand it to fdSource so it can be
// registered with a Poller. Reading and writing the fd is the caller's job
// once an Event reports it readable/writable, exactly as spec.md divides
// responsibility between this library and its caller.

// TCPListener wraps a *net.TCPListener's fd for registration.
type TCPListener struct {
	fdSource
	ln *net.TCPListener
}

// NewTCPListener duplicates ln's underlying fd with close-on-exec and
// non-blocking set, for registration. ln itself stays in use: Addr acts on
// it, and AcceptTCP accepts connections from it once Poll reports the
// duplicated fd readable.
func NewTCPListener(ln *net.TCPListener) (*TCPListener, error) {
	fd, err := dupNonblocking(ln)
	if err != nil {
		return nil, err
	}
	return &TCPListener{fdSource: fdSource{fd: fd}, ln: ln}, nil
}

// Fd returns the duplicated listener fd.
func (l *TCPListener) Fd() int { return l.fdSource.fd }

// Addr returns the listener's bound address.
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }

// AcceptTCP accepts a pending connection off the original *net.TCPListener.
// Call this only after an Event reports the listener Readable; the
// duplicated, registered fd is used solely for readiness notification.
func (l *TCPListener) AcceptTCP() (*net.TCPConn, error) { return l.ln.AcceptTCP() }

// TCPStream wraps a *net.TCPConn's fd for registration.
type TCPStream struct {
	fdSource
	conn *net.TCPConn
}

func NewTCPStream(conn *net.TCPConn) (*TCPStream, error) {
	fd, err := dupNonblocking(conn)
	if err != nil {
		return nil, err
	}
	if err := socket.SetNoDelay(fd, 1); err != nil {
		return nil, err
	}
	return &TCPStream{fdSource: fdSource{fd: fd}, conn: conn}, nil
}

func (s *TCPStream) Fd() int { return s.fdSource.fd }

// SetKeepAlivePeriod enables TCP keepalive with the given period.
func (s *TCPStream) SetKeepAlivePeriod(secs int) error {
	return socket.SetKeepAlivePeriod(s.fdSource.fd, secs)
}

// UDPSocket wraps a *net.UDPConn's fd for registration.
type UDPSocket struct {
	fdSource
	conn *net.UDPConn
}

func NewUDPSocket(conn *net.UDPConn) (*UDPSocket, error) {
	fd, err := dupNonblocking(conn)
	if err != nil {
		return nil, err
	}
	return &UDPSocket{fdSource: fdSource{fd: fd}, conn: conn}, nil
}

func (s *UDPSocket) Fd() int { return s.fdSource.fd }

// UnixListener wraps a *net.UnixListener's fd for registration.
type UnixListener struct {
	fdSource
	ln *net.UnixListener
}

func NewUnixListener(ln *net.UnixListener) (*UnixListener, error) {
	fd, err := dupNonblocking(ln)
	if err != nil {
		return nil, err
	}
	return &UnixListener{fdSource: fdSource{fd: fd}, ln: ln}, nil
}

func (l *UnixListener) Fd() int { return l.fdSource.fd }

// UnixStream wraps a *net.UnixConn's fd for registration.
type UnixStream struct {
	fdSource
	conn *net.UnixConn
}

func NewUnixStream(conn *net.UnixConn) (*UnixStream, error) {
	fd, err := dupNonblocking(conn)
	if err != nil {
		return nil, err
	}
	return &UnixStream{fdSource: fdSource{fd: fd}, conn: conn}, nil
}

func (s *UnixStream) Fd() int { return s.fdSource.fd }

// PipeSource wraps one end of an os.Pipe for registration.
type PipeSource struct {
	fdSource
}

// NewPipeSource wraps an already-non-blocking pipe fd. Use os.Pipe plus
// socket.SetNonblock, or golang.org/x/sys/unix.Pipe2 directly, to obtain one.
func NewPipeSource(fd int) *PipeSource {
	return &PipeSource{fdSource: fdSource{fd: fd}}
}

func (p *PipeSource) Fd() int { return p.fdSource.fd }

// syscallConn is satisfied by every *net.TCPListener/TCPConn/UDPConn/
// UnixListener/UnixConn.
type syscallConn interface {
	SyscallConn() (syscall.RawConn, error)
}

func dupNonblocking(c syscallConn) (int, error) {
	rc, err := c.SyscallConn()
	if err != nil {
		return -1, err
	}
	var dup int
	var dupErr error
	ctrlErr := rc.Control(func(fd uintptr) {
		dup, dupErr = socket.Dup(int(fd))
	})
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	if dupErr != nil {
		return -1, dupErr
	}
	if err := socket.SetNonblock(dup, true); err != nil {
		return -1, err
	}
	return dup, nil
}
