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

//go:build linux || freebsd || dragonfly || darwin

package readypoll

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestTCPEchoReadiness covers S1: a listener reports Readable once a peer
// connects, and an accepted stream reports Readable once the peer writes.
func TestTCPEchoReadiness(t *testing.T) {
	p := newTestPoller(t)

	rawLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer rawLn.Close()

	ln, err := NewTCPListener(rawLn.(*net.TCPListener))
	require.NoError(t, err)
	require.NoError(t, p.Register(ln, 1, Readable, Level))

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		conn, err := net.Dial("tcp", rawLn.Addr().String())
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(50 * time.Millisecond)
		_, _ = conn.Write([]byte("ping"))
		time.Sleep(200 * time.Millisecond)
	}()

	buf := NewEventBuffer(8)
	timeout := 2 * time.Second

	n, err := p.Poll(buf, &timeout)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, Token(1), buf.Get(0).Token())
	require.True(t, buf.Get(0).IsReadable())

	serverSide, err := ln.AcceptTCP()
	require.NoError(t, err)
	defer serverSide.Close()

	stream, err := NewTCPStream(serverSide)
	require.NoError(t, err)
	require.NoError(t, p.Register(stream, 2, Readable, Edge))

	n, err = p.Poll(buf, &timeout)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, Token(2), buf.Get(0).Token())
	require.True(t, buf.Get(0).IsReadable())

	out := make([]byte, 16)
	got, err := serverSide.Read(out)
	require.NoError(t, err)
	require.Equal(t, "ping", string(out[:got]))

	<-clientDone
}

// TestTCPConnectWriteReadiness covers S2: a freshly connected stream
// reports Writable almost immediately.
func TestTCPConnectWriteReadiness(t *testing.T) {
	p := newTestPoller(t)

	rawLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer rawLn.Close()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		conn, err := rawLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(200 * time.Millisecond)
	}()

	rawConn, err := net.Dial("tcp", rawLn.Addr().String())
	require.NoError(t, err)
	defer rawConn.Close()

	stream, err := NewTCPStream(rawConn.(*net.TCPConn))
	require.NoError(t, err)
	require.NoError(t, p.Register(stream, 3, Writable, Level))

	buf := NewEventBuffer(8)
	timeout := 2 * time.Second
	n, err := p.Poll(buf, &timeout)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, buf.Get(0).IsWritable())

	<-acceptDone
}
