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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zeroTimeout() *time.Duration {
	d := time.Duration(0)
	return &d
}

// TestPollUserSpaceLevelTriggered covers S3: a user-space registration
// delivers on Poll once readiness is set, and keeps reporting it on
// subsequent polls (level-triggered) until it is cleared.
func TestPollUserSpaceLevelTriggered(t *testing.T) {
	p := newTestPoller(t)
	reg, set := NewRegistration(p, 42, Readable, Level)
	require.NoError(t, p.Register(reg, 42, Readable, Level))

	require.NoError(t, set.SetReadiness(Readable))

	buf := NewEventBuffer(8)
	n, err := p.Poll(buf, zeroTimeout())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	ev := buf.Get(0)
	assert.Equal(t, Token(42), ev.Token())
	assert.True(t, ev.IsReadable())

	// Level-triggered: readiness was never cleared, so a second Poll must
	// report it again on its own — unlike Edge, nothing has to call
	// SetReadiness a second time to get another delivery.
	n, err = p.Poll(buf, zeroTimeout())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	ev = buf.Get(0)
	assert.Equal(t, Token(42), ev.Token())
	assert.True(t, ev.IsReadable())

	// Clearing readiness (simulated here by dropping interest via
	// Reregister) stops further redelivery.
	require.NoError(t, p.Reregister(reg, 42, Writable, Level))
	n, err = p.Poll(buf, zeroTimeout())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// TestPollOneshotDisarmsAfterDelivery covers S6: a Oneshot registration
// clears its interest after a single delivery and needs Reregister to
// re-arm.
func TestPollOneshotDisarmsAfterDelivery(t *testing.T) {
	p := newTestPoller(t)
	reg, set := NewRegistration(p, 7, Readable, Oneshot)
	require.NoError(t, p.Register(reg, 7, Readable, Oneshot))
	require.NoError(t, set.SetReadiness(Readable))

	buf := NewEventBuffer(8)
	n, err := p.Poll(buf, zeroTimeout())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Interest was cleared; further readiness on the same bit must not
	// redeliver until Reregister re-arms it.
	require.NoError(t, set.SetReadiness(Readable))
	n, err = p.Poll(buf, zeroTimeout())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, p.Reregister(reg, 7, Readable, Oneshot))
	require.NoError(t, set.SetReadiness(Readable))
	n, err = p.Poll(buf, zeroTimeout())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestPollEdgeCoalescesRepeatedSetReadiness covers S4: multiple
// SetReadiness calls between two Poll calls coalesce into a single
// delivered event, since the node is only queued once per edge.
func TestPollEdgeCoalescesRepeatedSetReadiness(t *testing.T) {
	p := newTestPoller(t)
	reg, set := NewRegistration(p, 9, Readable, Edge)
	require.NoError(t, p.Register(reg, 9, Readable, Edge))

	require.NoError(t, set.SetReadiness(Readable))
	require.NoError(t, set.SetReadiness(Readable))
	require.NoError(t, set.SetReadiness(Readable))

	buf := NewEventBuffer(8)
	n, err := p.Poll(buf, zeroTimeout())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "repeated SetReadiness before a drain must coalesce to one event")

	n, err = p.Poll(buf, zeroTimeout())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing new was signalled since the last drain")
}

func TestPollRespectsEventBufferCapacity(t *testing.T) {
	p := newTestPoller(t)
	const sources = 5
	const capacity = 2

	for i := Token(0); i < sources; i++ {
		reg, set := NewRegistration(p, i, Readable, Level)
		require.NoError(t, p.Register(reg, i, Readable, Level))
		require.NoError(t, set.SetReadiness(Readable))
	}

	buf := NewEventBuffer(capacity)
	n, err := p.Poll(buf, zeroTimeout())
	require.NoError(t, err)
	assert.Equal(t, capacity, n, "Poll must never deliver more than the buffer's capacity")
}

func TestPollZeroTimeoutReturnsImmediatelyWhenIdle(t *testing.T) {
	p := newTestPoller(t)
	buf := NewEventBuffer(8)

	start := time.Now()
	n, err := p.Poll(buf, zeroTimeout())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Less(t, elapsed, 500*time.Millisecond, "a zero timeout must not block")
}

func TestPollAfterCloseReturnsShutdownError(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	require.NoError(t, p.Close())

	buf := NewEventBuffer(8)
	_, err = p.Poll(buf, zeroTimeout())
	assert.Error(t, err)

	// Close is idempotent.
	assert.NoError(t, p.Close())
}

func TestDumpRegistrationsTracksSelectorSources(t *testing.T) {
	p := newTestPoller(t)
	rd, wr, err := newPipe(t)
	require.NoError(t, err)
	defer rd.Close()
	defer wr.Close()

	fd := NewFD(int(rd.Fd()))
	require.NoError(t, p.Register(fd, 1, Readable, Level))

	entries := p.DumpRegistrations()
	if entries == nil {
		t.Skip("selector back-end does not support diagnostics dump on this platform")
	}
	found := false
	for _, e := range entries {
		if e.FD == fd.Fd() {
			found = true
		}
	}
	assert.True(t, found)

	require.NoError(t, p.Deregister(fd))
	entries = p.DumpRegistrations()
	for _, e := range entries {
		assert.NotEqual(t, fd.Fd(), e.FD)
	}
}
