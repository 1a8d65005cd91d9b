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

// TestWakerCrossThread covers S5: a user-space source signalled from a
// second goroutine must wake a Poll blocked with no timeout.
func TestWakerCrossThread(t *testing.T) {
	p := newTestPoller(t)
	reg, set := NewRegistration(p, 1, Readable, Level)
	require.NoError(t, p.Register(reg, 1, Readable, Level))

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = set.SetReadiness(Readable)
	}()

	buf := NewEventBuffer(8)
	start := time.Now()
	n, err := p.Poll(buf, nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, Token(1), buf.Get(0).Token())
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond, "Poll must actually have blocked until woken")
	assert.Less(t, elapsed, 2*time.Second, "Poll must not have missed the wake and timed out instead")
}

// TestConcurrentPollCallsSerialise exercises the Poller's lock-state word:
// two goroutines calling Poll at once on the same Poller must not race or
// double-deliver the same event.
func TestConcurrentPollCallsSerialise(t *testing.T) {
	p := newTestPoller(t)
	reg, set := NewRegistration(p, 5, Readable, Edge)
	require.NoError(t, p.Register(reg, 5, Readable, Edge))
	require.NoError(t, set.SetReadiness(Readable))

	results := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			buf := NewEventBuffer(8)
			timeout := 200 * time.Millisecond
			n, err := p.Poll(buf, &timeout)
			assert.NoError(t, err)
			results <- n
		}()
	}

	total := 0
	for i := 0; i < 2; i++ {
		total += <-results
	}
	assert.Equal(t, 1, total, "the single readiness event must be delivered exactly once across both callers")
}
