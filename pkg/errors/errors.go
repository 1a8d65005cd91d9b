// Copyright (c) 2024 The readypoll Authors
// Copyright (c) 2019 Andy Pan
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

// Package errors holds the sentinel errors returned by the readypoll core.
// Callers are expected to compare with errors.Is, never by string.
package errors

import "errors"

var (
	// ErrInvalidArgument occurs when a registration uses the reserved waker
	// token, an empty interest set, or reregisters a source that was never
	// registered on a back-end that tracks this.
	ErrInvalidArgument = errors.New("readypoll: invalid argument")

	// ErrAlreadyRegistered occurs when a source already bound to a poller is
	// registered again (debug-mode selector-id tracking only).
	ErrAlreadyRegistered = errors.New("readypoll: source already registered")

	// ErrCrossPoller occurs when a source is reregistered or deregistered
	// with a different poller than the one it was registered with.
	ErrCrossPoller = errors.New("readypoll: source belongs to a different poller")

	// ErrNotFound occurs when deregistering a source that isn't currently
	// registered.
	ErrNotFound = errors.New("readypoll: source not registered")

	// ErrClosed names the closed-poller condition for user-space handles.
	// Nothing in this module returns it: SetReadiness on a handle whose
	// poller has been closed returns nil, and the node it links into the
	// queue is never delivered.
	ErrClosed = errors.New("readypoll: poller closed")

	// ErrPollerShutdown is returned by Poll once Close has fully torn down
	// the selector and no further polling is possible.
	ErrPollerShutdown = errors.New("readypoll: poller is shut down")
)
