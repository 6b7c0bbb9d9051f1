/*******************************************************************************
*
* Copyright 2024 SAP SE
*
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You should have received a copy of the License along with this
* program. If not, you may obtain a copy of the License at
*
*     http://www.apache.org/licenses/LICENSE-2.0
*
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
*
*******************************************************************************/

// Package eventbus declares the minimal subscribe/ack contract this proxy
// needs from its event-bus collaborator (spec §1, §6: "external
// collaborator with stated interfaces"). No concrete broker SDK is wired
// here deliberately -- the spec scopes the event bus's own transport out of
// this system, so unlike upstreamauth/upstreamclient there is no concrete
// implementation to adapt from the teacher corpus; ProjectDeleter depends
// only on this interface.
package eventbus

import "context"

// Event is one message delivered by the event bus, carrying only the
// fields ProjectDeleter needs (spec §4.9, §6).
type Event struct {
	Tag     string
	Type    string
	Org     string
	Project string
}

// Handler processes one Event. Returning a non-nil error leaves the event
// unacknowledged; at-least-once delivery means Handler must be idempotent
// (spec §6, §9).
type Handler func(ctx context.Context, event Event) error

// Subscriber is the capability ProjectDeleter needs from the event bus: it
// can subscribe a Handler to a named stream/group, and ack delivered
// events once handling succeeds.
type Subscriber interface {
	// SubscribeGroup registers handler for all events on stream, with
	// automatic acking disabled (ProjectDeleter acks explicitly after a
	// successful deletion, per spec §4.9's "ack only after success").
	SubscribeGroup(ctx context.Context, stream string, handler Handler) error

	// Ack acknowledges the given tags on stream.
	Ack(ctx context.Context, stream string, tags []string) error

	// Close shuts down the subscription, awaiting any in-flight handler
	// invocation (spec §4.9: "shutdown awaits the subscriber task").
	Close() error
}
