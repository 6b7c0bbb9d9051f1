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

// Package projectdeleter implements the project-removal event consumer
// (spec §4.9), grounded on sapcc/keppel's internal/tasks.Janitor in spirit
// (a long-lived worker with an injectable clock and an explicit Init/Run
// split) but adapted from a polling janitor into an event-driven consumer,
// since the source system is event-subscribed rather than poll-based.
package projectdeleter

import (
	"context"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/registry-proxy/internal/eventbus"
	"github.com/sapcc/registry-proxy/internal/upstreamclient"
)

// StreamName is the event stream this deleter subscribes to (spec §4.9).
const StreamName = "platform-admin"

// EventType is the only event type this deleter acts on; all others are
// ignored (and still acked, since they are not actionable).
const EventType = "project-remove"

// ProjectDeleter subscribes to StreamName and, on each project-remove
// event, bulk-deletes the named project's images via UpstreamClient.
type ProjectDeleter struct {
	Subscriber eventbus.Subscriber
	Upstream   *upstreamclient.Client
}

// New constructs a ProjectDeleter.
func New(subscriber eventbus.Subscriber, upstream *upstreamclient.Client) *ProjectDeleter {
	return &ProjectDeleter{Subscriber: subscriber, Upstream: upstream}
}

// Run subscribes the deleter's handler and blocks until ctx is cancelled,
// then closes the subscriber (spec §4.9: "shutdown awaits the subscriber
// task and closes the client").
func (d *ProjectDeleter) Run(ctx context.Context) error {
	err := d.Subscriber.SubscribeGroup(ctx, StreamName, d.handle)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return d.Subscriber.Close()
}

// handle processes one event: if it is a project-remove event with a
// non-empty org/project, it bulk-deletes the project's images and acks
// only once that succeeds (spec §4.9: "exactly-once-at-effort").
func (d *ProjectDeleter) handle(ctx context.Context, event eventbus.Event) error {
	if event.Type != EventType {
		return d.Subscriber.Ack(ctx, StreamName, []string{event.Tag})
	}
	if event.Org == "" || event.Project == "" {
		logg.Info("ignoring project-remove event with empty org/project (tag %s)", event.Tag)
		return d.Subscriber.Ack(ctx, StreamName, []string{event.Tag})
	}

	if err := d.Upstream.DeleteProjectImages(ctx, event.Org, event.Project); err != nil {
		logg.Error("while deleting images for %s/%s: %s", event.Org, event.Project, err.Error())
		return err
	}

	return d.Subscriber.Ack(ctx, StreamName, []string{event.Tag})
}
