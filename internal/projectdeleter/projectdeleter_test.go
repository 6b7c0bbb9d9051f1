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

package projectdeleter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapcc/registry-proxy/internal/eventbus"
	"github.com/sapcc/registry-proxy/internal/upstreamauth"
	"github.com/sapcc/registry-proxy/internal/upstreamclient"
)

type fakeSubscriber struct {
	handler  eventbus.Handler
	acked    [][]string
	closed   bool
}

func (f *fakeSubscriber) SubscribeGroup(ctx context.Context, stream string, handler eventbus.Handler) error {
	f.handler = handler
	return nil
}

func (f *fakeSubscriber) Ack(ctx context.Context, stream string, tags []string) error {
	f.acked = append(f.acked, tags)
	return nil
}

func (f *fakeSubscriber) Close() error {
	f.closed = true
	return nil
}

type noopAuth struct{}

func (noopAuth) GetHeaders(ctx context.Context, scopes []upstreamauth.Scope) (map[string]string, error) {
	return map[string]string{}, nil
}

func TestHandleAcksNonProjectRemoveEventsWithoutDeleting(t *testing.T) {
	var upstreamCalled bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalled = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := &fakeSubscriber{}
	client := upstreamclient.New(server.URL, "testproject", "", server.Client(), noopAuth{})
	deleter := New(sub, client)

	err := deleter.handle(context.Background(), eventbus.Event{Tag: "t1", Type: "project-create"})
	require.NoError(t, err)
	assert.False(t, upstreamCalled)
	assert.Equal(t, [][]string{{"t1"}}, sub.acked)
}

func TestHandleAcksOnlyAfterSuccessfulDeletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/_catalog" {
			_, _ = w.Write([]byte(`{"repositories":[]}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := &fakeSubscriber{}
	client := upstreamclient.New(server.URL, "testproject", "", server.Client(), noopAuth{})
	deleter := New(sub, client)

	err := deleter.handle(context.Background(), eventbus.Event{Tag: "t2", Type: EventType, Org: "alice", Project: "img"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"t2"}}, sub.acked)
}

func TestHandleDoesNotAckOnDeletionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sub := &fakeSubscriber{}
	client := upstreamclient.New(server.URL, "testproject", "", server.Client(), noopAuth{})
	deleter := New(sub, client)

	err := deleter.handle(context.Background(), eventbus.Event{Tag: "t3", Type: EventType, Org: "alice", Project: "img"})
	assert.Error(t, err)
	assert.Empty(t, sub.acked)
}

func TestRunClosesSubscriberOnContextCancel(t *testing.T) {
	sub := &fakeSubscriber{}
	deleter := New(sub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := deleter.Run(ctx)
	require.NoError(t, err)
	assert.True(t, sub.closed)
}
