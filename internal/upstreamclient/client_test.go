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

package upstreamclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapcc/registry-proxy/internal/apierror"
	"github.com/sapcc/registry-proxy/internal/upstreamauth"
)

type constantAuth struct{}

func (constantAuth) GetHeaders(ctx context.Context, scopes []upstreamauth.Scope) (map[string]string, error) {
	return map[string]string{"Authorization": "Basic dGVzdDp0ZXN0"}, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c := New(server.URL, "testproject", "", server.Client(), constantAuth{})
	return c, server
}

func TestV2Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/", r.URL.Path)
		assert.Equal(t, "Basic dGVzdDp0ZXN0", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	})

	err := c.V2(context.Background())
	assert.NoError(t, err)
}

func TestV2UpstreamError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"code":"UNAUTHORIZED"}]}`))
	})

	err := c.V2(context.Background())
	require.Error(t, err)
	upstreamErr, ok := err.(*apierror.UpstreamError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, upstreamErr.Status)
}

func TestImageTagsListDefaultsToEmptySlice(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/testproject/alice/img/tags/list", r.URL.Path)
		_, _ = w.Write([]byte(`{"name":"testproject/alice/img"}`))
	})

	tags, err := c.ImageTagsList(context.Background(), "testproject/alice/img")
	require.NoError(t, err)
	assert.Equal(t, []string{}, tags)
}

func TestImageDigestReadsContentDigestHeader(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ManifestV2MediaType, r.Header.Get("Accept"))
		w.Header().Set("Docker-Content-Digest", "sha256:abcd")
		w.WriteHeader(http.StatusOK)
	})

	digest, err := c.ImageDigest(context.Background(), "testproject/alice/img", "latest")
	require.NoError(t, err)
	assert.Equal(t, "sha256:abcd", digest)
}

func TestListImagesStripsPrefixAndFollowsLink(t *testing.T) {
	var calls int
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Link", `</v2/_catalog?n=2&last=testproject%2Falice%2Fimg2>; rel="next"`)
			_, _ = w.Write([]byte(`{"repositories":["testproject/alice/img1","testproject/alice/img2"]}`))
			return
		}
		assert.Equal(t, "testproject/alice/img2", r.URL.Query().Get("last"))
		_, _ = w.Write([]byte(`{"repositories":["testproject/alice/img3"]}`))
	})

	var names []string
	err := c.ListImages(context.Background(), func(name string) error {
		names = append(names, name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice/img1", "alice/img2", "alice/img3"}, names)
	assert.Equal(t, 2, calls)
}

func TestDeleteTagRequiresAccepted(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusAccepted)
	})

	err := c.DeleteTag(context.Background(), "testproject/alice/img", "latest")
	assert.NoError(t, err)
}

func TestDeleteManifestSkipsTagDeletionOnNonGAR(t *testing.T) {
	var order []string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		order = append(order, r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	})

	err := c.DeleteManifest(context.Background(), "testproject/alice/img", "sha256:abcd", []string{"latest"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"/v2/testproject/alice/img/manifests/sha256:abcd"}, order)
}

func TestIsGAR(t *testing.T) {
	assert.True(t, isGAR("us-docker.pkg.dev"))
	assert.False(t, isGAR("registry.example.com"))
}
