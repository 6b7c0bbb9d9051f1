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

package registryapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapcc/registry-proxy/internal/authzclient"
	"github.com/sapcc/registry-proxy/internal/permissions"
	"github.com/sapcc/registry-proxy/internal/proxycfg"
	"github.com/sapcc/registry-proxy/internal/repourl"
	"github.com/sapcc/registry-proxy/internal/upstreamauth"
	"github.com/sapcc/registry-proxy/internal/upstreamclient"
)

func allowAllAuthzServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/check-permissions":
			w.WriteHeader(http.StatusOK)
		case "/permissions-tree":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(&permissions.Node{Action: permissions.Read})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTagsTestAPI(t *testing.T, upstreamURL, authzURL string, auth upstreamauth.Strategy) *API {
	upstream := upstreamclient.New(upstreamURL, "proj", "", http.DefaultClient, auth)
	authz := authzclient.New(authzURL, "", http.DefaultClient)

	registryOrigin, err := url.Parse("https://registry.example")
	require.NoError(t, err)
	var upstreamOrigin url.URL
	if upstreamURL != "" {
		u, err := url.Parse(upstreamURL)
		require.NoError(t, err)
		upstreamOrigin = *u
	}

	return NewAPI(
		proxycfg.Configuration{Cluster: "testcluster", Server: proxycfg.ServerConfig{Name: "Test Registry"}},
		upstream,
		authz,
		repourl.Factory{RegistryEndpoint: *registryOrigin, UpstreamEndpoint: upstreamOrigin, UpstreamProject: "proj"},
		"test",
	)
}

func tagsListRequest(repo string, query url.Values) *http.Request {
	u := "/v2/" + repo + "/tags/list"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	r := httptest.NewRequest(http.MethodGet, u, nil)
	r.SetBasicAuth("alice", "secret")
	return r
}

func TestHandleTagsListGenericProxyRewritesName(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/proj/myimage/tags/list", r.URL.Path)
		w.Header().Set("Link", `</v2/proj/myimage/tags/list?last=v2>; rel="next"`)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"name": "proj/myimage",
			"tags": []string{"v1", "v2"},
		})
	}))
	t.Cleanup(upstream.Close)
	authz := allowAllAuthzServer(t)
	t.Cleanup(authz.Close)

	a := newTagsTestAPI(t, upstream.URL, authz.URL, noopAuth{})

	w := httptest.NewRecorder()
	a.handleTagsList(w, tagsListRequest("myimage", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "myimage", body.Name)
	assert.Equal(t, []string{"v1", "v2"}, body.Tags)

	link := w.Header().Get("Link")
	require.NotEmpty(t, link)
	assert.True(t, strings.Contains(link, "/v2/myimage/tags/list"))
	assert.True(t, strings.Contains(link, "last=v2"))
}

func TestHandleTagsListMissingTagScrubsProjectPrefix(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]interface{}{
				{"code": "NAME_UNKNOWN", "message": "repository name not known to registry", "detail": map[string]interface{}{"name": "proj/myimage"}},
			},
		})
	}))
	t.Cleanup(upstream.Close)
	authz := allowAllAuthzServer(t)
	t.Cleanup(authz.Close)

	a := newTagsTestAPI(t, upstream.URL, authz.URL, noopAuth{})

	w := httptest.NewRecorder()
	a.handleTagsList(w, tagsListRequest("myimage", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, strings.Contains(w.Body.String(), "proj/"))
	assert.True(t, strings.Contains(w.Body.String(), "myimage"))
}

type fakeECRAPI struct {
	listImagesOutput *ecr.ListImagesOutput
	listImagesErr    error
	deleteRepoCalled bool
}

func (f *fakeECRAPI) GetAuthorizationToken(ctx context.Context, in *ecr.GetAuthorizationTokenInput, opts ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	return nil, fmt.Errorf("not used")
}
func (f *fakeECRAPI) CreateRepository(ctx context.Context, in *ecr.CreateRepositoryInput, opts ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error) {
	return &ecr.CreateRepositoryOutput{}, nil
}
func (f *fakeECRAPI) BatchDeleteImage(ctx context.Context, in *ecr.BatchDeleteImageInput, opts ...func(*ecr.Options)) (*ecr.BatchDeleteImageOutput, error) {
	return &ecr.BatchDeleteImageOutput{}, nil
}
func (f *fakeECRAPI) DeleteRepository(ctx context.Context, in *ecr.DeleteRepositoryInput, opts ...func(*ecr.Options)) (*ecr.DeleteRepositoryOutput, error) {
	f.deleteRepoCalled = true
	return &ecr.DeleteRepositoryOutput{}, nil
}
func (f *fakeECRAPI) ListImages(ctx context.Context, in *ecr.ListImagesInput, opts ...func(*ecr.Options)) (*ecr.ListImagesOutput, error) {
	if f.listImagesErr != nil {
		return nil, f.listImagesErr
	}
	return f.listImagesOutput, nil
}

func TestHandleTagsListECREmptyRepoTriggersCleanup(t *testing.T) {
	fake := &fakeECRAPI{listImagesOutput: &ecr.ListImagesOutput{}}
	authz := allowAllAuthzServer(t)
	t.Cleanup(authz.Close)

	a := newTagsTestAPI(t, "", authz.URL, upstreamauth.NewECRStrategy(fake))

	w := httptest.NewRecorder()
	a.handleTagsList(w, tagsListRequest("myimage", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, fake.deleteRepoCalled)
}

func TestHandleTagsListECRRepositoryNotFound(t *testing.T) {
	fake := &fakeECRAPI{listImagesErr: &types.RepositoryNotFoundException{}}
	authz := allowAllAuthzServer(t)
	t.Cleanup(authz.Close)

	a := newTagsTestAPI(t, "", authz.URL, upstreamauth.NewECRStrategy(fake))

	w := httptest.NewRecorder()
	a.handleTagsList(w, tagsListRequest("myimage", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
