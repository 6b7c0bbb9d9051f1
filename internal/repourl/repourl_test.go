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

package repourl

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func mustParse(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return *u
}

func TestFromURLGreedyRepo(t *testing.T) {
	r, err := FromURL(mustParse(t, "/v2/a/b/tags/list"))
	assert.NoError(t, err)
	assert.Equal(t, "a/b", r.Repo())
	assert.Equal(t, "tags/list", r.Suffix())
	assert.False(t, r.AllowSkipPerms())
}

func TestFromURLBlobMount(t *testing.T) {
	r, err := FromURL(mustParse(t, "/v2/alice/img/blobs/uploads/?from=alice/other"))
	assert.NoError(t, err)
	assert.Equal(t, "alice/img", r.Repo())
	assert.Equal(t, "alice/other", r.MountedRepo())
}

func TestFromURLInvalidPath(t *testing.T) {
	_, err := FromURL(mustParse(t, "/not/a/registry/path"))
	assert.Error(t, err)
	var target *ErrInvalidRegistryPath
	assert.ErrorAs(t, err, &target)
}

func TestFromURLPassthroughUploadDownload(t *testing.T) {
	r, err := FromURL(mustParse(t, "/artifacts-uploads/namespaces/testproject/repositories/alice/uploads/abc123"))
	assert.NoError(t, err)
	assert.True(t, r.AllowSkipPerms())
}

func TestFromURLPassthroughPkgBlobs(t *testing.T) {
	r, err := FromURL(mustParse(t, "/v2/testproject/alice/pkg/blobs/sha256:deadbeef"))
	assert.NoError(t, err)
	assert.True(t, r.AllowSkipPerms())
}

func TestWithProjectRewritesFromQuery(t *testing.T) {
	r, err := FromURL(mustParse(t, "/v2/alice/img/blobs/uploads/?from=alice/other"))
	assert.NoError(t, err)

	rewritten := r.WithProject("testproject", "")
	assert.Equal(t, "testproject/alice/img", rewritten.Repo())
	assert.Equal(t, "testproject/alice/other", rewritten.MountedRepo())
	assert.Equal(t, "testproject/alice/other", rewritten.URL().Query().Get("from"))
}

func TestWithOriginRebasesAbsoluteURL(t *testing.T) {
	r, err := FromURL(mustParse(t, "https://registry.example.com/v2/alice/img/tags/list"))
	assert.NoError(t, err)
	origin := mustParse(t, "https://upstream.example.com")
	rewritten := r.WithOrigin(origin)
	assert.Equal(t, "upstream.example.com", rewritten.URL().Host)
	assert.Equal(t, "/v2/alice/img/tags/list", rewritten.URL().Path)
}

// round-trip invariant from spec §8: createRegistryRepoURL(createUpstreamRepoURL(fromURL(u)))
// equals fromURL(u) modulo origin.
func TestRoundTripInvariant(t *testing.T) {
	f := Factory{
		RegistryEndpoint: mustParse(t, "https://registry.example.com"),
		UpstreamEndpoint: mustParse(t, "https://upstream.example.com"),
		UpstreamProject:  "testproject",
	}
	orig, err := FromURL(mustParse(t, "https://registry.example.com/v2/alice/img/tags/list?n=10"))
	assert.NoError(t, err)

	upstream := f.CreateUpstreamRepoURL(orig)
	assert.Equal(t, "testproject/alice/img", upstream.Repo())
	assert.Equal(t, "upstream.example.com", upstream.URL().Host)

	back, err := f.CreateRegistryRepoURL(upstream)
	assert.NoError(t, err)
	assert.Equal(t, orig.Repo(), back.Repo())
	assert.Equal(t, orig.Suffix(), back.Suffix())
	assert.Equal(t, orig.URL().RawQuery, back.URL().RawQuery)
}

func TestPassthroughIdempotence(t *testing.T) {
	f := Factory{
		RegistryEndpoint: mustParse(t, "https://registry.example.com"),
		UpstreamEndpoint: mustParse(t, "https://upstream.example.com"),
		UpstreamProject:  "testproject",
	}
	r, err := FromURL(mustParse(t, "/artifacts-uploads/namespaces/testproject/repositories/alice/uploads/abc123"))
	assert.NoError(t, err)

	upstream := f.CreateUpstreamRepoURL(r)
	assert.Equal(t, r.Repo(), upstream.Repo())
	assert.Equal(t, "upstream.example.com", upstream.URL().Host)
}
