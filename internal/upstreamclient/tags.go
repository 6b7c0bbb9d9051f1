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
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/sapcc/registry-proxy/internal/apierror"
	"github.com/sapcc/registry-proxy/internal/upstreamauth"
)

var errMissingContentDigest = errors.New("upstream manifest response has no Docker-Content-Digest header")

// ManifestV2MediaType is the Accept header value used when requesting a
// manifest to learn its digest (spec §4.5: imageDigest).
const ManifestV2MediaType = "application/vnd.docker.distribution.manifest.v2+json"

// ImageTagsList fetches the tag list for upstreamRepo (a repo name already
// translated to its upstream form by the caller) and returns its tags, defaulting to an
// empty slice when the upstream omits the field.
func (c *Client) ImageTagsList(ctx context.Context, upstreamRepo string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v2/"+upstreamRepo+"/tags/list", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, req, []upstreamauth.Scope{upstreamauth.RepositoryScope(upstreamRepo, c.RepoActions)})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apierror.NewUpstreamError(resp, c.Project)
	}

	var body struct {
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &apierror.UpstreamProtocolError{Inner: err}
	}
	if body.Tags == nil {
		body.Tags = []string{}
	}
	return body.Tags, nil
}

// FetchTagsPage fetches the raw tags/list response for upstreamRepo,
// forwarding the given query parameters (typically "n"/"last") unchanged,
// and returns the decoded body alongside the "last" cursor for the next
// page, if the upstream offered one via a Link header. Rewriting the
// "name" field and the Link target to the registry-facing repo name is
// TagsListHandler's job (spec §4.5), not this client's.
func (c *Client) FetchTagsPage(ctx context.Context, upstreamRepo string, query url.Values) (map[string]interface{}, string, error) {
	u := c.BaseURL + "/v2/" + upstreamRepo + "/tags/list"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.doRequest(ctx, req, []upstreamauth.Scope{upstreamauth.RepositoryScope(upstreamRepo, c.RepoActions)})
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", apierror.NewUpstreamError(resp, c.Project)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", &apierror.UpstreamProtocolError{Inner: err}
	}

	next := ""
	if link := resp.Header.Get("Link"); link != "" {
		if m := linkNextRx.FindStringSubmatch(link); m != nil {
			if nextURL, err := url.Parse(m[1]); err == nil {
				next = nextURL.Query().Get("last")
			}
		}
	}
	return body, next, nil
}

// ImageDigest fetches the manifest for upstreamRepo:tag and returns its
// Docker-Content-Digest.
func (c *Client) ImageDigest(ctx context.Context, upstreamRepo, tag string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v2/"+upstreamRepo+"/manifests/"+tag, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", ManifestV2MediaType)

	resp, err := c.doRequest(ctx, req, []upstreamauth.Scope{upstreamauth.RepositoryScope(upstreamRepo, c.RepoActions)})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apierror.NewUpstreamError(resp, c.Project)
	}

	digest := resp.Header.Get("Docker-Content-Digest")
	if digest == "" {
		return "", &apierror.UpstreamProtocolError{Inner: errMissingContentDigest}
	}
	return digest, nil
}
