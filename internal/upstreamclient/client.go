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

// Package upstreamclient implements the HTTP client that talks to the
// backing container registry (generic v2, OAuth-secured v2, or AWS ECR),
// grounded on sapcc/keppel's internal/client.RepoClient
// (auth-challenge-then-retry, RegistryV2Error decoding on unexpected status)
// generalized from a per-repo client into one process-lifetime client that
// takes the repo as a parameter of each call.
package upstreamclient

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sapcc/registry-proxy/internal/apierror"
	"github.com/sapcc/registry-proxy/internal/upstreamauth"
)

// MaxDeleteConcurrency bounds concurrent delete operations process-wide
// (spec §4.5, §5).
const MaxDeleteConcurrency = 5

// Client owns the HTTP connection to the upstream registry, the auth
// strategy used to authenticate to it, and the semaphore bounding concurrent
// deletes.
type Client struct {
	BaseURL       string // scheme://host, no trailing slash
	Project       string
	Repo          string // optional fixed repo suffix under Project; may be empty
	HTTPClient    *http.Client
	Auth          upstreamauth.Strategy
	CatalogScope  string // default "registry:catalog:*"
	RepoActions   string // default "*"
	MaxCatalog    int    // maxCatalogEntries, default 1000

	// SockReadTimeout bounds pull requests only (spec §4.7 step 8, §5); zero
	// means unlimited. Push requests are never bounded since uploads may be
	// arbitrarily large and slow. Set by cmd/registry-proxy after New().
	SockReadTimeout time.Duration

	deleteSem *semaphore.Weighted
}

// New constructs an upstream Client. httpClient must already be configured
// with the desired connect timeout (spec §5: sockConnect); the pull-only read
// timeout is set separately through the SockReadTimeout field.
func New(baseURL, project, repo string, httpClient *http.Client, auth upstreamauth.Strategy) *Client {
	return &Client{
		BaseURL:      strings.TrimSuffix(baseURL, "/"),
		Project:      project,
		Repo:         repo,
		HTTPClient:   httpClient,
		Auth:         auth,
		CatalogScope: "registry:catalog:*",
		RepoActions:  "*",
		MaxCatalog:   1000,
		deleteSem:    semaphore.NewWeighted(MaxDeleteConcurrency),
	}
}

// prefix returns the upstream repo-name prefix this client's project (and,
// if configured, fixed repo) contribute, e.g. "testproject" or
// "testproject/shared".
func (c *Client) prefix() string {
	if c.Repo == "" {
		return c.Project
	}
	return c.Project + "/" + c.Repo
}

// upstreamRepo computes the full upstream repository name for a
// registry-local repo name.
func (c *Client) upstreamRepo(registryRepo string) string {
	return c.prefix() + "/" + registryRepo
}

// acquireDeleteSlot blocks until a delete slot is available or ctx is
// cancelled.
func (c *Client) acquireDeleteSlot(ctx context.Context) error {
	return c.deleteSem.Acquire(ctx, 1)
}

func (c *Client) releaseDeleteSlot() {
	c.deleteSem.Release(1)
}

// doRequest sends req (already built, sans auth) after attaching the
// upstream auth headers for the given scopes. It does not inspect the
// response status: callers check it and wrap unexpected statuses with
// apierror.NewUpstreamError themselves. Failures to obtain auth headers or to
// send the request are returned as apierror.UpstreamProtocolError. The
// returned *http.Response is non-nil only when err is nil; the caller is
// responsible for closing its body.
func (c *Client) doRequest(ctx context.Context, req *http.Request, scopes []upstreamauth.Scope) (*http.Response, error) {
	headers, err := c.Auth.GetHeaders(ctx, scopes)
	if err != nil {
		return nil, &apierror.UpstreamProtocolError{Inner: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &apierror.UpstreamProtocolError{Inner: err}
	}
	return resp, nil
}

// V2 performs the upstream version check (GET /v2/) used to validate
// connectivity and credentials.
func (c *Client) V2(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v2/", nil)
	if err != nil {
		return err
	}
	resp, err := c.doRequest(ctx, req, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apierror.NewUpstreamError(resp, c.Project)
	}
	return nil
}
