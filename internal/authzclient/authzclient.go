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

// Package authzclient is a thin HTTP client for the external authorization
// service (a capability-tree provider, spec §6): checkPermissions and
// getPermissionsTree. It is deliberately minimal, grounded on sapcc/keppel's
// internal/client.RepoClient request/response pattern, since the service
// itself is out of scope (spec §1: "external collaborators with stated
// interfaces").
package authzclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sapcc/registry-proxy/internal/permissions"
)

// Client talks to the authorization service.
type Client struct {
	EndpointURL  string
	ServiceToken string
	HTTPClient   *http.Client
}

// New constructs a Client.
func New(endpointURL, serviceToken string, httpClient *http.Client) *Client {
	return &Client{EndpointURL: endpointURL, ServiceToken: serviceToken, HTTPClient: httpClient}
}

// PermissionRequest is one entry of the array passed to CheckPermissions.
type PermissionRequest struct {
	URI    string `json:"uri"`    // e.g. "image://{cluster}/{repo}"
	Action string `json:"action"` // "read" or "write"
}

// CheckPermissions asks the authorization service whether user holds every
// requested permission. A non-nil error always means "treat as denied"; per
// spec §4.7 step 2 and §7, callers must surface this as 401, not 403.
func (c *Client) CheckPermissions(ctx context.Context, user string, reqs []PermissionRequest) error {
	payload, err := json.Marshal(struct {
		User        string               `json:"user"`
		Permissions []PermissionRequest `json:"permissions"`
	}{User: user, Permissions: reqs})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.EndpointURL+"/check-permissions", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ServiceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.ServiceToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authorization service denied permissions for %s: status %d", user, resp.StatusCode)
	}
	return nil
}

// GetPermissionsTree fetches the caller's permission subtree rooted at
// "image://{cluster}" (spec §3, §6).
func (c *Client) GetPermissionsTree(ctx context.Context, user, cluster string) (*permissions.Node, error) {
	url := fmt.Sprintf("%s/permissions-tree?user=%s&root=image://%s", c.EndpointURL, user, cluster)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.ServiceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.ServiceToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authorization service rejected permissions-tree request for %s: status %d", user, resp.StatusCode)
	}

	var tree permissions.Node
	if err := json.NewDecoder(resp.Body).Decode(&tree); err != nil {
		return nil, err
	}
	return &tree, nil
}
