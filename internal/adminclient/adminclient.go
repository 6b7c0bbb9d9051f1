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

// Package adminclient is a thin HTTP client for the external project-
// membership service (spec §6: getUser), grounded on the same RepoClient
// request pattern as authzclient.
package adminclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Client talks to the admin (organization/project membership) service.
type Client struct {
	EndpointURL string
	Token       string
	HTTPClient  *http.Client
}

// New constructs a Client.
func New(endpointURL, token string, httpClient *http.Client) *Client {
	return &Client{EndpointURL: endpointURL, Token: token, HTTPClient: httpClient}
}

// Membership is one (org, project) pair a user participates in.
type Membership struct {
	OrgName     string `json:"orgName"`
	ProjectName string `json:"projectName"`
}

// User is the response shape of GetUser.
type User struct {
	Name     string       `json:"name"`
	Projects []Membership `json:"projects"`
}

// GetUser fetches name's profile, including its project memberships when
// includeProjects is true (spec §6).
func (c *Client) GetUser(ctx context.Context, name string, includeProjects bool) (*User, error) {
	url := fmt.Sprintf("%s/users/%s", c.EndpointURL, name)
	if includeProjects {
		url += "?includeProjects=true"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("admin service rejected getUser(%s): status %d", name, resp.StatusCode)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, err
	}
	return &user, nil
}
