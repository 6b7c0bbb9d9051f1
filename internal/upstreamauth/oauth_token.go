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

package upstreamauth

import (
	"time"
)

// expirationRatio is applied to the upstream-reported expires_in to compute
// expiresAt, so that we refresh comfortably before the upstream actually
// invalidates the token (spec §3).
const expirationRatio = 0.75

// defaultExpiresIn is used when the token response omits expires_in.
const defaultExpiresIn = 60 * time.Second

// oauthTokenResponse is the wire shape of the upstream token endpoint's JSON
// response. Either Token or AccessToken must be present.
type oauthTokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	ExpiresIn   *int64 `json:"expires_in"`
	IssuedAt    string `json:"issued_at"`
}

// OAuthToken is the parsed, ready-to-cache form of an oauthTokenResponse.
type OAuthToken struct {
	AccessToken string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// newOAuthToken builds an OAuthToken from the raw token response, applying
// the default expires_in and the issued_at parsing rules from spec §3.
func newOAuthToken(resp oauthTokenResponse, now time.Time) (OAuthToken, error) {
	token := resp.Token
	if token == "" {
		token = resp.AccessToken
	}
	if token == "" {
		return OAuthToken{}, errMissingToken
	}

	expiresIn := defaultExpiresIn
	if resp.ExpiresIn != nil {
		expiresIn = time.Duration(*resp.ExpiresIn) * time.Second
	}

	issuedAt := now
	if resp.IssuedAt != "" {
		parsed, err := time.Parse(time.RFC3339, resp.IssuedAt)
		if err == nil {
			issuedAt = parsed
		}
	}

	scaled := time.Duration(float64(expiresIn) * expirationRatio)
	return OAuthToken{
		AccessToken: token,
		IssuedAt:    issuedAt,
		ExpiresAt:   issuedAt.Add(scaled),
	}, nil
}
