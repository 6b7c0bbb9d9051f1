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
	"errors"
	"time"
)

// AWSECRAuthToken is the parsed, ready-to-cache form of one
// AuthorizationData entry returned by ecr:GetAuthorizationToken. The token
// itself is already base64-encoded "AWS:password" and is used verbatim as
// the Basic auth credential (spec §4.4).
type AWSECRAuthToken struct {
	AuthorizationToken string
	ExpiresAt          time.Time
}

// newAWSECRAuthToken validates an AuthorizationData entry and applies the
// same expiration-ratio discount used for OAuth tokens, so that callers
// refresh before AWS actually invalidates the token (spec §3).
func newAWSECRAuthToken(rawToken string, now, upstreamExpiresAt time.Time) (AWSECRAuthToken, error) {
	if rawToken == "" {
		return AWSECRAuthToken{}, errors.New("ecr: authorizationToken is empty")
	}
	if !upstreamExpiresAt.After(now) {
		return AWSECRAuthToken{}, errors.New("ecr: authorizationData expiresAt is not in the future")
	}

	ttl := upstreamExpiresAt.Sub(now)
	scaled := time.Duration(float64(ttl) * expirationRatio)
	return AWSECRAuthToken{
		AuthorizationToken: rawToken,
		ExpiresAt:          now.Add(scaled),
	}, nil
}
