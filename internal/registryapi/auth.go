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
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

// ErrMissingCredentials is returned by authenticateCaller when no
// Authorization header is present at all (spec §7: ClientAuthError → 401).
var ErrMissingCredentials = errors.New("missing Authorization header")

// ErrMalformedCredentials is returned when an Authorization: Basic header is
// present but cannot be decoded (spec §7: ClientAuthError → 400).
var ErrMalformedCredentials = errors.New("malformed Authorization header")

// authenticateCaller extracts the caller's user identity from a Basic
// Authorization header, grounded on sapcc/keppel's
// internal/auth.decodeAuthHeader, generalized from "decode into a token
// request" to "decode into a bare identity" since this proxy validates
// credentials against the upstream itself rather than issuing its own
// tokens.
func authenticateCaller(r *http.Request) (user, password string, err error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "", ErrMissingCredentials
	}
	if !strings.HasPrefix(header, "Basic ") {
		return "", "", ErrMalformedCredentials
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
	if err != nil {
		return "", "", ErrMalformedCredentials
	}

	fields := strings.SplitN(string(raw), ":", 2)
	if len(fields) != 2 {
		return "", "", ErrMalformedCredentials
	}
	return fields[0], fields[1], nil
}
