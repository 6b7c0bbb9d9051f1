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
	"errors"
	"net/http"

	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/registry-proxy/internal/apierror"
)

// handleVersionCheck implements GET /v2/ (spec §4.2/§6): an authenticated
// version check. Beyond authenticating the caller, it validates the upstream
// itself by calling Upstream.V2 against the URL URLFactory.
// CreateUpstreamVersionCheckURL names (spec §4.5), surfacing any upstream
// failure instead of always reporting success.
func (a *API) handleVersionCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")

	if !a.requireCaller(w, r) {
		return
	}

	upstreamURL := a.URLFactory.CreateUpstreamVersionCheckURL()
	if err := a.Upstream.V2(r.Context()); err != nil {
		var upErr *apierror.UpstreamError
		if errors.As(err, &upErr) {
			upErr.WriteTo(w)
			return
		}
		var protoErr *apierror.UpstreamProtocolError
		if errors.As(err, &protoErr) {
			protoErr.WriteTo(w)
			return
		}
		logg.Error("upstream version check against %s failed: %s", upstreamURL.String(), err.Error())
		respondwith.ErrorText(w, err)
		return
	}

	respondwith.JSON(w, http.StatusOK, map[string]interface{}{})
}

// requireCaller authenticates the caller per spec §4.7 step 1, writing the
// appropriate error response and returning false on failure.
func (a *API) requireCaller(w http.ResponseWriter, r *http.Request) bool {
	_, _, err := authenticateCaller(r)
	if err == nil {
		return true
	}

	switch err {
	case ErrMissingCredentials:
		apierror.WriteAuthChallenge(w, a.Config.Server.Name)
		apierror.ErrUnauthorized.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
	default:
		apierror.ErrUnsupported.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
	}
	return false
}
