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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapcc/registry-proxy/internal/upstreamauth"
)

func basicStrategyForTest(t *testing.T) upstreamauth.Strategy {
	strategy, err := upstreamauth.New("basic", upstreamauth.BasicConfig{Username: "svc", Password: "secret"})
	require.NoError(t, err)
	return strategy
}

func TestHandleVersionCheckCallsUpstream(t *testing.T) {
	var upstreamHits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		assert.Equal(t, "/v2/", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(upstream.Close)

	authz := allowAllAuthzServer(t)
	t.Cleanup(authz.Close)

	a := newTagsTestAPI(t, upstream.URL, authz.URL, basicStrategyForTest(t))

	w := httptest.NewRecorder()
	a.handleVersionCheck(w, proxyRequest(http.MethodGet, "/v2/"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, upstreamHits)
}

func TestHandleVersionCheckSurfacesUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"errors":[{"code":"UNAVAILABLE","message":"down"}]}`))
	}))
	t.Cleanup(upstream.Close)

	authz := allowAllAuthzServer(t)
	t.Cleanup(authz.Close)

	a := newTagsTestAPI(t, upstream.URL, authz.URL, basicStrategyForTest(t))

	w := httptest.NewRecorder()
	a.handleVersionCheck(w, proxyRequest(http.MethodGet, "/v2/"))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleVersionCheckRequiresCredentials(t *testing.T) {
	a := newTagsTestAPI(t, "", "", basicStrategyForTest(t))

	w := httptest.NewRecorder()
	a.handleVersionCheck(w, httptest.NewRequest(http.MethodGet, "/v2/", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
