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

// Package registryapi implements the client-facing v2 HTTP handlers (spec
// §6), grounded on sapcc/keppel's internal/api/registry package: the same
// API-struct-plus-AddTo(mux.Router) shape, generalized from "proxy to one of
// several keppel-registry backends selected by account" to "proxy to the one
// configured upstream, rewriting between a flat caller-facing namespace and
// the upstream's project-prefixed namespace."
package registryapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sapcc/registry-proxy/internal/authzclient"
	"github.com/sapcc/registry-proxy/internal/proxycfg"
	"github.com/sapcc/registry-proxy/internal/repourl"
	"github.com/sapcc/registry-proxy/internal/upstreamclient"
)

// API holds the state shared by every v2 handler.
type API struct {
	Config     proxycfg.Configuration
	Upstream   *upstreamclient.Client
	Authz      *authzclient.Client
	URLFactory repourl.Factory
	Version    string
}

// NewAPI constructs an API instance.
func NewAPI(cfg proxycfg.Configuration, upstream *upstreamclient.Client, authz *authzclient.Client, factory repourl.Factory, version string) *API {
	return &API{Config: cfg, Upstream: upstream, Authz: authz, URLFactory: factory, Version: version}
}

// AddTo adds this API's routes to the given router.
func (a *API) AddTo(r *mux.Router) {
	r.Use(a.serviceVersionMiddleware)

	r.Methods("GET").Path("/ping").HandlerFunc(handlePing)
	r.Methods("GET").Path("/v2/").HandlerFunc(a.handleVersionCheck)
	r.Methods("GET").Path("/v2/_catalog").HandlerFunc(a.handleCatalog)
	r.Methods("GET").Path("/v2/{repo:.+}/tags/list").HandlerFunc(a.handleTagsList)

	r.PathPrefix("/artifacts-uploads/").HandlerFunc(a.handleProxy)
	r.PathPrefix("/artifacts-downloads/").HandlerFunc(a.handleProxy)
	r.Methods("GET", "HEAD", "POST", "PUT", "PATCH", "DELETE").
		PathPrefix("/v2/").HandlerFunc(a.handleProxy)
}

// serviceVersionMiddleware stamps every response with X-Service-Version
// (spec §6).
func (a *API) serviceVersionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Service-Version", proxycfg.Component+"/"+a.Version)
		next.ServeHTTP(w, r)
	})
}

// handlePing implements GET /ping (spec §6).
func handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}
