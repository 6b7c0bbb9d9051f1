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
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/registry-proxy/internal/apierror"
	"github.com/sapcc/registry-proxy/internal/permissions"
	"github.com/sapcc/registry-proxy/internal/upstreamclient"
)

var allowedCatalogQueryParams = map[string]bool{"n": true, "last": true, "org": true, "project": true}

// handleCatalog implements GET /v2/_catalog (spec §4.6, §6): the paged,
// permission-filtered catalog.
func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")

	user, _, err := authenticateCaller(r)
	if err != nil {
		a.requireCaller(w, r)
		return
	}

	query := r.URL.Query()
	for key := range query {
		if !allowedCatalogQueryParams[key] {
			http.Error(w, fmt.Sprintf("unknown query parameter: %q", key), http.StatusBadRequest)
			return
		}
	}

	requestedN := 100
	if raw := query.Get("n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, `invalid value for "n"`, http.StatusBadRequest)
			return
		}
		requestedN = n
	}
	requestedLast := query.Get("last")

	tree, err := a.Authz.GetPermissionsTree(r.Context(), user, a.Config.Cluster)
	if err != nil {
		apierror.WriteAuthChallenge(w, a.Config.Server.Name)
		respondwith.ErrorText(w, respondwith.CustomStatus(http.StatusUnauthorized, err))
		return
	}

	filtered, nextLast, err := collectCatalogPage(r.Context(), a.Upstream, tree, requestedN, requestedLast)
	if respondwith.ErrorText(w, err) {
		return
	}

	if nextLast != "" {
		linkQuery := url.Values{}
		linkQuery.Set("n", strconv.Itoa(a.Upstream.MaxCatalog))
		linkQuery.Set("last", nextLast)
		linkURL := a.URLFactory.CreateRegistryCatalogURL(linkQuery)
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, linkURL.String()))
	}

	if filtered == nil {
		filtered = []string{}
	}
	respondwith.JSON(w, http.StatusOK, map[string]interface{}{"repositories": filtered})
}

// collectCatalogPage implements the oversampling-plus-corrective-fetch
// algorithm of spec §4.6: it honors requestedN exactly while skipping
// upstream entries the caller cannot see, and returns the cursor the caller
// should use to resume (empty string if there is nothing more to see).
func collectCatalogPage(ctx context.Context, upstream *upstreamclient.Client, tree *permissions.Node, requestedN int, requestedLast string) ([]string, string, error) {
	var filtered []string
	pageStartLast := requestedLast

	for {
		n := requestedN - len(filtered)
		if n < upstream.MaxCatalog {
			n = upstream.MaxCatalog
		}

		page, err := upstream.FetchCatalogPage(ctx, n, pageStartLast)
		if err != nil {
			return nil, "", err
		}

		index := 0
		for _, raw := range page.Names {
			index++
			name, ok := upstream.StripPrefix(raw)
			if !ok {
				logg.Info("Bad image: %s", raw)
				continue
			}
			if permissions.CheckImageCatalogPermission(name, tree) {
				filtered = append(filtered, name)
			}
			if len(filtered) == requestedN {
				break
			}
		}

		if len(filtered) == requestedN {
			moreImages := page.HasNext || index < len(page.Names)
			lastTokenIsCorrect := index == len(page.Names)

			var nextLast string
			if lastTokenIsCorrect {
				if page.HasNext {
					nextLast = page.Next
				}
			} else if moreImages {
				extra, err := upstream.FetchCatalogPage(ctx, index, pageStartLast)
				if err != nil {
					return nil, "", err
				}
				if extra.HasNext {
					nextLast = extra.Next
				}
			}
			return filtered, nextLast, nil
		}

		if !page.HasNext {
			return filtered, "", nil
		}
		pageStartLast = page.Next
	}
}
