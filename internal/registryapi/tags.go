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
	"fmt"
	"net/http"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	distspecv1 "github.com/opencontainers/distribution-spec/specs-go/v1"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/registry-proxy/internal/apierror"
	"github.com/sapcc/registry-proxy/internal/authzclient"
	"github.com/sapcc/registry-proxy/internal/repourl"
	"github.com/sapcc/registry-proxy/internal/upstreamauth"
)

// handleTagsList implements GET /v2/{repo}/tags/list (spec §4.5): either a
// rewriting proxy to the generic upstream, or, for the AWS ECR strategy, a
// direct ListImages call (ECR has no tags/list endpoint of its own).
func (a *API) handleTagsList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")

	user, _, err := authenticateCaller(r)
	if err != nil {
		a.requireCaller(w, r)
		return
	}

	repoURL, err := repourl.FromURL(*r.URL)
	if err != nil {
		apierror.ErrNameInvalid.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
		return
	}

	if !repoURL.AllowSkipPerms() {
		uri := fmt.Sprintf("image://%s/%s", a.Config.Cluster, repoURL.Repo())
		req := []authzclient.PermissionRequest{{URI: uri, Action: "read"}}
		if err := a.Authz.CheckPermissions(r.Context(), user, req); err != nil {
			apierror.WriteAuthChallenge(w, a.Config.Server.Name)
			apierror.ErrUnauthorized.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
			return
		}
	}

	upstreamRepoURL := a.URLFactory.CreateUpstreamRepoURL(repoURL)
	registryRepo := repoURL.Repo()
	upstreamRepo := upstreamRepoURL.Repo()

	if ecrStrategy, ok := a.Upstream.Auth.(upstreamauth.ECRStrategy); ok {
		a.handleECRTagsList(w, r, ecrStrategy, registryRepo, upstreamRepo)
		return
	}
	a.proxyTagsList(w, r, registryRepo, upstreamRepo)
}

// proxyTagsList forwards the request to a generic upstream, rewriting the
// response's "name" field back to the caller-facing repo name (the upstream
// error path already scrubs the project prefix, see
// apierror.UpstreamError.ScrubProjectPrefix, which has the same effect on
// "errors[*].detail.name" without needing JSON-aware rewriting there).
func (a *API) proxyTagsList(w http.ResponseWriter, r *http.Request, registryRepo, upstreamRepo string) {
	body, next, err := a.Upstream.FetchTagsPage(r.Context(), upstreamRepo, r.URL.Query())
	if err != nil {
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
		respondwith.ErrorText(w, err)
		return
	}

	if name, ok := body["name"].(string); ok && name == upstreamRepo {
		body["name"] = registryRepo
	}

	if next != "" {
		linkQuery := url.Values{"last": {next}}
		if n := r.URL.Query().Get("n"); n != "" {
			linkQuery.Set("n", n)
		}
		linkURL := url.URL{
			Scheme:   a.URLFactory.RegistryEndpoint.Scheme,
			Host:     a.URLFactory.RegistryEndpoint.Host,
			Path:     fmt.Sprintf("/v2/%s/tags/list", registryRepo),
			RawQuery: linkQuery.Encode(),
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, linkURL.String()))
	}

	respondwith.JSON(w, http.StatusOK, body)
}

// handleECRTagsList lists an ECR repository's tagged images directly, since
// ECR has no tags/list endpoint of its own (spec §4.5 ECR variant). An empty
// result with no further pages triggers best-effort cleanup of the now-empty
// repository, mirroring the DeleteRepo idempotency used elsewhere for ECR.
func (a *API) handleECRTagsList(w http.ResponseWriter, r *http.Request, ecrStrategy upstreamauth.ECRStrategy, registryRepo, ecrRepo string) {
	var nextToken *string
	if t := r.URL.Query().Get("last"); t != "" {
		nextToken = &t
	}

	out, err := ecrStrategy.ListImages(r.Context(), ecrRepo, types.ListImagesFilter{TagStatus: types.TagStatusTagged}, nextToken)
	if err != nil {
		if code, matched := upstreamauth.ClassifyBatchDeleteImageError(err); matched && code == upstreamauth.ECRFailureRepositoryNotFound {
			apierror.ErrNameUnknown.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
			return
		}
		apierror.ErrUnsupported.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
		return
	}

	tags := make([]string, 0, len(out.ImageIds))
	for _, id := range out.ImageIds {
		if id.ImageTag != nil {
			tags = append(tags, *id.ImageTag)
		}
	}

	if len(tags) == 0 && out.NextToken == nil {
		if err := ecrStrategy.DeleteRepo(r.Context(), ecrRepo); err != nil {
			logg.Error("failed to clean up empty ECR repository %s: %s", ecrRepo, err.Error())
		}
	}

	if out.NextToken != nil {
		linkURL := url.URL{
			Scheme:   a.URLFactory.RegistryEndpoint.Scheme,
			Host:     a.URLFactory.RegistryEndpoint.Host,
			Path:     fmt.Sprintf("/v2/%s/tags/list", registryRepo),
			RawQuery: url.Values{"last": {*out.NextToken}}.Encode(),
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, linkURL.String()))
	}

	respondwith.JSON(w, http.StatusOK, distspecv1.TagList{Name: registryRepo, Tags: tags})
}
