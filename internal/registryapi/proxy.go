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
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/registry-proxy/internal/apierror"
	"github.com/sapcc/registry-proxy/internal/authzclient"
	"github.com/sapcc/registry-proxy/internal/repourl"
	"github.com/sapcc/registry-proxy/internal/upstreamauth"
	"github.com/sapcc/registry-proxy/internal/upstreamclient"
)

// handleProxy implements the streaming reverse proxy (spec §4.7), plus the
// AWS ECR short-circuits (spec §4.7 steps 9/10) and passthrough paths (spec
// §6) that bypass permission checks and project-prefix rewriting entirely.
func (a *API) handleProxy(w http.ResponseWriter, r *http.Request) {
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
		if !a.checkProxyPermissions(w, r, user, repoURL) {
			return
		}
	}

	upstreamRepoURL := a.URLFactory.CreateUpstreamRepoURL(repoURL)
	upstreamRepo := upstreamRepoURL.Repo()
	isPull := repourl.IsPull(r.Method)

	ecrStrategy, isECR := a.Upstream.Auth.(upstreamauth.ECRStrategy)

	if isECR && !isPull {
		if err := ecrStrategy.CreateRepo(r.Context(), upstreamRepo); err != nil {
			respondwith.ErrorText(w, err)
			return
		}
	}

	if isECR && r.Method == http.MethodDelete && strings.HasPrefix(repoURL.Suffix(), "manifests/") {
		ref := strings.TrimPrefix(repoURL.Suffix(), "manifests/")
		a.handleECRManifestDelete(w, r, ecrStrategy, upstreamRepo, ref)
		return
	}

	followRedirects := isECR && isPull && strings.HasPrefix(repoURL.Suffix(), "blobs/")

	ctx := r.Context()
	if isPull && a.Upstream.SockReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Upstream.SockReadTimeout)
		defer cancel()
	}

	scopes := []upstreamauth.Scope{upstreamauth.RepositoryScope(upstreamRepo, a.Upstream.RepoActions)}
	if mounted := upstreamRepoURL.URL().Query().Get("from"); mounted != "" {
		scopes = append(scopes, upstreamauth.RepositoryScope(mounted, a.Upstream.RepoActions))
	}

	upstreamURL := upstreamRepoURL.URL()
	bodyReader := r.Body
	contentLength := r.ContentLength
	if r.Method == http.MethodHead {
		bodyReader = http.NoBody
		contentLength = 0
	}

	upReq, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL.String(), bodyReader)
	if err != nil {
		respondwith.ErrorText(w, err)
		return
	}
	upReq.ContentLength = contentLength
	for k, v := range r.Header {
		upReq.Header[k] = v
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		upReq.Header.Set("Content-Type", ct)
	}

	resp, err := a.Upstream.ProxyRequest(ctx, upReq, scopes, followRedirects)
	if err != nil {
		var protoErr *apierror.UpstreamProtocolError
		if errors.As(err, &protoErr) {
			protoErr.WriteTo(w)
			return
		}
		respondwith.ErrorText(w, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		logg.Error("upstream responded with status %d for %s %s (headers: %v)", resp.StatusCode, r.Method, r.URL.Path, resp.Header)
	}

	upstreamclient.FilterResponseHeaders(w.Header(), resp.Header)
	if loc := resp.Header.Get("Location"); loc != "" {
		rewritten, err := a.URLFactory.RewriteLocation(loc)
		if err == nil {
			w.Header().Set("Location", rewritten)
		}
	}

	w.WriteHeader(resp.StatusCode)
	if r.Method != http.MethodHead {
		_ = upstreamclient.CopyResponseBody(w, resp.Body)
	}
}

// checkProxyPermissions implements spec §4.7 step 2: write (or read, for
// pull methods) on the target repo, plus read on the mounted repo for
// cross-repo blob mounts. Any denial (including a failure to reach the
// authorization service) is surfaced as 401, never 403.
func (a *API) checkProxyPermissions(w http.ResponseWriter, r *http.Request, user string, repoURL repourl.RepoURL) bool {
	action := "write"
	if repourl.IsPull(r.Method) {
		action = "read"
	}
	reqs := []authzclient.PermissionRequest{
		{URI: fmt.Sprintf("image://%s/%s", a.Config.Cluster, repoURL.Repo()), Action: action},
	}
	if mounted := repoURL.MountedRepo(); mounted != "" {
		reqs = append(reqs, authzclient.PermissionRequest{URI: fmt.Sprintf("image://%s/%s", a.Config.Cluster, mounted), Action: "read"})
	}

	if err := a.Authz.CheckPermissions(r.Context(), user, reqs); err != nil {
		apierror.WriteAuthChallenge(w, a.Config.Server.Name)
		apierror.ErrUnauthorized.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
		return false
	}
	return true
}

// handleECRManifestDelete implements spec §4.7 step 9: ECR has no manifest
// DELETE endpoint, so this bypasses the generic proxy entirely.
func (a *API) handleECRManifestDelete(w http.ResponseWriter, r *http.Request, ecrStrategy upstreamauth.ECRStrategy, ecrRepo, ref string) {
	imageID := types.ImageIdentifier{}
	if strings.Contains(ref, ":") {
		imageID.ImageDigest = &ref
	} else {
		imageID.ImageTag = &ref
	}

	failures, err := ecrStrategy.BatchDeleteImages(r.Context(), ecrRepo, []types.ImageIdentifier{imageID})
	if err != nil {
		if code, matched := upstreamauth.ClassifyBatchDeleteImageError(err); matched && code == upstreamauth.ECRFailureRepositoryNotFound {
			apierror.ErrNameUnknown.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
			return
		}
		respondwith.ErrorText(w, err)
		return
	}

	if len(failures) > 0 {
		code, rawCode, reason := upstreamauth.ClassifyImageFailure(failures[0])
		if code == upstreamauth.ECRFailureImageNotFound {
			apierror.ErrNameInvalid.With(reason).WithStatus(http.StatusNotFound).WriteAsRegistryV2ResponseTo(w)
			return
		}
		(&apierror.PassthroughError{RawCode: 0, Message: rawCode, Detail: reason}).WriteAsRegistryV2ResponseTo(w)
		return
	}

	if err := ecrStrategy.DeleteRepo(r.Context(), ecrRepo); err != nil {
		logg.Error("failed to clean up ECR repository %s after manifest delete: %s", ecrRepo, err.Error())
	}

	w.WriteHeader(http.StatusAccepted)
}
