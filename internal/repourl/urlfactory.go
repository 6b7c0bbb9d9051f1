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

package repourl

import (
	"fmt"
	"net/url"
)

// Factory composes upstream/registry URLs and rewrites Location headers. It
// is stateless given its constructor inputs, per spec §4.2.
type Factory struct {
	RegistryEndpoint url.URL
	UpstreamEndpoint url.URL
	UpstreamProject  string
	UpstreamRepo     string //optional
}

// CreateUpstreamVersionCheckURL returns "upstream/v2/".
func (f Factory) CreateUpstreamVersionCheckURL() url.URL {
	u := f.UpstreamEndpoint
	u.Path = "/v2/"
	u.RawQuery = ""
	return u
}

// CreateUpstreamCatalogURL builds the upstream "_catalog" URL carrying the
// given query parameters (typically "n" and "last").
func (f Factory) CreateUpstreamCatalogURL(query url.Values) url.URL {
	u := f.UpstreamEndpoint
	u.Path = "/v2/_catalog"
	u.RawQuery = query.Encode()
	return u
}

// CreateRegistryCatalogURL builds the registry-local "_catalog" URL carrying
// the given query parameters, for Link headers.
func (f Factory) CreateRegistryCatalogURL(query url.Values) url.URL {
	u := f.RegistryEndpoint
	u.Path = "/v2/_catalog"
	u.RawQuery = query.Encode()
	return u
}

// CreateUpstreamRepoURL projects a registry-facing RepoURL into the
// upstream's namespace: if r.AllowSkipPerms(), only the origin is rebased;
// otherwise the configured project (and optional repo) prefix is applied
// before rebasing.
func (f Factory) CreateUpstreamRepoURL(r RepoURL) RepoURL {
	if r.AllowSkipPerms() {
		return r.WithOrigin(f.UpstreamEndpoint)
	}
	return r.WithProject(f.UpstreamProject, f.UpstreamRepo).WithOrigin(f.UpstreamEndpoint)
}

// CreateRegistryRepoURL is the inverse of CreateUpstreamRepoURL: it strips
// the configured project prefix back off and rebases onto the registry
// origin. Fails if u.Repo() does not start with the configured prefix.
func (f Factory) CreateRegistryRepoURL(u RepoURL) (RepoURL, error) {
	if u.AllowSkipPerms() {
		return u.WithOrigin(f.RegistryEndpoint), nil
	}
	repo, ok := StripProjectPrefix(u.Repo(), f.UpstreamProject, f.UpstreamRepo)
	if !ok {
		return RepoURL{}, fmt.Errorf("repo %q does not start with upstream project prefix %q", u.Repo(), f.projectPrefix())
	}
	out := u.WithRepo(repo).WithOrigin(f.RegistryEndpoint)
	if u.MountedRepo() != "" {
		mounted, ok := StripProjectPrefix(u.MountedRepo(), f.UpstreamProject, f.UpstreamRepo)
		if ok {
			out = out.WithQuery(url.Values{"from": {mounted}})
		}
	}
	return out, nil
}

func (f Factory) projectPrefix() string {
	if f.UpstreamRepo != "" {
		return f.UpstreamProject + "/" + f.UpstreamRepo
	}
	return f.UpstreamProject
}

// RewriteLocation rewrites a "Location" response header for the caller. If
// the Location's host is neither the upstream host nor the registry host, it
// is returned unchanged (a third-party redirect, e.g. an S3 presigned URL).
// Passthrough locations are always returned unchanged.
func (f Factory) RewriteLocation(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	loc, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if loc.Host != "" && loc.Host != f.UpstreamEndpoint.Host && loc.Host != f.RegistryEndpoint.Host {
		return raw, nil
	}

	repoURL, err := FromURL(*loc)
	if err != nil {
		//not a recognizable registry path; pass through unchanged rather than fail
		return raw, nil //nolint:nilerr
	}
	if repoURL.AllowSkipPerms() {
		return raw, nil
	}
	rewritten, err := f.CreateRegistryRepoURL(repoURL)
	if err != nil {
		return "", err
	}
	out := rewritten.URL()
	return out.String(), nil
}
