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

// Package repourl parses and rewrites Docker Registry v2 API paths, the way
// sapcc/keppel's internal/client/auth_challenge.go parses Www-Authenticate
// headers: small regex-anchored value types built from a single `fromURL`
// constructor.
package repourl

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// standardPathRx matches the regular v2 API path grammar. It is intentionally
// greedy on the repo group: for "/v2/a/b/tags/list", repo="a/b".
var standardPathRx = regexp.MustCompile(`^/v2/(?P<repo>.+)/(?P<suffix>(?:tags|manifests|blobs)/.*)$`)

// passthroughUploadDownloadRx matches CDN-style upload/download paths that
// must be forwarded verbatim, e.g. used by Google Artifact Registry.
var passthroughUploadDownloadRx = regexp.MustCompile(
	`^/(?:artifacts-uploads|artifacts-downloads)/namespaces/(?P<project>[^/]+)/repositories/(?P<repo>[^/]+)/(?:uploads|downloads)/(?P<id>[^/]+)$`)

// passthroughPkgBlobsRx matches the GAR-style pkg blob passthrough path.
var passthroughPkgBlobsRx = regexp.MustCompile(
	`^/v2/(?P<project>[^/]+)/(?P<repo>[^/]+)/pkg/blobs/.*$`)

var blobUploadsSuffixRx = regexp.MustCompile(`^blobs/uploads(?:/|$)`)

// ErrInvalidRegistryPath is returned by FromURL when no known path grammar
// matches the given URL.
type ErrInvalidRegistryPath struct {
	Path string
}

func (e *ErrInvalidRegistryPath) Error() string {
	return fmt.Sprintf("not a valid registry v2 path: %q", e.Path)
}

// RepoURL is an immutable value parsed out of a full request URL: the repo
// name, the mounted-from repo name (if any, for cross-repo blob mounts), and
// the underlying URL it was parsed from.
type RepoURL struct {
	repo           string
	suffix         string
	mountedRepo    string //set only for blobs/uploads?from=X
	allowSkipPerms bool
	url            url.URL
}

// FromURL parses a RepoURL out of a full request URL. Passthrough detection
// is tried before the standard v2 grammar, per spec §4.1.
func FromURL(u url.URL) (RepoURL, error) {
	if project, repo, ok := matchPassthrough(u); ok {
		return RepoURL{
			repo:           project + "/" + repo,
			allowSkipPerms: true,
			url:            u,
		}, nil
	}

	m := standardPathRx.FindStringSubmatch(u.Path)
	if m == nil {
		return RepoURL{}, &ErrInvalidRegistryPath{Path: u.Path}
	}
	repo := m[standardPathRx.SubexpIndex("repo")]
	suffix := m[standardPathRx.SubexpIndex("suffix")]

	r := RepoURL{
		repo:   repo,
		suffix: suffix,
		url:    u,
	}
	if blobUploadsSuffixRx.MatchString(suffix) {
		if from := u.Query().Get("from"); from != "" {
			r.mountedRepo = from
		}
	}
	return r, nil
}

func matchPassthrough(u url.URL) (project, repo string, ok bool) {
	if m := passthroughUploadDownloadRx.FindStringSubmatch(u.Path); m != nil {
		return m[passthroughUploadDownloadRx.SubexpIndex("project")],
			m[passthroughUploadDownloadRx.SubexpIndex("repo")], true
	}
	if m := passthroughPkgBlobsRx.FindStringSubmatch(u.Path); m != nil {
		return m[passthroughPkgBlobsRx.SubexpIndex("project")],
			m[passthroughPkgBlobsRx.SubexpIndex("repo")], true
	}
	return "", "", false
}

// Repo returns the repository name as seen by the registry client (no
// upstream project prefix).
func (r RepoURL) Repo() string { return r.repo }

// MountedRepo returns the cross-repo-mount source repo, or "" if this is not
// a blob-mount request.
func (r RepoURL) MountedRepo() string { return r.mountedRepo }

// Suffix returns the path suffix after the repo name, e.g. "tags/list" or
// "manifests/latest".
func (r RepoURL) Suffix() string { return r.suffix }

// AllowSkipPerms reports whether this URL matched a passthrough grammar and
// must bypass permission checks and project-prefix rewriting.
func (r RepoURL) AllowSkipPerms() bool { return r.allowSkipPerms }

// URL returns the underlying URL this RepoURL was parsed from.
func (r RepoURL) URL() url.URL { return r.url }

// IsPull reports whether a request with the given HTTP method is a read
// (pull) rather than a write (push), based solely on the method, per spec
// §4.7: HEAD and GET are pulls, everything else is a push.
func IsPull(method string) bool {
	return method == "HEAD" || method == "GET"
}

// WithProject rewrites the path to carry the given upstream project (and
// optional upstream repo) prefix: "/v2/{project}/{upstreamRepo/}?{repo}/{suffix}".
// If mountedRepo was set, the "from" query parameter is rewritten to
// "{project}/{mountedRepo}" (or "{project}/{upstreamRepo}/{mountedRepo}" when
// upstreamRepo is set).
func (r RepoURL) WithProject(project string, upstreamRepo string) RepoURL {
	out := r
	prefix := project
	if upstreamRepo != "" {
		prefix = project + "/" + upstreamRepo
	}
	out.repo = prefix + "/" + r.repo
	out.url.Path = "/v2/" + out.repo
	if r.suffix != "" {
		out.url.Path += "/" + r.suffix
	}

	if r.mountedRepo != "" {
		out.mountedRepo = prefix + "/" + r.mountedRepo
		q := out.url.Query()
		q.Set("from", out.mountedRepo)
		out.url.RawQuery = q.Encode()
	}
	return out
}

// WithRepo replaces only the repo component of the path, leaving the suffix,
// query, and origin untouched.
func (r RepoURL) WithRepo(newRepo string) RepoURL {
	out := r
	out.repo = newRepo
	out.url.Path = "/v2/" + newRepo
	if r.suffix != "" {
		out.url.Path += "/" + r.suffix
	}
	return out
}

// WithOrigin rebases the scheme/host/port of this URL onto the given origin.
// If the URL was absolute, it is first relativized.
func (r RepoURL) WithOrigin(origin url.URL) RepoURL {
	out := r
	out.url.Scheme = origin.Scheme
	out.url.Host = origin.Host
	return out
}

// WithQuery merges the given values into the existing query string,
// overwriting any keys that collide.
func (r RepoURL) WithQuery(values url.Values) RepoURL {
	out := r
	q := out.url.Query()
	for k, vs := range values {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	out.url.RawQuery = q.Encode()
	return out
}

// StripProjectPrefix removes the "{project}[/{upstreamRepo}]/" prefix from a
// raw upstream repo name, returning ok=false if the name does not carry that
// prefix. Used by Factory.CreateRegistryRepoURL; catalog paging strips the
// prefix with upstreamclient.Client.StripPrefix instead.
func StripProjectPrefix(name, project, upstreamRepo string) (string, bool) {
	prefix := project + "/"
	if upstreamRepo != "" {
		prefix = project + "/" + upstreamRepo + "/"
	}
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	return strings.TrimPrefix(name, prefix), true
}
