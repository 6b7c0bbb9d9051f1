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

package upstreamclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/sapcc/registry-proxy/internal/apierror"
	"github.com/sapcc/registry-proxy/internal/upstreamauth"
)

// CatalogPage is one page of upstream catalog entries, plus the upstream's
// own pagination cursor for the page that follows it.
type CatalogPage struct {
	Names   []string
	HasNext bool
	Next    string // "last" cursor for the next upstream page, if HasNext
}

var linkNextRx = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// FetchCatalogPage fetches one page of the raw upstream catalog, following
// neither upstream project prefixing nor permission filtering -- both are
// the caller's job (spec §4.6). Exported for CatalogHandler's oversampling
// algorithm, which needs direct control over n/last per request.
func (c *Client) FetchCatalogPage(ctx context.Context, n int, last string) (CatalogPage, error) {
	q := url.Values{}
	q.Set("n", strconv.Itoa(n))
	if last != "" {
		q.Set("last", last)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v2/_catalog?"+q.Encode(), nil)
	if err != nil {
		return CatalogPage{}, err
	}

	resp, err := c.doRequest(ctx, req, []upstreamauth.Scope{upstreamauth.CatalogScope(c.catalogAction())})
	if err != nil {
		return CatalogPage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CatalogPage{}, apierror.NewUpstreamError(resp, c.Project)
	}

	var body struct {
		Repositories []string `json:"repositories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return CatalogPage{}, &apierror.UpstreamProtocolError{Inner: err}
	}

	page := CatalogPage{Names: body.Repositories}
	if link := resp.Header.Get("Link"); link != "" {
		if m := linkNextRx.FindStringSubmatch(link); m != nil {
			if nextURL, err := url.Parse(m[1]); err == nil {
				page.HasNext = true
				page.Next = nextURL.Query().Get("last")
			}
		}
	}
	return page, nil
}

func (c *Client) catalogAction() string {
	return c.CatalogScope
}

// stripPrefix removes the project (and optional fixed-repo) prefix from an
// upstream image name, returning ok=false if the name does not carry it
// (logged by the caller as "Bad image", spec §4.6 step 3).
func (c *Client) stripPrefix(name string) (string, bool) {
	p := c.prefix() + "/"
	if !strings.HasPrefix(name, p) {
		return "", false
	}
	return strings.TrimPrefix(name, p), true
}

// StripPrefix is the exported form of stripPrefix, used by CatalogHandler's
// own oversampling loop (spec §4.6), which needs direct control over paging
// that ListImages' simpler all-pages iterator does not expose.
func (c *Client) StripPrefix(name string) (string, bool) {
	return c.stripPrefix(name)
}

// Prefix returns the upstream repo-name prefix contributed by this client's
// project (and, if configured, fixed repo).
func (c *Client) Prefix() string {
	return c.prefix()
}

// ListImages iterates the upstream catalog and yields, across possibly many
// upstream pages, every image name under this client's project (and
// optional fixed repo) prefix, stripped of that prefix. It is the primitive
// behind DeleteProjectImages (and so ProjectDeleter); CatalogHandler pages
// with FetchCatalogPage directly instead (spec §4.5).
func (c *Client) ListImages(ctx context.Context, yield func(name string) error) error {
	last := ""
	for {
		page, err := c.FetchCatalogPage(ctx, c.MaxCatalog, last)
		if err != nil {
			return err
		}
		for _, raw := range page.Names {
			name, ok := c.stripPrefix(raw)
			if !ok {
				continue
			}
			if err := yield(name); err != nil {
				return err
			}
		}
		if !page.HasNext {
			return nil
		}
		last = page.Next
	}
}
