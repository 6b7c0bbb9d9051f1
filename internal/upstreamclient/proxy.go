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
	"io"
	"net/http"

	"github.com/sapcc/registry-proxy/internal/upstreamauth"
)

// hopByHopHeaders must never be copied between caller and upstream, in
// either direction (spec §4.7 step 6/11), grounded on keppel's
// ReverseProxyAnycastRequestToPeer allow-list generalized into a deny-list
// since this proxy otherwise forwards everything.
var hopByHopRequestHeaders = []string{"Host", "Transfer-Encoding", "Connection"}
var hopByHopResponseHeaders = []string{"Transfer-Encoding", "Content-Encoding", "Connection"}

// ProxyRequest sends req to the upstream (req.URL must already point at the
// upstream host and path) after attaching the Authorization header(s) for
// the given scopes, without buffering the request or response body. The
// caller owns writing the returned response to its own ResponseWriter and
// must close the response body.
//
// req's body, if any, is streamed as-is (http.Client already does this
// without full buffering as long as req.GetBody/ContentLength are set
// correctly by the caller).
func (c *Client) ProxyRequest(ctx context.Context, req *http.Request, scopes []upstreamauth.Scope, followRedirects bool) (*http.Response, error) {
	for _, h := range hopByHopRequestHeaders {
		req.Header.Del(h)
	}

	client := c.HTTPClient
	if followRedirects {
		cloned := *c.HTTPClient
		cloned.CheckRedirect = nil //default Go behavior: follow, up to 10 redirects
		client = &cloned
	} else {
		cloned := *c.HTTPClient
		cloned.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
		client = &cloned
	}

	headers, err := c.Auth.GetHeaders(ctx, scopes)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return client.Do(req)
}

// CopyResponseBody streams resp's body to w in chunks, without buffering
// the whole body in memory (spec §4.7 step 11, §9 "Streaming").
func CopyResponseBody(w io.Writer, body io.Reader) error {
	_, err := io.Copy(w, body)
	return err
}

// FilterResponseHeaders copies header entries from src to dst, skipping
// hop-by-hop headers that must not be forwarded (spec §4.7 step 11).
func FilterResponseHeaders(dst http.Header, src http.Header) {
	for k, v := range src {
		if containsFold(hopByHopResponseHeaders, k) {
			continue
		}
		dst[k] = v
	}
}

func containsFold(list []string, needle string) bool {
	for _, item := range list {
		if http.CanonicalHeaderKey(item) == http.CanonicalHeaderKey(needle) {
			return true
		}
	}
	return false
}
