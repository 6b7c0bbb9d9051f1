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
	"net/http"
	"strings"
	"sync"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/registry-proxy/internal/apierror"
	"github.com/sapcc/registry-proxy/internal/upstreamauth"
)

// isGAR reports whether upstreamHost is a Google Artifact Registry host,
// which requires deleting tags before the manifest they point at (spec
// §4.5, GLOSSARY: "GAR").
func isGAR(upstreamHost string) bool {
	return strings.HasSuffix(upstreamHost, ".pkg.dev")
}

func (c *Client) delete(ctx context.Context, path string, scope upstreamauth.Scope) error {
	if err := c.acquireDeleteSlot(ctx); err != nil {
		return err
	}
	defer c.releaseDeleteSlot()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.doRequest(ctx, req, []upstreamauth.Scope{scope})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return apierror.NewUpstreamError(resp, c.Project)
	}
	return nil
}

// DeleteTag deletes one tag reference from upstreamRepo.
func (c *Client) DeleteTag(ctx context.Context, upstreamRepo, tag string) error {
	return c.delete(ctx, "/v2/"+upstreamRepo+"/manifests/"+tag, upstreamauth.RepositoryScope(upstreamRepo, c.RepoActions))
}

// DeleteManifest deletes the manifest identified by digest from
// upstreamRepo. On GAR hosts, the tags that reference it must be deleted
// first (GAR refuses to delete a manifest still referenced by a tag).
func (c *Client) DeleteManifest(ctx context.Context, upstreamRepo, digest string, tags []string) error {
	upstreamURL := c.BaseURL
	if host := hostOf(upstreamURL); isGAR(host) {
		for _, tag := range tags {
			if err := c.DeleteTag(ctx, upstreamRepo, tag); err != nil {
				return err
			}
		}
	}
	return c.delete(ctx, "/v2/"+upstreamRepo+"/manifests/"+digest, upstreamauth.RepositoryScope(upstreamRepo, c.RepoActions))
}

func hostOf(rawBaseURL string) string {
	//BaseURL is always "scheme://host[:port]" (constructor strips any trailing
	//slash), so a simple split is enough without re-parsing as a URL.
	parts := strings.SplitN(rawBaseURL, "://", 2)
	if len(parts) != 2 {
		return rawBaseURL
	}
	return parts[1]
}

// DeleteProjectImages enumerates every image under org/project and deletes
// it: for each image, tags are grouped by the digest they point at, and
// each group's manifest is deleted concurrently, bounded by the client's
// delete semaphore (spec §4.5, §4.9, §5).
func (c *Client) DeleteProjectImages(ctx context.Context, org, project string) error {
	prefix := org + "/" + project

	return c.ListImages(ctx, func(name string) error {
		if !strings.HasPrefix(name, prefix+"/") && name != prefix {
			return nil
		}
		return c.deleteImage(ctx, name)
	})
}

func (c *Client) deleteImage(ctx context.Context, registryRepo string) error {
	upstreamRepo := c.upstreamRepo(registryRepo)

	tags, err := c.ImageTagsList(ctx, upstreamRepo)
	if err != nil {
		return err
	}

	byDigest := make(map[string][]string)
	for _, tag := range tags {
		digest, err := c.ImageDigest(ctx, upstreamRepo, tag)
		if err != nil {
			return err
		}
		byDigest[digest] = append(byDigest[digest], tag)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(byDigest))
	for digest, groupTags := range byDigest {
		digest, groupTags := digest, groupTags
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.DeleteManifest(ctx, upstreamRepo, digest, groupTags); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		//deletion must tolerate "not found" for already-removed images (spec §9);
		//any other failure aborts this image's deletion and is logged for the caller.
		if isNotFoundError(err) {
			continue
		}
		logg.Error("while deleting %s: %s", upstreamRepo, err.Error())
		return err
	}
	return nil
}

func isNotFoundError(err error) bool {
	upstreamErr, ok := err.(*apierror.UpstreamError)
	return ok && upstreamErr.Status == http.StatusNotFound
}
