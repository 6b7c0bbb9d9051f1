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

package upstreamauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"

	"github.com/sapcc/registry-proxy/internal/cache"
)

// ecrCacheKey is the single cache key used for all scopes, since ECR
// authorization tokens are account-global rather than repository-scoped
// (spec §4.4).
const ecrCacheKey = "*"

// ECRAPI is the subset of *ecr.Client this package needs. Defined as an
// interface so tests can supply a fake, grounded on the small-interface
// style used throughout sapcc/keppel's driver packages.
type ECRAPI interface {
	GetAuthorizationToken(ctx context.Context, in *ecr.GetAuthorizationTokenInput, opts ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
	CreateRepository(ctx context.Context, in *ecr.CreateRepositoryInput, opts ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
	BatchDeleteImage(ctx context.Context, in *ecr.BatchDeleteImageInput, opts ...func(*ecr.Options)) (*ecr.BatchDeleteImageOutput, error)
	DeleteRepository(ctx context.Context, in *ecr.DeleteRepositoryInput, opts ...func(*ecr.Options)) (*ecr.DeleteRepositoryOutput, error)
	ListImages(ctx context.Context, in *ecr.ListImagesInput, opts ...func(*ecr.Options)) (*ecr.ListImagesOutput, error)
}

// ECRConfig is the configuration needed to construct an ecrStrategy.
type ECRConfig struct {
	Client ECRAPI
}

func init() {
	Register("aws_ecr", func(config interface{}) (Strategy, error) {
		cfg, ok := config.(ECRConfig)
		if !ok {
			return nil, fmt.Errorf("aws_ecr strategy requires an ECRConfig, got %T", config)
		}
		return NewECRStrategy(cfg.Client), nil
	})
}

// ECRStrategy is the AuthStrategy variant for AWS ECR. Beyond GetHeaders, it
// exposes the ECR-specific capabilities named in spec §4.4: createRepo and
// convertUpstreamResponse.
type ECRStrategy interface {
	Strategy
	CreateRepo(ctx context.Context, repo string) error
	BatchDeleteImages(ctx context.Context, repo string, imageIDs []types.ImageIdentifier) ([]types.ImageFailure, error)
	DeleteRepo(ctx context.Context, repo string) error
	ListImages(ctx context.Context, repo string, filter types.ListImagesFilter, nextToken *string) (*ecr.ListImagesOutput, error)
}

// ecrStrategy implements ECRStrategy, grounded on the ECR usage in
// other_examples' gexops-drone-kaniko cmd/kaniko/ecr/main.go, adapted from a
// one-shot CLI push helper into a long-lived cached client.
type ecrStrategy struct {
	client ECRAPI
	cache  *cache.ExpiringCache[string] //always keyed by ecrCacheKey
}

// NewECRStrategy constructs an ecrStrategy around the given ECR API client.
func NewECRStrategy(client ECRAPI) ECRStrategy {
	return &ecrStrategy{client: client, cache: cache.New[string]()}
}

// GetHeaders implements Strategy. ECR auth is global per account, so all
// scopes share one cache entry.
func (s *ecrStrategy) GetHeaders(ctx context.Context, scopes []Scope) (map[string]string, error) {
	if header, ok := s.cache.Get(ecrCacheKey); ok {
		return map[string]string{"Authorization": header}, nil
	}

	out, err := s.client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return nil, err
	}
	if len(out.AuthorizationData) == 0 {
		return nil, errors.New("ecr: GetAuthorizationToken returned no authorizationData")
	}
	data := out.AuthorizationData[0]
	if data.AuthorizationToken == nil || data.ExpiresAt == nil {
		return nil, errors.New("ecr: authorizationData missing token or expiry")
	}

	token, err := newAWSECRAuthToken(*data.AuthorizationToken, time.Now(), *data.ExpiresAt)
	if err != nil {
		return nil, err
	}

	header := "Basic " + token.AuthorizationToken
	s.cache.Put(ecrCacheKey, header, token.ExpiresAt)
	return map[string]string{"Authorization": header}, nil
}

// CreateRepo creates the given repository upstream, treating
// RepositoryAlreadyExistsException as success (spec §4.4: idempotent).
func (s *ecrStrategy) CreateRepo(ctx context.Context, repo string) error {
	_, err := s.client.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: &repo,
	})
	if err == nil {
		return nil
	}
	var alreadyExists *types.RepositoryAlreadyExistsException
	if errors.As(err, &alreadyExists) {
		return nil
	}
	return err
}

// BatchDeleteImages deletes the given image identifiers from repo and
// returns the per-image failures (if any) for convertUpstreamResponse.
func (s *ecrStrategy) BatchDeleteImages(ctx context.Context, repo string, imageIDs []types.ImageIdentifier) ([]types.ImageFailure, error) {
	out, err := s.client.BatchDeleteImage(ctx, &ecr.BatchDeleteImageInput{
		RepositoryName: &repo,
		ImageIds:       imageIDs,
	})
	if err != nil {
		return nil, err
	}
	return out.Failures, nil
}

// DeleteRepo deletes repo without force, ignoring RepositoryNotEmptyException
// and RepositoryNotFoundException (spec §4.7 step 9, §4.8 ECR path).
func (s *ecrStrategy) DeleteRepo(ctx context.Context, repo string) error {
	_, err := s.client.DeleteRepository(ctx, &ecr.DeleteRepositoryInput{
		RepositoryName: &repo,
		Force:          false,
	})
	if err == nil {
		return nil
	}
	var notEmpty *types.RepositoryNotEmptyException
	if errors.As(err, &notEmpty) {
		return nil
	}
	var notFound *types.RepositoryNotFoundException
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// ListImages lists images in repo, optionally filtered and paginated.
func (s *ecrStrategy) ListImages(ctx context.Context, repo string, filter types.ListImagesFilter, nextToken *string) (*ecr.ListImagesOutput, error) {
	return s.client.ListImages(ctx, &ecr.ListImagesInput{
		RepositoryName: &repo,
		Filter:         &filter,
		NextToken:      nextToken,
	})
}
