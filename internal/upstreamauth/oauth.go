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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sapcc/registry-proxy/internal/cache"
)

var errMissingToken = errors.New(`oauth token response contains neither "token" nor "access_token"`)

// OAuthConfig is the configuration needed to construct an oauthStrategy.
type OAuthConfig struct {
	TokenURL string
	Service  string
	Username string
	Password string
}

func init() {
	Register("oauth", func(config interface{}) (Strategy, error) {
		cfg, ok := config.(OAuthConfig)
		if !ok {
			return nil, fmt.Errorf("oauth strategy requires an OAuthConfig, got %T", config)
		}
		return NewOAuthStrategy(cfg, http.DefaultClient), nil
	})
}

// oauthStrategy implements the Docker token-auth handshake client-side,
// grounded on sapcc/keppel's internal/client/auth_challenge.go
// (AuthChallenge.GetToken) generalized with a one-cache-per-scope-set (spec
// §4.4, §9: "one cache suffices").
type oauthStrategy struct {
	cfg    OAuthConfig
	client *http.Client
	cache  *cache.ExpiringCache[string] //scope-key -> "Bearer ..." header value
	now    func() time.Time
}

// NewOAuthStrategy constructs an oauthStrategy using the given HTTP client.
func NewOAuthStrategy(cfg OAuthConfig, client *http.Client) Strategy {
	return &oauthStrategy{
		cfg:    cfg,
		client: client,
		cache:  cache.New[string](),
		now:    time.Now,
	}
}

// GetHeaders implements Strategy. The cache key is the scopes joined by a
// single space, matching the order the caller supplied them in.
func (s *oauthStrategy) GetHeaders(ctx context.Context, scopes []Scope) (map[string]string, error) {
	key := JoinScopes(scopes)
	if header, ok := s.cache.Get(key); ok {
		return map[string]string{"Authorization": header}, nil
	}

	token, err := s.fetchToken(ctx, scopes)
	if err != nil {
		return nil, err
	}

	header := "Bearer " + token.AccessToken
	s.cache.Put(key, header, token.ExpiresAt)
	return map[string]string{"Authorization": header}, nil
}

func (s *oauthStrategy) fetchToken(ctx context.Context, scopes []Scope) (OAuthToken, error) {
	q := url.Values{}
	q.Set("service", s.cfg.Service)
	for _, scope := range scopes {
		q.Add("scope", scope.String())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.TokenURL+"?"+q.Encode(), nil)
	if err != nil {
		return OAuthToken{}, err
	}
	if s.cfg.Username != "" {
		req.Header.Set("Authorization", buildBasicAuthHeader(s.cfg.Username, s.cfg.Password))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return OAuthToken{}, err
	}
	defer resp.Body.Close()

	var parsed oauthTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return OAuthToken{}, fmt.Errorf("cannot parse oauth token response: %w", err)
	}

	token, err := newOAuthToken(parsed, s.now())
	if err != nil {
		return OAuthToken{}, err
	}
	//Token-acquisition failures (including a malformed body, caught above) are
	//never cached, so the next request retries (spec §7).
	return token, nil
}
