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
	"encoding/base64"
	"fmt"
)

// BasicConfig is the configuration needed to construct a basicStrategy.
type BasicConfig struct {
	Username string
	Password string
}

func init() {
	Register("basic", func(config interface{}) (Strategy, error) {
		cfg, ok := config.(BasicConfig)
		if !ok {
			return nil, fmt.Errorf("basic strategy requires a BasicConfig, got %T", config)
		}
		return &basicStrategy{header: buildBasicAuthHeader(cfg.Username, cfg.Password)}, nil
	})
}

// buildBasicAuthHeader constructs the value of an "Authorization" HTTP
// header for the given basic auth credentials, grounded on keppel's
// keppel.BuildBasicAuthHeader (internal/keppel/auth_driver.go).
func buildBasicAuthHeader(userName, password string) string {
	creds := userName + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

// basicStrategy returns a constant Authorization header for every request,
// regardless of requested scopes. No cache is needed since there is nothing
// to expire.
type basicStrategy struct {
	header string
}

// GetHeaders implements Strategy.
func (s *basicStrategy) GetHeaders(ctx context.Context, scopes []Scope) (map[string]string, error) {
	return map[string]string{"Authorization": s.header}, nil
}
