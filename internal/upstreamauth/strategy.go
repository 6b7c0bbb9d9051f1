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

// Package upstreamauth implements the AuthStrategy capability (spec §4.4):
// a small closed variant (Basic, OAuth, AWS-ECR) that returns scoped
// Authorization headers for upstream requests. The factory-by-configured-
// type dispatch is grounded on sapcc/keppel's pluggable auth driver registry
// (internal/client/auth_driver.go: RegisterAuthDriver/NewAuthDriver), adapted
// from "pick the driver that matches the environment" to "pick the strategy
// that matches upstream.type".
package upstreamauth

import (
	"context"
	"fmt"
	"strings"
)

// Scope is one entry of the "scope" query parameter used by the Docker
// token-auth protocol, e.g. "repository:testproject/alice/img:*".
type Scope struct {
	ResourceType string
	ResourceName string
	Actions      string
}

// String serializes this scope into the format used by the Docker auth API.
func (s Scope) String() string {
	return strings.Join([]string{s.ResourceType, s.ResourceName, s.Actions}, ":")
}

// JoinScopes builds the cache key used by the OAuth strategy: scopes joined
// by a single space, in the order given.
func JoinScopes(scopes []Scope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = s.String()
	}
	return strings.Join(parts, " ")
}

// RepositoryScope builds the scope for pulling/pushing a repository.
func RepositoryScope(repo, actions string) Scope {
	return Scope{ResourceType: "repository", ResourceName: repo, Actions: actions}
}

// CatalogScope builds the scope used for the catalog endpoint.
func CatalogScope(action string) Scope {
	return Scope{ResourceType: "registry", ResourceName: "catalog", Actions: action}
}

// Strategy is the capability implemented by all three AuthStrategy variants:
// it returns the Authorization (and possibly other) headers to attach to an
// upstream request scoped to the given set of scopes.
type Strategy interface {
	GetHeaders(ctx context.Context, scopes []Scope) (map[string]string, error)
}

// Factory constructs a Strategy given its variant-specific configuration,
// type-asserted from the opaque `config` value passed to Register. Mirrors
// keppel's client.RegisterAuthDriver/NewAuthDriver, adapted from "pick by
// matching the environment" to "pick and configure by upstream.type".
type Factory func(config interface{}) (Strategy, error)

var factories = make(map[string]Factory)

// Register adds a Strategy factory under the given upstream.type name. Call
// this from func init() of the package defining the strategy.
func Register(name string, factory Factory) {
	if _, exists := factories[name]; exists {
		panic("attempted to register multiple upstream auth strategies with name = " + name)
	}
	factories[name] = factory
}

// New constructs the Strategy registered under the given name, using the
// variant-specific configuration value (each strategy documents the concrete
// type it expects `config` to be).
func New(name string, config interface{}) (Strategy, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("no such upstream auth strategy: %q", name)
	}
	return factory(config)
}
