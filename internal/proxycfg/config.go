/*******************************************************************************
*
* Copyright 2018 SAP SE
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

// Package proxycfg holds the environment-variable-driven configuration for
// the registry proxy, in the style of sapcc/keppel's internal/keppel.Configuration.
package proxycfg

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/sapcc/go-bits/logg"
)

// UpstreamType is the closed set of supported upstream registry kinds.
type UpstreamType string

// Possible values for UpstreamType.
const (
	UpstreamBasic  UpstreamType = "basic"
	UpstreamOAuth  UpstreamType = "oauth"
	UpstreamAWSECR UpstreamType = "aws_ecr"
)

// ServerConfig holds the `server.*` configuration values.
type ServerConfig struct {
	Port      int    //default 8080
	Name      string //default "Docker Registry"
	PublicURL url.URL
}

// UpstreamConfig holds the `upstream.*` configuration values.
type UpstreamConfig struct {
	URL                  url.URL
	Project              string
	Repo                 string //optional
	Type                 UpstreamType
	MaxCatalogEntries    uint64
	SockConnectTimeout   time.Duration
	SockReadTimeout      time.Duration
}

// OAuthConfig holds the OAuth-strategy-specific configuration values.
type OAuthConfig struct {
	TokenURL              string
	TokenService          string
	TokenUsername         string
	TokenPassword         string
	RegistryCatalogScope  string //default "registry:catalog:*"
	RepositoryScopeActions string //default "*"
}

// BasicConfig holds the Basic-strategy-specific configuration values.
type BasicConfig struct {
	Username string
	Password string
}

// AuthServiceConfig holds the `auth.*` configuration values (the external
// authorization service that owns the permission tree).
type AuthServiceConfig struct {
	EndpointURL string
	ServiceToken string
}

// AdminServiceConfig holds the `admin.*` configuration values (the external
// organization/project membership service).
type AdminServiceConfig struct {
	EndpointURL string
	Token       string
}

// EventsConfig holds the `events.*` configuration values. Both fields are
// optional. cmd/registry-proxy does not start the project-deletion event
// consumer in either case; a non-empty URL only produces a startup log line
// saying that no event-bus subscriber is compiled in.
type EventsConfig struct {
	URL   string
	Token string
}

// Configuration is the root configuration object for the registry proxy,
// populated once at process startup by ParseConfiguration.
type Configuration struct {
	Server      ServerConfig
	Upstream    UpstreamConfig
	OAuth       OAuthConfig
	Basic       BasicConfig
	AuthService AuthServiceConfig
	Admin       AdminServiceConfig
	Cluster     string
	Events      EventsConfig
}

// ParseConfiguration obtains a Configuration instance from the corresponding
// environment variables. Aborts on error, same contract as
// keppel.ParseConfiguration.
func ParseConfiguration() Configuration {
	cfg := Configuration{
		Server: ServerConfig{
			Port:      mustAtoiOrDefault("SERVER_PORT", 8080),
			Name:      GetenvOrDefault("SERVER_NAME", "Docker Registry"),
			PublicURL: mustParseURL(MustGetenv("SERVER_PUBLIC_URL")),
		},
		Upstream: UpstreamConfig{
			URL:                mustParseURL(MustGetenv("UPSTREAM_URL")),
			Project:            MustGetenv("UPSTREAM_PROJECT"),
			Repo:               os.Getenv("UPSTREAM_REPO"),
			Type:               UpstreamType(MustGetenv("UPSTREAM_TYPE")),
			MaxCatalogEntries:  mustAtoiOrDefaultU64("UPSTREAM_MAX_CATALOG_ENTRIES", 1000),
			SockConnectTimeout: time.Duration(mustAtoiOrDefault("UPSTREAM_SOCK_CONNECT_TIMEOUT_S", 30)) * time.Second,
			SockReadTimeout:    time.Duration(mustAtoiOrDefault("UPSTREAM_SOCK_READ_TIMEOUT_S", 30)) * time.Second,
		},
		OAuth: OAuthConfig{
			TokenURL:              os.Getenv("TOKEN_URL"),
			TokenService:          os.Getenv("TOKEN_SERVICE"),
			TokenUsername:         os.Getenv("TOKEN_USERNAME"),
			TokenPassword:         os.Getenv("TOKEN_PASSWORD"),
			RegistryCatalogScope:  GetenvOrDefault("TOKEN_REGISTRY_CATALOG_SCOPE", "registry:catalog:*"),
			RepositoryScopeActions: GetenvOrDefault("TOKEN_REPOSITORY_SCOPE_ACTIONS", "*"),
		},
		Basic: BasicConfig{
			Username: os.Getenv("BASIC_USERNAME"),
			Password: os.Getenv("BASIC_PASSWORD"),
		},
		AuthService: AuthServiceConfig{
			EndpointURL:  MustGetenv("AUTH_SERVER_ENDPOINT_URL"),
			ServiceToken: MustGetenv("AUTH_SERVICE_TOKEN"),
		},
		Admin: AdminServiceConfig{
			EndpointURL: MustGetenv("ADMIN_ENDPOINT_URL"),
			Token:       MustGetenv("ADMIN_TOKEN"),
		},
		Cluster: MustGetenv("CLUSTER_NAME"),
		Events: EventsConfig{
			URL:   os.Getenv("EVENTS_URL"),
			Token: os.Getenv("EVENTS_TOKEN"),
		},
	}

	cfg.mustValidate()
	return cfg
}

// mustValidate rejects configuration combinations that can never work,
// failing fast the way keppel.ParseConfiguration does for its own fields.
func (cfg Configuration) mustValidate() {
	switch cfg.Upstream.Type {
	case UpstreamBasic:
		if cfg.Basic.Username == "" {
			logg.Fatal("upstream.type=basic requires BASIC_USERNAME")
		}
	case UpstreamOAuth:
		if cfg.OAuth.TokenURL == "" {
			logg.Fatal("upstream.type=oauth requires TOKEN_URL")
		}
	case UpstreamAWSECR:
		//no additional required variables: the AWS SDK resolves credentials
		//from its own standard credential chain
	default:
		logg.Fatal("unknown upstream.type: %q (must be one of basic, oauth, aws_ecr)", cfg.Upstream.Type)
	}
}

// MustGetenv is like os.Getenv, but aborts with an error message if the given
// environment variable is missing or empty.
func MustGetenv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		logg.Fatal("missing environment variable: %s", key)
	}
	return val
}

// GetenvOrDefault is like os.Getenv but it also takes a default value which is
// returned if the given environment variable is missing or empty.
func GetenvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		val = defaultVal
	}
	return val
}

func mustAtoiOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		logg.Fatal("malformed %s: %s", key, err.Error())
	}
	return n
}

func mustAtoiOrDefaultU64(key string, defaultVal uint64) uint64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		logg.Fatal("malformed %s: %s", key, err.Error())
	}
	return n
}

func mustParseURL(val string) url.URL {
	parsed, err := url.Parse(val)
	if err != nil {
		logg.Fatal("malformed URL %q: %s", val, err.Error())
	}
	return *parsed
}

// String implements the fmt.Stringer interface, used in startup log lines.
func (cfg Configuration) String() string {
	return fmt.Sprintf("upstream=%s type=%s project=%s", cfg.Upstream.URL.String(), cfg.Upstream.Type, cfg.Upstream.Project)
}
