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

// Command registry-proxy runs the authenticating, permission-filtering
// reverse proxy in front of a Docker Registry v2 upstream, grounded on
// sapcc/keppel's cmd/api/main.go startup sequence: parse configuration,
// build driver/strategy instances, wire the HTTP handler, serve with
// graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sapcc/go-bits/httpee"
	"github.com/sapcc/go-bits/logg"
	"github.com/spf13/cobra"

	"github.com/sapcc/registry-proxy/internal/adminclient"
	"github.com/sapcc/registry-proxy/internal/authzclient"
	"github.com/sapcc/registry-proxy/internal/proxycfg"
	"github.com/sapcc/registry-proxy/internal/registryapi"
	"github.com/sapcc/registry-proxy/internal/repourl"
	"github.com/sapcc/registry-proxy/internal/upstreamauth"
	"github.com/sapcc/registry-proxy/internal/upstreamclient"
)

// Version is stamped at build time via `-ldflags "-X main.Version=..."`,
// mirroring sapcc/keppel's internal/keppel.Version convention.
var Version = "dev"

func main() {
	logg.ShowDebug = os.Getenv("DEBUG") != ""

	rootCmd := &cobra.Command{
		Use:     "registry-proxy",
		Short:   "Authenticating reverse proxy for a Docker Registry v2 upstream.",
		Version: Version,
		Args:    cobra.NoArgs,
		Run:     run,
	}
	if err := rootCmd.Execute(); err != nil {
		logg.Fatal(err.Error())
	}
}

func run(cmd *cobra.Command, args []string) {
	logg.Info("starting %s %s", proxycfg.Component, Version)

	cfg := proxycfg.ParseConfiguration()

	auth, err := newUpstreamAuthStrategy(cfg)
	must(err)

	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: cfg.Upstream.SockConnectTimeout}).DialContext,
		},
	}

	upstream := upstreamclient.New(cfg.Upstream.URL.String(), cfg.Upstream.Project, cfg.Upstream.Repo, httpClient, auth)
	upstream.MaxCatalog = int(cfg.Upstream.MaxCatalogEntries)
	upstream.SockReadTimeout = cfg.Upstream.SockReadTimeout
	if cfg.OAuth.RegistryCatalogScope != "" {
		upstream.CatalogScope = cfg.OAuth.RegistryCatalogScope
	}
	if cfg.OAuth.RepositoryScopeActions != "" {
		upstream.RepoActions = cfg.OAuth.RepositoryScopeActions
	}

	authz := authzclient.New(cfg.AuthService.EndpointURL, cfg.AuthService.ServiceToken, http.DefaultClient)

	// Constructed for parity with the authorization-service client (spec §6
	// names both as external collaborators); no handler calls GetUser today
	// since no named operation in spec.md needs a direct membership lookup,
	// but it stays available for callers added later.
	_ = adminclient.New(cfg.Admin.EndpointURL, cfg.Admin.Token, http.DefaultClient)

	factory := repourl.Factory{
		RegistryEndpoint: cfg.Server.PublicURL,
		UpstreamEndpoint: cfg.Upstream.URL,
		UpstreamProject:  cfg.Upstream.Project,
		UpstreamRepo:     cfg.Upstream.Repo,
	}

	api := registryapi.NewAPI(cfg, upstream, authz, factory, Version)
	router := mux.NewRouter()
	api.AddTo(router)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"HEAD", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(router)

	topMux := http.NewServeMux()
	topMux.Handle("/", handler)
	topMux.Handle("/metrics", promhttp.Handler())

	ctx := httpee.ContextWithSIGINT(context.Background())

	if cfg.Events.URL != "" {
		// spec.md scopes the event bus's transport out of this system (§1); no
		// concrete Subscriber is built into this binary, so the project-remove
		// consumer cannot start even though an endpoint was configured.
		logg.Info("EVENTS_URL is set, but this build has no event-bus subscriber driver compiled in; project-remove events will not be consumed")
	}

	listenAddress := fmt.Sprintf(":%d", cfg.Server.Port)
	logg.Info("listening on %s", listenAddress)
	err = httpee.ListenAndServeContext(ctx, listenAddress, topMux)
	if err != nil {
		logg.Fatal("error returned from httpee.ListenAndServeContext(): %s", err.Error())
	}
}

// newUpstreamAuthStrategy builds the configured AuthStrategy variant via the
// upstreamauth.Register/New factory registry (spec §4.4, §9: "dispatch
// through a small interface").
func newUpstreamAuthStrategy(cfg proxycfg.Configuration) (upstreamauth.Strategy, error) {
	switch cfg.Upstream.Type {
	case proxycfg.UpstreamBasic:
		return upstreamauth.New("basic", upstreamauth.BasicConfig{
			Username: cfg.Basic.Username,
			Password: cfg.Basic.Password,
		})
	case proxycfg.UpstreamOAuth:
		return upstreamauth.New("oauth", upstreamauth.OAuthConfig{
			TokenURL: cfg.OAuth.TokenURL,
			Service:  cfg.OAuth.TokenService,
			Username: cfg.OAuth.TokenUsername,
			Password: cfg.OAuth.TokenPassword,
		})
	case proxycfg.UpstreamAWSECR:
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("cannot load AWS SDK configuration: %w", err)
		}
		client := ecr.NewFromConfig(awsCfg)
		return upstreamauth.New("aws_ecr", upstreamauth.ECRConfig{Client: client})
	default:
		return nil, fmt.Errorf("unknown upstream.type: %q", cfg.Upstream.Type)
	}
}

func must(err error) {
	if err != nil {
		logg.Fatal(err.Error())
	}
}
