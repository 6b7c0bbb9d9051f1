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

package authzclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapcc/registry-proxy/internal/permissions"
)

func TestCheckPermissionsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/check-permissions", r.URL.Path)
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, "svc-token", server.Client())
	err := c.CheckPermissions(context.Background(), "alice", []PermissionRequest{
		{URI: "image://cluster1/alice/img", Action: "read"},
	})
	assert.NoError(t, err)
}

func TestCheckPermissionsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := New(server.URL, "", server.Client())
	err := c.CheckPermissions(context.Background(), "alice", nil)
	assert.Error(t, err)
}

func TestGetPermissionsTreeDecodesNestedNodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(permissions.Node{
			Action: permissions.Deny,
			Children: map[string]*permissions.Node{
				"alice": {Action: permissions.Manage},
			},
		})
	}))
	defer server.Close()

	c := New(server.URL, "", server.Client())
	tree, err := c.GetPermissionsTree(context.Background(), "alice", "cluster1")
	require.NoError(t, err)
	assert.True(t, tree.Children["alice"].CanWrite())
}
