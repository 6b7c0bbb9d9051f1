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

package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckImageCatalogPermissionGrantedAtLeaf(t *testing.T) {
	tree := &Node{Action: Deny, Children: map[string]*Node{
		"alice": {Action: Manage},
	}}
	assert.True(t, CheckImageCatalogPermission("alice/img1", tree))
}

func TestCheckImageCatalogPermissionDeniedForOtherUser(t *testing.T) {
	tree := &Node{Action: Deny, Children: map[string]*Node{
		"alice": {Action: Manage},
	}}
	assert.False(t, CheckImageCatalogPermission("bob/img2", tree))
}

func TestCheckImageCatalogPermissionGrantedAtAncestor(t *testing.T) {
	tree := &Node{Action: Read}
	assert.True(t, CheckImageCatalogPermission("anything/at/all", tree))
}

func TestCheckImageCatalogPermissionNilTree(t *testing.T) {
	assert.False(t, CheckImageCatalogPermission("alice/img1", nil))
}

func TestCheckImageCatalogPermissionListIsNotRead(t *testing.T) {
	tree := &Node{Action: Deny, Children: map[string]*Node{
		"alice": {Action: List},
	}}
	assert.False(t, CheckImageCatalogPermission("alice/img1", tree))
}

func TestActionOrdering(t *testing.T) {
	assert.Less(t, int(Deny), int(List))
	assert.Less(t, int(List), int(Read))
	assert.Less(t, int(Read), int(Write))
	assert.Less(t, int(Write), int(Manage))
}

func TestCheckAccessRequiresWrite(t *testing.T) {
	tree := &Node{Action: Deny, Children: map[string]*Node{
		"alice": {Action: Write, Children: map[string]*Node{
			"img": {Action: Write},
		}},
	}}
	assert.True(t, CheckAccess("alice/img", Write, tree))
	assert.False(t, CheckAccess("alice/other", Write, tree))
}
