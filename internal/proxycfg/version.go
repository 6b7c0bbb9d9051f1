/*******************************************************************************
*
* Copyright 2022 SAP SE
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

package proxycfg

// Version is set at compile time via -ldflags.
var Version string

// Component identifies this binary for the X-Service-Version response
// header and in the startup log line.
const Component = "platform-registry-api"

// VersionOr returns Version, falling back to the given default when the
// binary was not built with a version stamp (e.g. during local `go run`).
func VersionOr(fallback string) string {
	if Version == "" {
		return fallback
	}
	return Version
}
