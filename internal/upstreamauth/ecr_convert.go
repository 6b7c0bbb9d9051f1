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
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
)

// ECRFailureCode is a normalized form of the code/reason carried by an ECR
// ImageFailure, independent of the Registry v2 error vocabulary. Splitting
// this step out of apierror keeps the AWS SDK type import confined to this
// package (spec §4.4: "the proxy translates ECR failures into the same
// error envelope used for every other upstream").
type ECRFailureCode int

const (
	// ECRFailureOther covers any ECR failure code this proxy does not give
	// special treatment to.
	ECRFailureOther ECRFailureCode = iota
	// ECRFailureImageNotFound mirrors ECR's ImageNotFound failure code.
	ECRFailureImageNotFound
	// ECRFailureRepositoryNotFound mirrors ECR's RepositoryNotFound failure code.
	ECRFailureRepositoryNotFound
)

// ClassifyImageFailure inspects one BatchDeleteImage failure entry and
// returns the normalized code, ECR's own raw failure code string (used
// verbatim as the "message" of the generic passthrough error envelope for
// anything that isn't ImageNotFound), and the human-readable reason ECR
// reported.
func ClassifyImageFailure(failure types.ImageFailure) (code ECRFailureCode, rawCode string, reason string) {
	if failure.FailureReason != nil {
		reason = *failure.FailureReason
	}
	rawCode = string(failure.FailureCode)

	switch failure.FailureCode {
	case types.ImageFailureCodeImageNotFound:
		return ECRFailureImageNotFound, rawCode, reason
	default:
		return ECRFailureOther, rawCode, reason
	}
}

// ClassifyBatchDeleteImageError inspects a top-level error returned by
// BatchDeleteImage (as opposed to a per-image entry in its Failures array)
// and reports whether it was caused by the repository itself being gone.
func ClassifyBatchDeleteImageError(err error) (ECRFailureCode, bool) {
	var notFound *types.RepositoryNotFoundException
	if errors.As(err, &notFound) {
		return ECRFailureRepositoryNotFound, true
	}
	return ECRFailureOther, false
}
