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

// Package apierror provides the Docker Registry v2 error envelope and the
// proxy's own error kinds, grounded on sapcc/keppel's internal/keppel/errors.go.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RegistryV2ErrorCode is the closed set of error codes that can appear in
// type RegistryV2Error.
type RegistryV2ErrorCode string

// Possible values for RegistryV2ErrorCode.
const (
	ErrNameInvalid  RegistryV2ErrorCode = "NAME_INVALID"
	ErrNameUnknown  RegistryV2ErrorCode = "NAME_UNKNOWN"
	ErrUnauthorized RegistryV2ErrorCode = "UNAUTHORIZED"
	ErrDenied       RegistryV2ErrorCode = "DENIED"
	ErrUnsupported  RegistryV2ErrorCode = "UNSUPPORTED"
)

// With is a convenience function for constructing type RegistryV2Error.
func (c RegistryV2ErrorCode) With(msg string, args ...interface{}) *RegistryV2Error {
	var err error
	if msg != "" {
		if len(args) > 0 {
			err = fmt.Errorf(msg, args...)
		} else {
			err = errors.New(msg)
		}
	}
	return &RegistryV2Error{Code: c, Inner: err}
}

var apiErrorMessages = map[RegistryV2ErrorCode]string{
	ErrNameInvalid:  "invalid repository name",
	ErrNameUnknown:  "repository name not known to registry",
	ErrUnauthorized: "authentication required",
	ErrDenied:       "requested access to the resource is denied",
	ErrUnsupported:  "operation is unsupported",
}

var apiErrorStatusCodes = map[RegistryV2ErrorCode]int{
	ErrNameInvalid:  http.StatusBadRequest,
	ErrNameUnknown:  http.StatusNotFound,
	ErrUnauthorized: http.StatusUnauthorized,
	ErrDenied:       http.StatusUnauthorized, //registry-client convention, see spec §7
	ErrUnsupported:  http.StatusBadRequest,
}

// RegistryV2Error is the error type expected by clients of the Docker
// Registry v2 API.
type RegistryV2Error struct {
	Code   RegistryV2ErrorCode
	Inner  error //optional
	status int   //0 means "look up apiErrorStatusCodes[Code]"; set via WithStatus
}

// WithStatus overrides the HTTP status this error is reported with, instead
// of the one apiErrorStatusCodes associates with Code. Used for the one ECR
// failure mapping (spec §4.4's convertUpstreamResponse) whose status/code
// pairing doesn't match the table everywhere else relies on.
func (e *RegistryV2Error) WithStatus(status int) *RegistryV2Error {
	e.status = status
	return e
}

// MarshalJSON implements the json.Marshaler interface.
func (e *RegistryV2Error) MarshalJSON() ([]byte, error) {
	data := struct {
		Code    string  `json:"code"`
		Message string  `json:"message"`
		Detail  *string `json:"detail,omitempty"`
	}{
		Code:    string(e.Code),
		Message: apiErrorMessages[e.Code],
	}
	if e.Inner != nil {
		detail := e.Inner.Error()
		data.Detail = &detail
	}
	return json.Marshal(data)
}

// StatusCode returns the HTTP status this error is reported with.
func (e *RegistryV2Error) StatusCode() int {
	if e.status != 0 {
		return e.status
	}
	return apiErrorStatusCodes[e.Code]
}

// WriteAsRegistryV2ResponseTo reports this error in the format used by the
// Registry V2 API.
func (e *RegistryV2Error) WriteAsRegistryV2ResponseTo(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode())
	buf, _ := json.Marshal(struct {
		Errors []*RegistryV2Error `json:"errors"`
	}{
		Errors: []*RegistryV2Error{e},
	})
	w.Write(append(buf, '\n'))
}

// Error implements the builtin/error interface.
func (e *RegistryV2Error) Error() string {
	text := apiErrorMessages[e.Code]
	if e.Inner != nil {
		text += ": " + e.Inner.Error()
	}
	return text
}

// PassthroughError reports a failure that does not fit the closed
// RegistryV2ErrorCode enum (spec §4.4's ECR convertUpstreamResponse
// "otherwise" branch: a raw numeric code 0, the upstream's own failure code
// as the message, status 500). Unlike UpstreamError, there is no upstream
// HTTP response to pass through here; the envelope is built directly from
// the ECR SDK's structured failure.
type PassthroughError struct {
	RawCode int
	Message string
	Detail  string
}

// Error implements the builtin/error interface.
func (e *PassthroughError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// WriteAsRegistryV2ResponseTo reports this error as a 500 with a numeric
// "code" field, matching convertUpstreamResponse's "otherwise" branch
// exactly rather than being squeezed into the closed error-code enum.
func (e *PassthroughError) WriteAsRegistryV2ResponseTo(w http.ResponseWriter) {
	type rawError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	buf, _ := json.Marshal(struct {
		Errors []rawError `json:"errors"`
	}{
		Errors: []rawError{{Code: e.RawCode, Message: e.Message, Detail: e.Detail}},
	})
	w.Write(append(buf, '\n'))
}

// UpstreamError is returned by UpstreamClient whenever the upstream
// registry answers with a non-2xx status. Unlike RegistryV2Error, it carries
// an opaque upstream body that is passed through to the caller largely
// unchanged (per spec §7), rather than being restricted to the closed
// RegistryV2ErrorCode enum.
type UpstreamError struct {
	Status      int
	Body        []byte
	ContentType string
}

// Error implements the builtin/error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded with status %d: %s", e.Status, string(e.Body))
}

// ScrubProjectPrefix removes all occurrences of the given upstream project
// prefix from the error body. Used for 404 bodies that otherwise leak the
// upstream project name to callers (spec §7).
func (e *UpstreamError) ScrubProjectPrefix(prefix string) {
	if prefix == "" {
		return
	}
	e.Body = []byte(strings.ReplaceAll(string(e.Body), prefix+"/", ""))
}

// NewUpstreamError reads resp's body and wraps it as an UpstreamError,
// scrubbing occurrences of projectPrefix from 404 bodies (spec §7 scenario
// 1: "Pull a missing tag"). The caller remains responsible for closing
// resp.Body; NewUpstreamError does not close it.
func NewUpstreamError(resp *http.Response, projectPrefix string) *UpstreamError {
	body, _ := io.ReadAll(resp.Body)
	e := &UpstreamError{
		Status:      resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if resp.StatusCode == http.StatusNotFound {
		e.ScrubProjectPrefix(projectPrefix)
	}
	return e
}

// WriteTo forwards this upstream error to the caller with the same status
// code, as JSON if the upstream sent JSON, otherwise as plain text.
func (e *UpstreamError) WriteTo(w http.ResponseWriter) {
	if e.ContentType != "" {
		w.Header().Set("Content-Type", e.ContentType)
	}
	w.WriteHeader(e.Status)
	w.Write(e.Body)
}

// UpstreamProtocolError indicates that the upstream sent a response whose
// shape we could not make sense of (e.g. an OAuth token response lacking a
// token field). Per spec §7 this always maps to 502.
type UpstreamProtocolError struct {
	Inner error
}

func (e *UpstreamProtocolError) Error() string {
	return "unexpected upstream response: " + e.Inner.Error()
}

func (e *UpstreamProtocolError) Unwrap() error {
	return e.Inner
}

// WriteTo reports this error as a 502 to the caller.
func (e *UpstreamProtocolError) WriteTo(w http.ResponseWriter) {
	http.Error(w, e.Error(), http.StatusBadGateway)
}

// WriteAuthChallenge sets the WWW-Authenticate header used whenever a caller
// needs to (re-)authenticate with Basic credentials.
func WriteAuthChallenge(w http.ResponseWriter, serverName string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s"`, serverName))
}
