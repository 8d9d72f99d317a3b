/*
 * Copyright 2024 Hewlett Packard Enterprise Development LP
 * Other additional copyright holders may be indicated within.
 *
 * The entirety of this work is licensed under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 *
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ec

import (
	"fmt"
	"net/http"
)

// ControllerError carries an HTTP status, an optional cause string, and the
// underlying error.
type ControllerError struct {
	StatusCode int
	Cause      string
	Err        error
}

func NewControllerError(sc int) *ControllerError {
	return &ControllerError{StatusCode: sc}
}

func (e *ControllerError) Error() string {
	str := fmt.Sprintf("Error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.Cause != "" {
		str += fmt.Sprintf(", Cause: %s", e.Cause)
	}
	if e.Err != nil {
		str += fmt.Sprintf(", Internal Error: %s", e.Err)
	}
	return str
}

func (e *ControllerError) Unwrap() error { return e.Err }

// WithError attaches the underlying error.
func (e *ControllerError) WithError(err error) *ControllerError {
	e.Err = err
	return e
}

// WithCause attaches a human readable cause.
func (e *ControllerError) WithCause(cause string) *ControllerError {
	e.Cause = cause
	return e
}

func NewErrBadRequest() *ControllerError {
	return NewControllerError(http.StatusBadRequest)
}

func NewErrNotFound() *ControllerError {
	return NewControllerError(http.StatusNotFound)
}

func NewErrNotAcceptable() *ControllerError {
	return NewControllerError(http.StatusNotAcceptable)
}

func NewErrInternalServerError() *ControllerError {
	return NewControllerError(http.StatusInternalServerError)
}

var ErrNotFound = NewErrNotFound()
