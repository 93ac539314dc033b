// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errs defines the typed error kinds surfaced across the
// document-processing pipeline, so callers can branch on failure class
// (retry, surface to the review queue, abort the run) without string
// matching error text.
package errs

import (
	"errors"
	"fmt"
)

// Kind discriminates error categories.
type Kind string

const (
	KindTransport    Kind = "transport"    // DMS/LLM/MCP network or HTTP failure
	KindNotFound     Kind = "not_found"    // referenced document, tag, or record does not exist
	KindAnalysis     Kind = "analysis"     // structured-output validation or parsing failure
	KindConfirmation Kind = "confirmation" // confirmation-loop budget exhausted or rejected
	KindTool         Kind = "tool"         // tool invocation failed
	KindConfig       Kind = "config"       // invalid or missing configuration
	KindJob          Kind = "job"          // background job (scheduler, bootstrap) failure
)

// Error is the common shape for all typed errors in this package.
type Error struct {
	kind    Kind
	op      string
	err     error
	retryAfter bool
}

func (e *Error) Error() string {
	if e.op != "" {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.op, e.err)
	}
	return fmt.Sprintf("%s: %v", e.kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's discriminator.
func (e *Error) Kind() Kind { return e.kind }

// Retryable reports whether the caller should retry the operation that
// produced this error (set for transport errors and nothing else).
func (e *Error) Retryable() bool { return e.retryAfter }

func newErr(kind Kind, op string, err error, retryable bool) *Error {
	return &Error{kind: kind, op: op, err: err, retryAfter: retryable}
}

// Transport wraps a network/HTTP failure talking to the DMS, an LLM
// provider, or an MCP server. Transport errors are retryable.
func Transport(op string, err error) *Error { return newErr(KindTransport, op, err, true) }

// NotFound wraps a lookup failure for a document, tag, or stored record.
func NotFound(op string, err error) *Error { return newErr(KindNotFound, op, err, false) }

// Analysis wraps a structured-output validation or parse failure from an
// LLM response. Analysis errors feed the confirmation loop's retry-with-
// feedback path, so they are not retryable at this layer.
func Analysis(op string, err error) *Error { return newErr(KindAnalysis, op, err, false) }

// Confirmation wraps a confirmation-loop failure: exhausted tool-call
// budget, exhausted attempt counter, or an irrecoverable state transition.
func Confirmation(op string, err error) *Error { return newErr(KindConfirmation, op, err, false) }

// Tool wraps a tool invocation failure.
func Tool(op string, err error) *Error { return newErr(KindTool, op, err, false) }

// Config wraps an invalid or missing configuration value.
func Config(op string, err error) *Error { return newErr(KindConfig, op, err, false) }

// Job wraps a background job failure (scheduler tick, bootstrap analysis).
func Job(op string, err error) *Error { return newErr(KindJob, op, err, false) }

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == kind
	}
	return false
}

// IsRetryable reports whether err (or any error it wraps) is marked
// retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.retryAfter
	}
	return false
}
