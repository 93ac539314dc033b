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

package llm

import (
	"context"
	"fmt"

	"github.com/docpilot/core/pkg/ratelimit"
)

// rateLimitedProvider wraps a Provider with a ratelimit.RateLimiter,
// checking the request budget before every outbound call and recording
// actual token usage afterward, scoped to identifier (typically "llm:large"
// or "llm:small") so the two logical models are throttled independently.
type rateLimitedProvider struct {
	Provider
	limiter    ratelimit.RateLimiter
	scope      ratelimit.Scope
	identifier string
}

// WrapWithRateLimit returns p unchanged if limiter is nil (rate limiting
// disabled or unconfigured); otherwise it returns a Provider that enforces
// limiter's rules around every call.
func WrapWithRateLimit(p Provider, limiter ratelimit.RateLimiter, scope ratelimit.Scope, identifier string) Provider {
	if limiter == nil {
		return p
	}
	return &rateLimitedProvider{Provider: p, limiter: limiter, scope: scope, identifier: identifier}
}

func (r *rateLimitedProvider) precheck(ctx context.Context) error {
	check, err := r.limiter.Check(ctx, r.scope, r.identifier)
	if err != nil {
		return fmt.Errorf("llm: checking rate limit for %s: %w", r.identifier, err)
	}
	if !check.Allowed {
		return fmt.Errorf("llm: %s rate limit exceeded: %s", r.identifier, check.Reason)
	}
	return nil
}

func (r *rateLimitedProvider) record(ctx context.Context, tokens int64) {
	// Usage recording failures never fail the underlying call: the
	// response already happened, and the next precheck will still catch
	// a limiter that has genuinely run dry.
	if err := r.limiter.Record(ctx, r.scope, r.identifier, tokens, 1); err != nil {
		_ = err
	}
}

func (r *rateLimitedProvider) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*Response, error) {
	if err := r.precheck(ctx); err != nil {
		return nil, err
	}
	resp, err := r.Provider.Generate(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	r.record(ctx, int64(resp.Usage.TotalTokens))
	return resp, nil
}

// GenerateStructured carries no Usage in its return shape, so only the
// request-count limit applies; token usage is recorded by Generate calls
// alone (GenerateStreaming also records its requests with zero tokens).
func (r *rateLimitedProvider) GenerateStructured(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	if err := r.precheck(ctx); err != nil {
		return "", err
	}
	out, err := r.Provider.GenerateStructured(ctx, messages, opts)
	if err != nil {
		return "", err
	}
	r.record(ctx, 0)
	return out, nil
}

func (r *rateLimitedProvider) GenerateStreaming(ctx context.Context, messages []Message, opts GenerateOptions) (<-chan StreamChunk, error) {
	if err := r.precheck(ctx); err != nil {
		return nil, err
	}
	chunks, err := r.Provider.GenerateStreaming(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	r.record(ctx, 0)
	return chunks, nil
}
