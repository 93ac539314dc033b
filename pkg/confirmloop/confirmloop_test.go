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

package confirmloop

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/docpilot/core/pkg/llm"
	"github.com/docpilot/core/pkg/tool"
)

// fakeProvider is a scripted llm.Provider: each call to GenerateStructured
// consumes the next entry in responses (or errs[i] if non-nil), and every
// call is recorded in calls for assertions on retry/attempt counts.
type fakeProvider struct {
	name      string
	responses []string
	errs      []error
	calls     int
}

func (f *fakeProvider) Name() string      { return f.name }
func (f *fakeProvider) ModelName() string { return f.name + "-model" }
func (f *fakeProvider) Close() error      { return nil }

func (f *fakeProvider) Generate(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (*llm.Response, error) {
	out, err := f.GenerateStructured(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Content: out}, nil
}

func (f *fakeProvider) GenerateStructured(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i >= len(f.responses) {
		return f.responses[len(f.responses)-1], nil
	}
	return f.responses[i], nil
}

func (f *fakeProvider) GenerateStreaming(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func confirmJSON(confirmed bool, feedback string) string {
	b, _ := json.Marshal(ConfirmResult{Confirmed: confirmed, Feedback: feedback})
	return string(b)
}

func baseConfig(large, small llm.Provider, maxAttempts int) Config {
	return Config{
		AgentName:           "test",
		Large:               large,
		Small:               small,
		AnalysisSchema:      llm.JSONSchema{"type": "object"},
		SystemAnalysis:      "analyze",
		SystemConfirm:       "confirm",
		BuildAnalysisPrompt: func(feedback string) string { return "analyze: " + feedback },
		BuildConfirmPrompt:  func(analysisJSON string) string { return "confirm: " + analysisJSON },
		MaxAttempts:         maxAttempts,
	}
}

func TestRun_AppliesOnFirstConfirmation(t *testing.T) {
	large := &fakeProvider{responses: []string{`{"value":"a"}`}}
	small := &fakeProvider{responses: []string{confirmJSON(true, "")}}

	res, err := Run(context.Background(), baseConfig(large, small, 3))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !res.Applied {
		t.Fatalf("expected Applied=true, got %+v", res)
	}
	if res.Attempts != 1 {
		t.Fatalf("expected Attempts=1, got %d", res.Attempts)
	}
	if res.NeedsReview {
		t.Fatalf("expected NeedsReview=false on success")
	}
}

// TestRun_RetriesThenApplies exercises the reject -> retry -> confirm path
// and checks the attempt counter only advances once per produced analysis.
func TestRun_RetriesThenApplies(t *testing.T) {
	large := &fakeProvider{responses: []string{`{"value":"a"}`, `{"value":"b"}`}}
	small := &fakeProvider{responses: []string{confirmJSON(false, "try again"), confirmJSON(true, "")}}

	res, err := Run(context.Background(), baseConfig(large, small, 3))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !res.Applied {
		t.Fatalf("expected eventual Applied=true, got %+v", res)
	}
	if res.Attempts != 2 {
		t.Fatalf("expected Attempts=2 (one per analysis produced), got %d", res.Attempts)
	}
}

// TestRun_QueuesReviewAfterMaxAttempts is the engine half of scenario 3:
// every analysis is rejected, and attempts must stop exactly at
// cfg.MaxAttempts with NeedsReview set rather than looping forever.
func TestRun_QueuesReviewAfterMaxAttempts(t *testing.T) {
	large := &fakeProvider{responses: []string{`{"value":"a"}`, `{"value":"b"}`, `{"value":"c"}`}}
	small := &fakeProvider{responses: []string{
		confirmJSON(false, "no"),
		confirmJSON(false, "no"),
		confirmJSON(false, "no"),
	}}

	res, err := Run(context.Background(), baseConfig(large, small, 3))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Applied {
		t.Fatalf("expected Applied=false after exhausting retries, got %+v", res)
	}
	if !res.NeedsReview {
		t.Fatalf("expected NeedsReview=true")
	}
	if res.Attempts != 3 {
		t.Fatalf("expected Attempts=MaxAttempts=3, got %d", res.Attempts)
	}
}

// TestRun_ConfirmModelErrorCountsAsRejection checks the documented contract:
// a confirm-model transport error is treated as a rejection carrying the
// error text as feedback, not a hard failure.
func TestRun_ConfirmModelErrorCountsAsRejection(t *testing.T) {
	large := &fakeProvider{responses: []string{`{"value":"a"}`, `{"value":"b"}`}}
	small := &fakeProvider{errs: []error{fmt.Errorf("confirm transport down")}, responses: []string{"", confirmJSON(true, "")}}

	res, err := Run(context.Background(), baseConfig(large, small, 3))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !res.Applied {
		t.Fatalf("expected retry to recover and apply, got %+v", res)
	}
	if res.Attempts != 2 {
		t.Fatalf("expected 2 attempts (first rejected by error, second confirmed), got %d", res.Attempts)
	}
}

// TestRun_AnalysisErrorQueuesReview checks a hard failure in
// the analyze phase (no tools offered) surfaces as a review, never a Go
// error returned to the caller — the engine's documented contract.
func TestRun_AnalysisErrorQueuesReview(t *testing.T) {
	large := &fakeProvider{errs: []error{fmt.Errorf("large model down")}}
	small := &fakeProvider{}

	res, err := Run(context.Background(), baseConfig(large, small, 3))
	if err != nil {
		t.Fatalf("Run must never return a Go error, got %v", err)
	}
	if res.Applied || !res.NeedsReview {
		t.Fatalf("expected a queued review on analysis failure, got %+v", res)
	}
}

// TestRun_DuplicateToolCallServedFromCache exercises the tool-call budget
// and the duplicate-call cache together: the large model asks for the same
// tool call twice across two analyze rounds, and the second must come back
// marked as cached without re-invoking ToolRunner.
func TestRun_DuplicateToolCallServedFromCache(t *testing.T) {
	callArgs := map[string]any{"query": "x"}
	toolCall := tool.Call{ID: "1", Name: "lookup", Args: callArgs}

	// The large model is scripted via Generate (tool-bound path), not
	// GenerateStructured, so we drive it through a fake that emits tool
	// calls on the first two turns and a plain structured answer on the
	// third.
	large := &scriptedToolProvider{
		turns: []llm.Response{
			{ToolCalls: []tool.Call{toolCall}},
			{ToolCalls: []tool.Call{toolCall}},
			{Content: `{"value":"done"}`},
		},
	}
	small := &fakeProvider{responses: []string{confirmJSON(true, "")}}

	var runnerCalls int
	cfg := baseConfig(large, small, 3)
	cfg.Tools = []tool.Tool{stubTool{name: "lookup"}}
	cfg.ToolContext = stubToolContext{}
	cfg.MaxToolCalls = 5
	cfg.ToolRunner = func(ctx tool.Context, call tool.Call) (string, error) {
		runnerCalls++
		return "result", nil
	}

	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !res.Applied {
		t.Fatalf("expected Applied=true, got %+v", res)
	}
	if runnerCalls != 1 {
		t.Fatalf("expected the duplicate call to be served from cache (1 real invocation), got %d", runnerCalls)
	}
}

type stubTool struct{ name string }

func (s stubTool) Name() string        { return s.name }
func (s stubTool) Description() string { return "stub" }

type stubToolContext struct{ context.Context }

func (stubToolContext) RunDocumentID() int { return 1 }

// scriptedToolProvider implements llm.Provider for the tool-bound path:
// Generate returns the next scripted Response in turns, and
// GenerateStructured/GenerateStreaming are unused by this test.
type scriptedToolProvider struct {
	turns []llm.Response
	i     int
}

func (s *scriptedToolProvider) Name() string      { return "scripted" }
func (s *scriptedToolProvider) ModelName() string { return "scripted-model" }
func (s *scriptedToolProvider) Close() error      { return nil }

func (s *scriptedToolProvider) Generate(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (*llm.Response, error) {
	if s.i >= len(s.turns) {
		return &s.turns[len(s.turns)-1], nil
	}
	r := s.turns[s.i]
	s.i++
	return &r, nil
}

func (s *scriptedToolProvider) GenerateStructured(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (string, error) {
	resp, err := s.Generate(ctx, messages, opts)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (s *scriptedToolProvider) GenerateStreaming(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}
