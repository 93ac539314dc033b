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

	"github.com/docpilot/core/pkg/errs"
	"github.com/docpilot/core/pkg/llm"
	"github.com/docpilot/core/pkg/tool"
)

// Logger receives every engine event. Implementations must not block the
// engine; a nil Logger disables logging entirely.
type Logger interface {
	Log(ctx context.Context, parentID, event, payload string) (id string)
}

// noopLogger discards every event.
type noopLogger struct{}

func (noopLogger) Log(context.Context, string, string, string) string { return "" }

// ConfirmResult is the small model's verdict on a proposed analysis.
type ConfirmResult struct {
	Confirmed         bool   `json:"confirmed"`
	Feedback          string `json:"feedback"`
	SuggestedChanges  string `json:"suggested_changes"`
}

// Config parameterizes one agent's confirmation loop.
type Config struct {
	AgentName string

	Large llm.Provider
	Small llm.Provider

	Tools        []tool.Tool
	ToolRunner   func(ctx tool.Context, call tool.Call) (string, error)
	ToolContext  tool.Context
	MaxToolCalls int // default 5

	AnalysisSchema llm.JSONSchema

	SystemAnalysis string
	SystemConfirm  string

	// BuildAnalysisPrompt renders the user-turn prompt for the analyze
	// phase given the accumulated feedback from any prior rejection.
	BuildAnalysisPrompt func(feedback string) string
	// BuildConfirmPrompt renders the user-turn prompt for the confirm
	// phase given the raw structured analysis JSON.
	BuildConfirmPrompt func(analysisJSON string) string

	MaxAttempts int // default 3

	Logger Logger
}

// Result is the engine's terminal outcome for one document run.
type Result struct {
	Applied      bool
	Analysis     string // raw structured-output JSON, possibly empty on queue_review
	Attempts     int
	NeedsReview  bool
	ErrorMessage string
}

// Run drives the five-state confirmation loop to completion: apply or
// queue_review. It never returns a transport error directly — any
// unrecoverable failure is surfaced as a queue_review Result so the caller
// (an agent) can always write a pending review and move on.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	st := newRunState(cfg.MaxAttempts, cfg.MaxToolCalls)
	rootID := logger.Log(ctx, "", "run_start", cfg.AgentName)

	current := phaseAnalyze
	for {
		switch current {
		case phaseAnalyze:
			next, err := stepAnalyze(ctx, cfg, st, logger, rootID)
			if err != nil {
				return queueReview(st, err.Error()), nil
			}
			current = next

		case phaseTools:
			stepTools(ctx, cfg, st, logger, rootID)
			current = phaseAnalyze

		case phaseConfirm:
			next := stepConfirm(ctx, cfg, st, logger, rootID)
			current = next

		case phaseApply:
			logger.Log(ctx, rootID, "final_result", st.lastAnalysis)
			return Result{Applied: true, Analysis: st.lastAnalysis, Attempts: st.attempt}, nil

		case phaseQueueReview:
			msg := "confirmation attempts exhausted"
			logger.Log(ctx, rootID, "final_result", msg)
			return queueReview(st, msg), nil
		}
	}
}

func queueReview(st *runState, errMsg string) Result {
	return Result{
		Applied:      false,
		Analysis:     st.lastAnalysis,
		Attempts:     st.attempt,
		NeedsReview:  true,
		ErrorMessage: errMsg,
	}
}

// stepAnalyze invokes the large model. Tools are offered only on the first
// attempt or when retrying after a rejection, and only while the tool-call
// budget still has room; otherwise structured output is enforced directly.
func stepAnalyze(ctx context.Context, cfg Config, st *runState, logger Logger, parentID string) (phase, error) {
	prompt := cfg.BuildAnalysisPrompt(st.feedback)
	st.messages = append(st.messages, llm.Message{Role: llm.RoleUser, Content: prompt})
	logger.Log(ctx, parentID, "prompt_built", prompt)

	offerTools := len(cfg.Tools) > 0 && !st.budget.Exhausted()

	if offerTools {
		bound := llm.BindTools(cfg.Large, cfg.Tools, llm.GenerateOptions{Schema: cfg.AnalysisSchema})
		resp, err := bound.Invoke(ctx, append([]llm.Message{{Role: llm.RoleSystem, Content: cfg.SystemAnalysis}}, st.messages...))
		if err != nil {
			return "", errs.Analysis("confirmloop.analyze", err)
		}
		logger.Log(ctx, parentID, "raw_response", resp.Content)
		if resp.Thinking != nil {
			logger.Log(ctx, parentID, "thinking", resp.Thinking.Content)
		}
		if len(resp.ToolCalls) > 0 {
			st.messages = append(st.messages, llm.Message{Role: llm.RoleAssistant, ToolCalls: resp.ToolCalls})
			return phaseTools, nil
		}
		st.attempt++
		st.lastAnalysis = resp.Content
		st.feedback = ""
		return phaseConfirm, nil
	}

	out, err := cfg.Large.GenerateStructured(ctx, append([]llm.Message{{Role: llm.RoleSystem, Content: cfg.SystemAnalysis}}, st.messages...), llm.GenerateOptions{Schema: cfg.AnalysisSchema})
	if err != nil {
		return "", errs.Analysis("confirmloop.analyze.structured", err)
	}
	logger.Log(ctx, parentID, "raw_response", out)
	st.attempt++
	st.lastAnalysis = out
	st.feedback = ""
	return phaseConfirm, nil
}

// stepTools executes every pending tool call, caching results by a
// canonical (tool, args) key so a repeated call within the same run is
// served from cache while still charging the tool-call budget.
func stepTools(ctx context.Context, cfg Config, st *runState, logger Logger, parentID string) {
	if len(st.messages) == 0 {
		return
	}
	last := st.messages[len(st.messages)-1]
	for _, call := range last.ToolCalls {
		args, _ := json.Marshal(call.Args)
		key := cacheKey(call.Name, string(args))
		st.budget.Spend(1)

		var result string
		if cached, ok := st.toolCache[key]; ok {
			result = fmt.Sprintf("[cached result, already seen this run]\n%s", cached)
		} else {
			logger.Log(ctx, parentID, "tool_call", fmt.Sprintf("%s(%s)", call.Name, args))
			r, err := cfg.ToolRunner(cfg.ToolContext, tool.Call{Name: call.Name, Args: call.Args})
			if err != nil {
				r = fmt.Sprintf("error: %v", err)
			}
			st.toolCache[key] = r
			result = r
			logger.Log(ctx, parentID, "tool_result", result)
		}

		st.messages = append(st.messages, llm.Message{
			Role:       llm.RoleTool,
			Content:    result,
			ToolCallID: call.ID,
			Name:       call.Name,
		})
	}
}

// stepConfirm invokes the small model to confirm or reject the last
// analysis. A confirmation-model error is treated as a rejection carrying
// the error text as feedback, per the engine's error-handling contract.
func stepConfirm(ctx context.Context, cfg Config, st *runState, logger Logger, parentID string) phase {
	prompt := cfg.BuildConfirmPrompt(st.lastAnalysis)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: cfg.SystemConfirm},
		{Role: llm.RoleUser, Content: prompt},
	}

	confirmSchema := llm.JSONSchema{
		"type": "object",
		"properties": map[string]any{
			"confirmed":          map[string]any{"type": "boolean"},
			"feedback":           map[string]any{"type": "string"},
			"suggested_changes":  map[string]any{"type": "string"},
		},
		"required": []string{"confirmed", "feedback"},
	}

	out, err := cfg.Small.GenerateStructured(ctx, messages, llm.GenerateOptions{Schema: confirmSchema})
	var verdict ConfirmResult
	if err != nil {
		verdict = ConfirmResult{Confirmed: false, Feedback: err.Error()}
		logger.Log(ctx, parentID, "confirmation_decision", "error: "+err.Error())
	} else if jerr := json.Unmarshal([]byte(out), &verdict); jerr != nil {
		verdict = ConfirmResult{Confirmed: false, Feedback: "malformed confirmation response: " + jerr.Error()}
		logger.Log(ctx, parentID, "confirmation_decision", out)
	} else {
		logger.Log(ctx, parentID, "confirmation_decision", out)
	}

	if verdict.Confirmed {
		return phaseApply
	}
	if st.attempt >= st.maxAttempts {
		logger.Log(ctx, parentID, "retry_trigger", "attempt limit reached, queueing for review")
		return phaseQueueReview
	}
	st.feedback = verdict.Feedback
	logger.Log(ctx, parentID, "retry_trigger", verdict.Feedback)
	return phaseAnalyze
}
