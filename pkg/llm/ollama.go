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

import "github.com/docpilot/core/pkg/errs"

// newOllamaProvider builds a provider for a local Ollama-compatible
// endpoint. Ollama implements the OpenAI Chat Completions wire format under
// /v1/chat/completions, so it reuses openaiProvider wholesale with no API
// key and a local base URL.
func newOllamaProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434/v1/chat/completions"
	}
	p, err := newOpenAIProvider(cfg)
	if err != nil {
		return nil, errs.Config("llm.ollama", err)
	}
	return &ollamaProvider{Provider: p}, nil
}

// ollamaProvider wraps the openai-shaped provider only to report its own
// name for logging; Invoke/Generate/GenerateStructured all delegate.
type ollamaProvider struct {
	Provider
}

func (p *ollamaProvider) Name() string { return "ollama" }
