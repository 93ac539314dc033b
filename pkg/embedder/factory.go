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

package embedder

import "fmt"

// Config selects and configures one embedder backend.
type Config struct {
	Type string `yaml:"type"` // "openai", "ollama", "cohere"

	OpenAI *OpenAIConfig `yaml:"openai,omitempty"`
	Ollama *OllamaConfig `yaml:"ollama,omitempty"`
	Cohere *CohereConfig `yaml:"cohere,omitempty"`
}

// New builds the configured Embedder.
func New(cfg Config) (Embedder, error) {
	switch cfg.Type {
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder configuration is required")
		}
		return NewOpenAIEmbedder(*cfg.OpenAI)
	case "ollama":
		if cfg.Ollama == nil {
			return nil, fmt.Errorf("ollama embedder configuration is required")
		}
		return NewOllamaEmbedder(*cfg.Ollama)
	case "cohere":
		if cfg.Cohere == nil {
			return nil, fmt.Errorf("cohere embedder configuration is required")
		}
		return NewCohereEmbedder(*cfg.Cohere)
	default:
		return nil, fmt.Errorf("unknown embedder type: %q", cfg.Type)
	}
}
