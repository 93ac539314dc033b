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
	"fmt"

	"github.com/docpilot/core/pkg/registry"
)

// ProviderConfig configures a single named provider instance.
type ProviderConfig struct {
	Type        string  `yaml:"type"` // "openai", "anthropic", "gemini", "ollama"
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key,omitempty"`
	BaseURL     string  `yaml:"base_url,omitempty"` // override, used by ollama and self-hosted-compatible endpoints
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
}

// ModelSet names the two logical models the rest of the system depends on.
// "large" does structured reasoning and tool use; "small" does cheap binary
// confirmation.
type ModelSet struct {
	Large ProviderConfig `yaml:"large"`
	Small ProviderConfig `yaml:"small"`
}

// Registry resolves logical model names ("large", "small") to live
// Provider instances, built once by NewRegistry, mirroring the locking
// discipline of pkg/registry.BaseRegistry.
type Registry struct {
	base *registry.BaseRegistry[Provider]
}

// NewRegistry constructs providers for both logical models from cfg.
func NewRegistry(cfg ModelSet) (*Registry, error) {
	base := registry.NewBaseRegistry[Provider]()

	large, err := newProvider(cfg.Large)
	if err != nil {
		return nil, fmt.Errorf("large model: %w", err)
	}
	if err := base.Register("large", large); err != nil {
		return nil, err
	}

	small, err := newProvider(cfg.Small)
	if err != nil {
		return nil, fmt.Errorf("small model: %w", err)
	}
	if err := base.Register("small", small); err != nil {
		return nil, err
	}

	return &Registry{base: base}, nil
}

// Large returns the structured-reasoning provider.
func (r *Registry) Large() Provider {
	p, _ := r.base.Get("large")
	return p
}

// Small returns the confirmation provider.
func (r *Registry) Small() Provider {
	p, _ := r.base.Get("small")
	return p
}

// Close releases both providers' resources.
func (r *Registry) Close() error {
	var errOut error
	for _, name := range []string{"large", "small"} {
		if p, ok := r.base.Get(name); ok {
			if err := p.Close(); err != nil {
				errOut = err
			}
		}
	}
	return errOut
}

func newProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return newOpenAIProvider(cfg)
	case "anthropic":
		return newAnthropicProvider(cfg)
	case "gemini":
		return newGeminiProvider(cfg)
	case "ollama":
		return newOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider type: %q", cfg.Type)
	}
}
