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

package config

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/docpilot/core/pkg/auth"
	"github.com/docpilot/core/pkg/config/provider"
	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/embedder"
	"github.com/docpilot/core/pkg/llm"
	"github.com/docpilot/core/pkg/observability"
	"github.com/docpilot/core/pkg/vector"
)

// SettingsConfig locates the runtime-mutable settings store's optional base
// layer (settings the operator is allowed to override through pkg/store's
// settings_kv table at runtime, see pkg/settings).
type SettingsConfig struct {
	Provider provider.ProviderConfig `yaml:"provider,omitempty"`
}

// AdminConfig configures the admin HTTP control surface.
type AdminConfig struct {
	Addr string `yaml:"addr"` // default ":8090"
}

// RateLimitRuleConfig describes one configured rate limit rule in
// serialized form; mirrors pkg/ratelimit.LimitRuleConfig without importing
// that package here (pkg/ratelimit itself depends on pkg/config for its SQL
// backend, so the dependency runs the other way — main wires the two
// together).
type RateLimitRuleConfig struct {
	Type   string `yaml:"type"`   // "token" or "count"
	Window string `yaml:"window"` // "minute", "hour", "day", "week", "month"
	Limit  int64  `yaml:"limit"`
}

// RateLimitConfig configures outbound LLM call throttling, enforced per
// logical model ("large", "small") so a heavy reasoning workload cannot
// starve the confirmation model's own budget.
type RateLimitConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Backend string                `yaml:"backend"` // "memory" or "sql", default "memory"
	Scope   string                `yaml:"scope"`    // "session" or "user", default "session"
	Limits  []RateLimitRuleConfig `yaml:"limits"`
}

// Config is the root of docpilot's YAML configuration, decoded the same way
// the teacher decodes its own Config: parse as YAML/JSON, expand ${VAR}
// environment references, then mapstructure-decode with weak typing.
type Config struct {
	Database      DatabaseConfig         `yaml:"database"`
	DMS           dms.Config             `yaml:"dms"`
	LLM           llm.ModelSet           `yaml:"llm"`
	Vector        vector.ProviderConfig  `yaml:"vector"`
	Embedder      embedder.Config        `yaml:"embedder"`
	Auth          auth.Config            `yaml:"auth"`
	Observability observability.Config   `yaml:"observability"`
	Settings      SettingsConfig         `yaml:"settings"`
	Admin         AdminConfig            `yaml:"admin"`
	RateLimit     RateLimitConfig        `yaml:"rate_limit"`
	TemplatesDir  string                 `yaml:"templates_dir"` // prompt template root, default "templates"
}

// SetDefaults fills in unset fields with sensible values.
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()
	c.Vector.SetDefaults()
	c.Auth.SetDefaults()
	c.Observability.SetDefaults()
	if c.Admin.Addr == "" {
		c.Admin.Addr = ":8090"
	}
	if c.TemplatesDir == "" {
		c.TemplatesDir = "templates"
	}
	if c.DMS.PageSize <= 0 {
		c.DMS.PageSize = 100
	}
}

// Validate checks the config for errors that would make the service unable
// to start at all; provider-specific validation happens inside the
// individual factories (vector.NewProvider, embedder.New, llm.NewRegistry).
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.DMS.BaseURL == "" {
		return fmt.Errorf("dms.base_url is required")
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	return nil
}

// Load reads raw bytes from prov (nil means "use defaults only"), expands
// environment variable references, and decodes into a Config. Grounded on
// the teacher's pkg/config.Loader.Load pipeline (parse -> expand -> decode
// -> defaults -> validate), adapted to a single-shot call since docpilot's
// hot-reloadable layer lives in pkg/settings, not here.
func Load(ctx context.Context, prov provider.Provider) (*Config, error) {
	cfg := &Config{}

	if prov != nil {
		data, err := prov.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		raw, err := parseBytes(data)
		if err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
		expanded, _ := ExpandEnvVarsInData(raw).(map[string]interface{})
		if err := decodeConfig(expanded, cfg); err != nil {
			return nil, fmt.Errorf("decoding config: %w", err)
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func parseBytes(data []byte) (map[string]interface{}, error) {
	var result map[string]interface{}
	if err := yaml.Unmarshal(data, &result); err == nil {
		return result, nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("not valid YAML or JSON: %w", err)
	}
	return result, nil
}

func decodeConfig(input map[string]interface{}, output *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}
	return decoder.Decode(input)
}
