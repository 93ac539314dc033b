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

package ratelimit

import (
	"fmt"

	"github.com/docpilot/core/pkg/config"
)

// LimitRuleConfig describes one configured limit rule in serialized form.
type LimitRuleConfig struct {
	Type   string `yaml:"type"`
	Window string `yaml:"window"`
	Limit  int64  `yaml:"limit"`
}

// ConfigFromSettings holds the rate limiting configuration surfaced through
// the settings store. It bounds both LLM token spend and tool-call volume
// per document-processing run.
type ConfigFromSettings struct {
	Enabled bool              `yaml:"enabled"`
	Backend string            `yaml:"backend"` // "memory" or "sql"
	Scope   string            `yaml:"scope"`    // "session" or "user"
	Limits  []LimitRuleConfig `yaml:"limits"`
}

// NewRateLimiterFromConfig creates a RateLimiter backed by either an
// in-memory store or the shared SQL store, depending on backend.
//
// When backend is "sql", dbCfg and pool must be non-nil; the limiter shares
// its connection with the rest of the store layer rather than opening a
// second pool against the same database.
func NewRateLimiterFromConfig(cfg *ConfigFromSettings, dbCfg *config.DatabaseConfig, pool *config.DBPool) (RateLimiter, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	var store Store
	switch cfg.Backend {
	case "sql":
		if pool == nil || dbCfg == nil {
			return nil, fmt.Errorf("database config and pool are required for sql rate limit backend")
		}

		db, err := pool.Get(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to get database connection: %w", err)
		}

		store, err = NewSQLStore(db, dbCfg.Dialect())
		if err != nil {
			return nil, fmt.Errorf("failed to create SQL store: %w", err)
		}
	case "memory", "":
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported rate limit backend: %s", cfg.Backend)
	}

	limits := make([]LimitRule, len(cfg.Limits))
	for i, l := range cfg.Limits {
		limits[i] = LimitRule{
			Type:   ParseLimitType(l.Type),
			Window: ParseTimeWindow(l.Window),
			Limit:  l.Limit,
		}
	}

	limiterCfg := &Config{
		Enabled: cfg.Enabled,
		Limits:  limits,
	}

	return NewRateLimiter(limiterCfg, store)
}

// ScopeFromSettings returns the rate limiting scope from configuration,
// defaulting to per-session scoping.
func ScopeFromSettings(cfg *ConfigFromSettings) Scope {
	if cfg == nil || cfg.Scope == "" {
		return ScopeSession
	}
	return ParseScope(cfg.Scope)
}
