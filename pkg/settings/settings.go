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

// Package settings implements the runtime-mutable settings store: a base
// configuration loaded once from a pluggable provider (file/consul/
// etcd/zookeeper) and hot-reloaded on change, overlaid with per-key
// operator overrides persisted in pkg/store's settings_kv table. Every
// accessor reads the current in-memory snapshot, which is swapped
// atomically on reload so a caller never observes a half-updated value;
// callers themselves never cache it between calls.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/docpilot/core/pkg/config/provider"
	"github.com/docpilot/core/pkg/store"
)

// Values is the typed decode target for the settings snapshot. Field names
// map to settings_kv keys and base-config YAML keys of the same name
// (snake_case, via the mapstructure tag).
type Values struct {
	Language               string          `mapstructure:"language"`
	MaxConfirmAttempts     int             `mapstructure:"max_confirm_attempts"`
	MaxToolCalls           int             `mapstructure:"max_tool_calls"`
	AutoProcessingEnabled  bool            `mapstructure:"auto_processing_enabled"`
	PollIntervalMinutes    int             `mapstructure:"poll_interval_minutes"`
	CustomFieldsConfigured bool            `mapstructure:"custom_fields_configured"`
	StepEnabled            map[string]bool `mapstructure:"step_enabled"`
}

// defaults seeds every field a bootstrap with no base config or overrides
// should still have sane values for.
func defaults() Values {
	return Values{
		Language:              "en",
		MaxConfirmAttempts:    3,
		MaxToolCalls:          5,
		AutoProcessingEnabled: false,
		PollIntervalMinutes:   5,
		StepEnabled: map[string]bool{
			"ocr": true, "summary": true, "title": true, "correspondent": true,
			"document_type": true, "tags": true, "custom_fields": true,
		},
	}
}

// Store is the runtime-mutable settings provider. It satisfies the
// Settings interfaces consumed by pkg/agents, pkg/pipeline, and
// pkg/scheduler.
type Store struct {
	prov provider.Provider // nil if no base config source was configured
	st   *store.Store

	snapshot atomic.Pointer[Values]
}

// New builds a Store. prov may be nil, in which case the base snapshot is
// just defaults() overlaid with any operator overrides already in st.
func New(ctx context.Context, prov provider.Provider, st *store.Store) (*Store, error) {
	s := &Store{prov: prov, st: st}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// reload re-reads the base config (if a provider is configured) and
// overlays the store's operator overrides, then swaps the snapshot.
func (s *Store) reload(ctx context.Context) error {
	raw := map[string]any{}

	if s.prov != nil {
		data, err := s.prov.Load(ctx)
		if err != nil {
			return fmt.Errorf("settings: loading base config: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("settings: parsing base config: %w", err)
		}
	}

	if s.st != nil {
		overrides, err := s.st.AllSettings(ctx)
		if err != nil {
			return fmt.Errorf("settings: loading overrides: %w", err)
		}
		for k, v := range overrides {
			raw[k] = v
		}
	}

	v := defaults()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &v,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("settings: building decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("settings: decoding: %w", err)
	}

	s.snapshot.Store(&v)
	return nil
}

// Watch blocks, reloading the snapshot whenever the underlying provider
// signals a change. A no-op if the Store was built without a provider.
func (s *Store) Watch(ctx context.Context) error {
	if s.prov == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	changes, err := s.prov.Watch(ctx)
	if err != nil {
		return fmt.Errorf("settings: starting watch: %w", err)
	}
	if changes == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			if err := s.reload(ctx); err != nil {
				slog.Error("settings: reload failed", "error", err)
				continue
			}
			slog.Info("settings: reloaded from base config change")
		}
	}
}

// Put persists a single operator override and immediately reloads the
// snapshot so the new value is visible to the very next accessor call.
func (s *Store) Put(ctx context.Context, key, value string) error {
	if err := s.st.PutSetting(ctx, key, value); err != nil {
		return fmt.Errorf("settings: writing %s: %w", key, err)
	}
	return s.reload(ctx)
}

// All returns every persisted override, for the admin settings-list
// endpoint.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	return s.st.AllSettings(ctx)
}

func (s *Store) current() *Values {
	v := s.snapshot.Load()
	if v == nil {
		d := defaults()
		return &d
	}
	return v
}

// StepEnabled reports whether the named pipeline step should run.
// Unrecognized step names default to enabled.
func (s *Store) StepEnabled(step string) bool {
	v := s.current()
	enabled, ok := v.StepEnabled[step]
	if !ok {
		return true
	}
	return enabled
}

// Language returns the active prompt-template language code.
func (s *Store) Language() string { return s.current().Language }

// MaxConfirmAttempts returns the confirmation-loop retry limit.
func (s *Store) MaxConfirmAttempts() int { return s.current().MaxConfirmAttempts }

// MaxToolCalls returns the per-run tool-call budget.
func (s *Store) MaxToolCalls() int { return s.current().MaxToolCalls }

// AutoProcessingEnabled reports whether the scheduler should pick up and
// process documents automatically.
func (s *Store) AutoProcessingEnabled() bool { return s.current().AutoProcessingEnabled }

// PollIntervalMinutes returns the scheduler's idle polling interval.
func (s *Store) PollIntervalMinutes() int { return s.current().PollIntervalMinutes }

// CustomFieldsConfigured reports whether the operator has flagged custom
// fields as configured. Kept as a settings override (rather than deriving
// it solely from the DMS's own field list) so an operator can disable the
// step even when the DMS has fields defined.
func (s *Store) CustomFieldsConfigured(ctx context.Context) (bool, error) {
	return s.current().CustomFieldsConfigured, nil
}
