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

// Package promptstore loads the agents' Markdown prompt templates from a
// directory tree (templates/<lang>/<agent>.analysis.md, .confirm.md),
// applies {placeholder} substitution, and hot-reloads on file change. The
// watch-loop is grounded on pkg/config/provider's FileProvider.
package promptstore

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Store loads and caches prompt templates under root, keyed by
// "<lang>/<agent>.<phase>".
type Store struct {
	root string

	mu        sync.RWMutex
	templates map[string]string
	watcher   *fsnotify.Watcher
	closed    bool
}

// New creates a Store rooted at dir (e.g. "templates") and loads every
// template file under it.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving templates root: %w", err)
	}
	s := &Store{root: abs, templates: make(map[string]string)}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func templateKey(lang, agent, phase string) string {
	return lang + "/" + agent + "." + phase
}

func (s *Store) loadAll() error {
	templates := make(map[string]string)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
		if len(parts) != 2 {
			return nil
		}
		lang := parts[0]
		base := strings.TrimSuffix(filepath.Base(parts[1]), ".md")
		// base is "<agent>.analysis" or "<agent>.confirm"
		idx := strings.LastIndex(base, ".")
		if idx < 0 {
			return nil
		}
		agent, phase := base[:idx], base[idx+1:]

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading template %s: %w", path, err)
		}
		templates[templateKey(lang, agent, phase)] = string(data)
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.templates = templates
	s.mu.Unlock()
	return nil
}

// Render returns the template for lang/agent/phase with every
// {placeholder} in vars substituted. A template missing for lang falls back
// to the "en" one; a template missing in both is an error; a
// placeholder with no matching var is left untouched, so callers can tell
// an empty substitution from a missing one.
func (s *Store) Render(lang, agent, phase string, vars map[string]string) (string, error) {
	s.mu.RLock()
	tmpl, ok := s.templates[templateKey(lang, agent, phase)]
	if !ok {
		tmpl, ok = s.templates[templateKey("en", agent, phase)]
	}
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no template for %s/%s.%s", lang, agent, phase)
	}

	out := tmpl
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out, nil
}

// List returns every loaded template's key ("<lang>/<agent>.<phase>"), for
// the admin surface's prompt listing endpoint.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.templates))
	for k := range s.templates {
		keys = append(keys, k)
	}
	return keys
}

// Put writes content to the template file for lang/agent/phase, creating
// its language directory if needed. The in-memory cache updates inline;
// if a watch is active, the filesystem write it also triggers a redundant
// (but harmless) reload.
func (s *Store) Put(lang, agent, phase, content string) error {
	dir := filepath.Join(s.root, lang)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating template directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, agent+"."+phase+".md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing template %s: %w", path, err)
	}

	s.mu.Lock()
	s.templates[templateKey(lang, agent, phase)] = content
	s.mu.Unlock()
	return nil
}

// Watch starts an fsnotify watch over the template tree, reloading every
// template on any change. Call Close to stop.
func (s *Store) Watch() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("promptstore is closed")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("creating template watcher: %w", err)
	}
	s.watcher = watcher
	s.mu.Unlock()

	if err := addRecursive(watcher, s.root); err != nil {
		watcher.Close()
		return err
	}
	go s.watchLoop(watcher)
	return nil
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func (s *Store) watchLoop(watcher *fsnotify.Watcher) {
	var debounce *time.Timer
	const delay = 200 * time.Millisecond

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(delay, func() {
				if err := s.loadAll(); err != nil {
					slog.Error("failed to reload prompt templates", "error", err)
				} else {
					slog.Info("reloaded prompt templates")
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("template watcher error", "error", err)
		}
	}
}

// Close stops the watch loop, if running.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}
