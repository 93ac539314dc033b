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

package provider

import (
	"context"
	"fmt"
	"log/slog"

	consul "github.com/hashicorp/consul/api"
)

// ConsulProvider loads settings from a single Consul KV key and watches it
// via Consul's blocking-query mechanism.
type ConsulProvider struct {
	client *consul.Client
	key    string
}

// NewConsulProvider connects to Consul and targets key. The first entry of
// endpoints is used as the HTTP address, with no reachability check; the
// other entries are ignored.
func NewConsulProvider(endpoints []string, key string) (*ConsulProvider, error) {
	if key == "" {
		return nil, fmt.Errorf("consul provider requires a KV key path")
	}
	cfg := consul.DefaultConfig()
	if len(endpoints) > 0 {
		cfg.Address = endpoints[0]
	}
	client, err := consul.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating consul client: %w", err)
	}
	return &ConsulProvider{client: client, key: key}, nil
}

// Type returns TypeConsul.
func (p *ConsulProvider) Type() Type { return TypeConsul }

// Load fetches the current value of the KV key.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	pair, _, err := p.client.KV().Get(p.key, (&consul.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("consul KV get %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul KV key %s not found", p.key)
	}
	return pair.Value, nil
}

// Watch polls the key via Consul blocking queries, signaling a change
// whenever the KV entry's ModifyIndex advances.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	go p.watchLoop(ctx, ch)
	return ch, nil
}

func (p *ConsulProvider) watchLoop(ctx context.Context, ch chan<- struct{}) {
	defer close(ch)
	var lastIndex uint64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pair, meta, err := p.client.KV().Get(p.key, (&consul.QueryOptions{WaitIndex: lastIndex}).WithContext(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("consul watch query failed", "key", p.key, "error", err)
			continue
		}
		if pair != nil && meta.LastIndex != lastIndex {
			lastIndex = meta.LastIndex
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

// Close releases the provider's resources. The consul API client holds no
// persistent connection, so this is a no-op.
func (p *ConsulProvider) Close() error { return nil }

var _ Provider = (*ConsulProvider)(nil)
