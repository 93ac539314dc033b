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

package workflow

import "testing"

func TestStateOf_PrecedenceOrder(t *testing.T) {
	cases := []struct {
		name string
		tags map[string]bool
		want string
	}{
		{"empty is pending", map[string]bool{}, Pending},
		{"single tag", map[string]bool{OCRDone: true}, OCRDone},
		{"highest precedence wins", map[string]bool{OCRDone: true, TagsDone: true, Pending: true}, TagsDone},
		{"processed beats everything", map[string]bool{Processed: true, TitleDone: true}, Processed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := StateOf(c.tags); got != c.want {
				t.Errorf("StateOf(%v) = %q, want %q", c.tags, got, c.want)
			}
		})
	}
}

func TestNextStep_WalksFullSequence(t *testing.T) {
	state := Pending
	var seen []string
	for i := 0; i < len(Steps)+1; i++ {
		next, ok := NextStep(state)
		if !ok {
			break
		}
		seen = append(seen, next)
		s, _ := StepByName(next)
		state = s.OutTag
	}
	if state != Processed {
		t.Fatalf("expected walking every step to terminate at Processed, got %q", state)
	}
	if len(seen) != len(Steps) {
		t.Fatalf("expected exactly %d steps, walked %d: %v", len(Steps), len(seen), seen)
	}
}

func TestNextStep_ProcessedHasNoNextStep(t *testing.T) {
	if _, ok := NextStep(Processed); ok {
		t.Fatalf("expected NextStep(Processed) to report no next step")
	}
}

func TestStepByName_UnknownNameNotFound(t *testing.T) {
	if _, ok := StepByName("not_a_step"); ok {
		t.Fatalf("expected unknown step name to report not found")
	}
}
