// Copyright 2025 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package p9

import "testing"

func TestPool(t *testing.T) {
	p := pool{start: 1, limit: 4}
	seen := make(map[uint64]bool)
	for i := 0; i < 3; i++ {
		v, ok := p.Get()
		if !ok {
			t.Fatalf("Get #%d: pool exhausted early", i)
		}
		if v < 1 || v >= 4 || seen[v] {
			t.Fatalf("Get #%d = %d, want a fresh value in [1, 4)", i, v)
		}
		seen[v] = true
	}
	if v, ok := p.Get(); ok {
		t.Fatalf("Get on exhausted pool = %d, want failure", v)
	}

	// Returned tags are handed out again before the pool reports exhaustion.
	p.Put(2)
	if v, ok := p.Get(); !ok || v != 2 {
		t.Errorf("Get after Put(2) = %d, %t, want 2, true", v, ok)
	}
}
