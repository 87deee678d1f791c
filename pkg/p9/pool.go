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

import (
	"sync"
)

// pool is a simple allocator for tags and FIDs in [start, limit).
type pool struct {
	mu sync.Mutex

	// cache holds returned values.
	cache []uint64

	// start is the starting value.
	start uint64

	// limit is the upper limit.
	limit uint64
}

// Get allocates a value. ok is false if the pool is exhausted.
func (p *pool) Get() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.cache); n > 0 {
		v := p.cache[n-1]
		p.cache = p.cache[:n-1]
		return v, true
	}
	if p.start == p.limit {
		return 0, false
	}
	v := p.start
	p.start++
	return v, true
}

// Put returns a value to the pool.
func (p *pool) Put(v uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = append(p.cache, v)
}
