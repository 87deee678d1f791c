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

package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddRemove(t *testing.T) {
	b := New(130)
	for _, i := range []uint32{0, 63, 64, 129} {
		b.Add(i)
	}
	b.Add(64)
	if got, want := b.GetNumOnes(), uint32(4); got != want {
		t.Errorf("GetNumOnes() = %d, want %d", got, want)
	}
	if diff := cmp.Diff([]uint32{0, 63, 64, 129}, b.ToSlice()); diff != "" {
		t.Errorf("ToSlice() mismatch (-want +got):\n%s", diff)
	}
	b.Remove(63)
	b.Remove(63)
	if b.Contains(63) {
		t.Errorf("Contains(63) after Remove")
	}
	if got, want := b.GetNumOnes(), uint32(3); got != want {
		t.Errorf("GetNumOnes() = %d, want %d", got, want)
	}
}

func TestFirstOne(t *testing.T) {
	b := New(200)
	b.Add(5)
	b.Add(150)
	for _, tc := range []struct {
		start uint32
		want  uint32
		err   bool
	}{
		{0, 5, false},
		{5, 5, false},
		{6, 150, false},
		{151, 0, true},
	} {
		got, err := b.FirstOne(tc.start)
		if (err != nil) != tc.err || (!tc.err && got != tc.want) {
			t.Errorf("FirstOne(%d) = %d, %v, want %d, err=%t", tc.start, got, err, tc.want, tc.err)
		}
	}
}

func TestOutOfRange(t *testing.T) {
	b := New(10)
	if b.Contains(10) {
		t.Errorf("Contains(10) on a 10-bit map")
	}
	defer func() {
		if recover() == nil {
			t.Errorf("Add(10) did not panic")
		}
	}()
	b.Add(10)
}
