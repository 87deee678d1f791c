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

package physmem

import (
	"testing"

	"kestrel.dev/kestrel/pkg/hostarch"
)

func TestRAMSlice(t *testing.T) {
	ram, err := NewRAM(0x4000_0000, 4*hostarch.PageSize)
	if err != nil {
		t.Fatalf("NewRAM failed: %v", err)
	}
	b, err := ram.Slice(0x4000_1000, 16)
	if err != nil {
		t.Fatalf("Slice failed: %v", err)
	}
	copy(b, "physical")
	again, _ := ram.Slice(0x4000_1000, 8)
	if string(again) != "physical" {
		t.Errorf("slices do not alias: %q", again)
	}
	if err := Zero(ram, 0x4000_1000, 8); err != nil {
		t.Fatalf("Zero failed: %v", err)
	}
	if again[0] != 0 {
		t.Errorf("Zero did not clear memory")
	}

	for _, tc := range []struct {
		addr   hostarch.Addr
		length uint64
	}{
		{0x3fff_f000, 8},
		{0x4000_3ff8, 16},
		{0x4000_4000, 1},
	} {
		if _, err := ram.Slice(tc.addr, tc.length); err == nil {
			t.Errorf("Slice(%v, %d) outside RAM succeeded", tc.addr, tc.length)
		}
	}
}

func TestNewRAMAlignment(t *testing.T) {
	if _, err := NewRAM(0x4000_0001, hostarch.PageSize); err == nil {
		t.Errorf("unaligned base accepted")
	}
	if _, err := NewRAM(0x4000_0000, 100); err == nil {
		t.Errorf("unaligned size accepted")
	}
}
