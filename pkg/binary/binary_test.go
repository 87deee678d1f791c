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

package binary

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type padded struct {
	A uint8
	_ [3]uint8
	B int32
	C [2]uint16
	D int64
}

func TestSize(t *testing.T) {
	for _, tc := range []struct {
		v    any
		want uintptr
	}{
		{uint32(10), 4},
		{padded{}, 20},
		{&padded{}, 20},
		{[4]uint64{}, 32},
	} {
		if got := Size(tc.v); got != tc.want {
			t.Errorf("Size(%T) = %d, want %d", tc.v, got, tc.want)
		}
	}
}

func TestMarshalLayout(t *testing.T) {
	in := padded{A: 1, B: -2, C: [2]uint16{0x0304, 0x0506}, D: 7}
	got := Marshal(nil, &in)
	want := []byte{
		1, 0, 0, 0,
		0xfe, 0xff, 0xff, 0xff,
		0x04, 0x03, 0x06, 0x05,
		7, 0, 0, 0, 0, 0, 0, 0,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Marshal mismatch (-want +got):\n%s", diff)
	}

	var out padded
	Unmarshal(got, &out)
	if out.A != in.A || out.B != in.B || out.C != in.C || out.D != in.D {
		t.Errorf("Unmarshal = %+v, want %+v", out, in)
	}
}

func TestPanic(t *testing.T) {
	for _, tc := range []struct {
		name string
		f    func()
		want string
	}{
		{"Marshal int", func() { Marshal(nil, 5) }, "invalid type: int"},
		{"Unmarshal value", func() { Unmarshal(nil, uint32(5)) }, "invalid type: uint32"},
		{"Unmarshal short", func() { var v uint32; Unmarshal([]byte{1}, &v) }, "buffer is 1 bytes, want 4"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if got := fmt.Sprint(recover()); !strings.HasPrefix(got, tc.want) {
					t.Errorf("recover() = %q, want prefix %q", got, tc.want)
				}
			}()
			tc.f()
		})
	}
}
