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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBufferOverrun(t *testing.T) {
	buf := &buffer{
		// This header indicates that a large string should follow, but
		// it is only two bytes. Reading a string should cause an
		// overrun.
		data: []byte{0x0, 0x16},
	}
	if s := buf.ReadString(); s != "" {
		t.Errorf("overrun read got %s, want empty", s)
	}
	if !buf.isOverrun() {
		t.Errorf("overrun not recorded")
	}
}

func TestEncodeDecode(t *testing.T) {
	for _, m := range []message{
		&Tversion{MSize: 8192, Version: Version},
		&Tattach{FID: 1, AuthFID: NoFID, UserName: "root", AttachName: "/", UID: 0},
		&Twalk{FID: 1, NewFID: 2, Names: []string{"bin", "sh"}},
		&Rwalk{QIDs: []QID{{Type: QIDTypeDir, Path: 1}, {Path: 2, Version: 3}}},
		&Tlopen{FID: 2, Flags: ReadOnly},
		&Rlopen{QID: QID{Path: 2}, IoUnit: 4096},
		&Tread{FID: 2, Offset: 1 << 33, Count: 100},
		&Tgetattr{FID: 2, AttrMask: AttrMaskBasic},
		&Rgetattr{Valid: AttrMaskBasic, QID: QID{Path: 9}, Attr: Attr{Mode: ModeRegular | 0644, Size: 12, NLink: 1}},
		&Rlerror{Error: 2},
	} {
		var b buffer
		m.encode(&b)
		got, err := newMessage(0, m.Type())
		if err != nil {
			t.Fatalf("no factory for %T: %v", m, err)
		}
		got.decode(&buffer{data: b.data})
		if diff := cmp.Diff(m, got); diff != "" {
			t.Errorf("%T round trip mismatch (-want +got):\n%s", m, diff)
		}
	}
}

func TestUnknownMessageType(t *testing.T) {
	// Tauth is valid 9P2000.L but not implemented here.
	if _, err := newMessage(0, 102); !errors.Is(err, errUnknownType) {
		t.Errorf("newMessage(Tauth) = %v, want %v", err, errUnknownType)
	}
	if _, ok := factories[MsgRread]().(payloader); !ok {
		t.Errorf("Rread does not carry a payload")
	}
	if largestFixedSize == 0 || largestFixedSize >= DefaultMessageSize {
		t.Errorf("largestFixedSize = %d", largestFixedSize)
	}
}

func TestAttrMaskString(t *testing.T) {
	if got, want := (AttrMask{Mode: true, Size: true}).String(), "AttrMask{Mode, Size}"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
