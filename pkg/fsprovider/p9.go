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

package fsprovider

import (
	"fmt"

	"kestrel.dev/kestrel/pkg/p9"
)

// P9 serves the tree attached by a 9P client.
type P9 struct {
	root *p9.File
}

// NewP9 returns a provider walking from root.
func NewP9(root *p9.File) *P9 {
	return &P9{root: root}
}

// Resolve implements Provider.Resolve.
func (p *P9) Resolve(name string) (File, error) {
	f, err := p.root.Walk(Components(name))
	if err != nil {
		if p9.IsNotFound(err) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("walking %s: %w", name, err)
	}
	_, valid, attr, err := f.GetAttr(p9.AttrMaskBasic)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("getattr %s: %w", name, err)
	}
	if !valid.Mode || !valid.Size {
		f.Close()
		return nil, fmt.Errorf("getattr %s: server did not return mode and size", name)
	}
	if attr.Mode.IsRegular() {
		if _, _, err := f.Open(p9.ReadOnly); err != nil {
			f.Close()
			return nil, fmt.Errorf("opening %s: %w", name, err)
		}
	}
	return &p9File{File: f, size: int64(attr.Size), mode: uint32(attr.Mode)}, nil
}

type p9File struct {
	*p9.File
	size int64
	mode uint32
}

// Size implements File.Size.
func (f *p9File) Size() int64 { return f.size }

// Mode implements File.Mode.
func (f *p9File) Mode() uint32 { return f.mode }
