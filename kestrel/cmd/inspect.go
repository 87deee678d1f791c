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

package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"kestrel.dev/kestrel/kestrel/config"
	"kestrel.dev/kestrel/pkg/loader"
)

// Inspect implements subcommands.Command for the "inspect" command.
type Inspect struct {
	json bool
}

// Name implements subcommands.Command.Name.
func (*Inspect) Name() string {
	return "inspect"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Inspect) Synopsis() string {
	return "validate an ELF executable and print how it would be loaded"
}

// Usage implements subcommands.Command.Usage.
func (*Inspect) Usage() string {
	return `inspect [flags] <file> - validates file as a static aarch64 executable.

The segments and the page mappings planned for them are printed. Placement is
checked against the user layout of the machine profile.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Inspect) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&i.json, "json", false, "print the load plan as JSON.")
}

// Execute implements subcommands.Command.Execute.
func (i *Inspect) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	m, err := conf.Machine()
	if err != nil {
		return Errorf("Error reading machine profile: %v", err)
	}

	file, err := os.Open(f.Arg(0))
	if err != nil {
		return Errorf("Error opening executable: %v", err)
	}
	defer file.Close()
	st, err := file.Stat()
	if err != nil {
		return Errorf("Error opening executable: %v", err)
	}

	layout := m.MMLayout()
	img, err := loader.Parse(file, st.Size(), loader.Bounds{Min: layout.MinUserAddress, Max: layout.UserTop})
	if err != nil {
		return Errorf("%s: %v", f.Arg(0), err)
	}
	out := writeImage
	if i.json {
		out = writeImageJSON
	}
	if err := out(os.Stdout, img); err != nil {
		Fatalf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// writeImage prints the load plan of img.
func writeImage(w io.Writer, img *loader.Image) error {
	fmt.Fprintf(w, "type:  %v\n", img.Type)
	fmt.Fprintf(w, "entry: %v\n", img.Entry)
	fmt.Fprintf(w, "bias:  %v\n", img.Bias)
	fmt.Fprintf(w, "phdr:  %v (%d x %d bytes)\n", img.Phdr, img.PhNum, img.PhEnt)
	fmt.Fprintf(w, "end:   %v\n\n", img.End)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "SEGMENT\tPERMS\tOFFSET\tFILESZ\tMEMSZ\n")
	for _, s := range img.Segments {
		fmt.Fprintf(tw, "%v-%v\t%v\t%#x\t%#x\t%#x\n", s.Addr, s.End(), s.Perms, s.Offset, s.FileSize, s.MemSize)
	}
	fmt.Fprintf(tw, "\t\t\t\t\nMAPPING\tPERMS\t\t\t\n")
	for _, m := range img.Mappings {
		fmt.Fprintf(tw, "%v\t%v\t\t\t\n", m.Range, m.Perms)
	}
	return tw.Flush()
}

// imageJSON is the JSON form of a load plan.
type imageJSON struct {
	Type     string        `json:"type"`
	Entry    uint64        `json:"entry"`
	Bias     uint64        `json:"bias"`
	Phdr     uint64        `json:"phdr"`
	End      uint64        `json:"end"`
	Segments []segmentJSON `json:"segments"`
	Mappings []segmentJSON `json:"mappings"`
}

type segmentJSON struct {
	Start    uint64 `json:"start"`
	End      uint64 `json:"end"`
	Perms    string `json:"perms"`
	Offset   uint64 `json:"offset,omitempty"`
	FileSize uint64 `json:"filesz,omitempty"`
}

// writeImageJSON prints the load plan of img as JSON.
func writeImageJSON(w io.Writer, img *loader.Image) error {
	out := imageJSON{
		Type:  img.Type.String(),
		Entry: uint64(img.Entry),
		Bias:  uint64(img.Bias),
		Phdr:  uint64(img.Phdr),
		End:   uint64(img.End),
	}
	for _, s := range img.Segments {
		out.Segments = append(out.Segments, segmentJSON{
			Start:    uint64(s.Addr),
			End:      uint64(s.End()),
			Perms:    s.Perms.String(),
			Offset:   s.Offset,
			FileSize: s.FileSize,
		})
	}
	for _, m := range img.Mappings {
		out.Mappings = append(out.Mappings, segmentJSON{
			Start: uint64(m.Range.Start),
			End:   uint64(m.Range.End),
			Perms: m.Perms.String(),
		})
	}
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(out)
}
