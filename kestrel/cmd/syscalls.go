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
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/google/subcommands"
	"kestrel.dev/kestrel/pkg/kernel"
	slinux "kestrel.dev/kestrel/pkg/syscalls/linux"
)

// Syscalls implements subcommands.Command for the "syscalls" command.
type Syscalls struct {
	output  string
	support string
}

// CompatibilityInfo is the compatibility doc of a syscall table.
type CompatibilityInfo struct {
	// Arch is the table's architecture.
	Arch string `json:"arch"`

	// Syscalls maps syscall number for the architecture to the doc.
	Syscalls map[uintptr]SyscallDoc `json:"syscalls"`
}

// SyscallDoc represents a single item of syscall documentation.
type SyscallDoc struct {
	Name string `json:"name"`
	num  uintptr

	Support string   `json:"support"`
	Note    string   `json:"note,omitempty"`
	URLs    []string `json:"urls,omitempty"`
}

type outputFunc func(io.Writer, CompatibilityInfo) error

var (
	// A map of output type names to output functions.
	outputMap = map[string]outputFunc{
		"table": outputTable,
		"json":  outputJSON,
		"csv":   outputCSV,
	}

	// A map of -support names to support levels. "all" is not in it.
	supportMap = map[string]kernel.SyscallSupportLevel{
		"full":          kernel.SupportFull,
		"partial":       kernel.SupportPartial,
		"unimplemented": kernel.SupportUnimplemented,
	}
)

// Name implements subcommands.Command.Name.
func (*Syscalls) Name() string {
	return "syscalls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Syscalls) Synopsis() string {
	return "Print compatibility information for syscalls."
}

// Usage implements subcommands.Command.Usage.
func (*Syscalls) Usage() string {
	return `syscalls [options] - Print compatibility information for syscalls.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Syscalls) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.output, "o", "table", "Output format (table, csv, json).")
	f.StringVar(&s.support, "support", "all", "Only list syscalls with this support level (all, full, partial, unimplemented).")
}

// Execute implements subcommands.Command.Execute.
func (s *Syscalls) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	out, ok := outputMap[s.output]
	if !ok {
		Fatalf("Unsupported output format %q", s.output)
	}
	info, err := getCompatibilityInfo(slinux.ARM64, s.support)
	if err != nil {
		Fatalf("%v", err)
	}
	if err := out(os.Stdout, info); err != nil {
		Fatalf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// getCompatibilityInfo returns compatibility info for the syscalls of t with
// the named support level, or all of them for "all".
func getCompatibilityInfo(t *kernel.SyscallTable, support string) (CompatibilityInfo, error) {
	info := CompatibilityInfo{
		Arch:     t.Arch,
		Syscalls: make(map[uintptr]SyscallDoc),
	}
	level, ok := supportMap[support]
	if !ok && support != "all" {
		return info, fmt.Errorf("unknown support level %q", support)
	}
	for num, sc := range t.Table {
		if ok && sc.SupportLevel != level {
			continue
		}
		info.Syscalls[num] = SyscallDoc{
			Name:    sc.Name,
			num:     num,
			Support: sc.SupportLevel.String(),
			Note:    sc.Note,
			URLs:    sc.URLs,
		}
	}
	return info, nil
}

// sortedCalls returns the syscalls of info in number order.
func sortedCalls(info CompatibilityInfo) []SyscallDoc {
	calls := make([]SyscallDoc, 0, len(info.Syscalls))
	for _, sc := range info.Syscalls {
		calls = append(calls, sc)
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].num < calls[j].num
	})
	return calls
}

// outputTable outputs the syscall info in tabular format.
func outputTable(w io.Writer, info CompatibilityInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "linux/%s:\n\n", info.Arch)

	// Write the header
	_, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
		"NUM",
		"NAME",
		"SUPPORT",
		"NOTE",
	)
	if err != nil {
		return err
	}

	// Write each syscall entry
	for _, sc := range sortedCalls(info) {
		_, err = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			strconv.FormatInt(int64(sc.num), 10),
			sc.Name,
			sc.Support,
			sc.Note,
		)
		if err != nil {
			return err
		}
		// Add issue urls to note.
		for _, url := range sc.URLs {
			_, err = fmt.Fprintf(tw, "%s\t%s\t%s\tSee: %s\t\n",
				"",
				"",
				"",
				url,
			)
			if err != nil {
				return err
			}
		}
	}
	return tw.Flush()
}

// outputJSON outputs the syscall info in JSON format.
func outputJSON(w io.Writer, info CompatibilityInfo) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(info)
}

// outputCSV outputs the syscall info in CSV format.
func outputCSV(w io.Writer, info CompatibilityInfo) error {
	csvWriter := csv.NewWriter(w)

	// Write the header
	err := csvWriter.Write([]string{
		"Arch",
		"Num",
		"Name",
		"Support",
		"Note",
	})
	if err != nil {
		return err
	}

	// Write each syscall entry
	for _, sc := range sortedCalls(info) {
		// Add issue urls to note.
		note := sc.Note
		for _, url := range sc.URLs {
			note = fmt.Sprintf("%s\nSee: %s", note, url)
		}
		err = csvWriter.Write([]string{
			info.Arch,
			strconv.FormatInt(int64(sc.num), 10),
			sc.Name,
			sc.Support,
			note,
		})
		if err != nil {
			return err
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}
