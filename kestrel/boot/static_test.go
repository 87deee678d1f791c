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

package boot

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// staticProgram sorts doubles, copies strings and formats floating point,
// so that libc reaches for its FP and Advanced SIMD routines.
const staticProgram = `
#include <math.h>
#include <stdio.h>
#include <stdlib.h>
#include <string.h>

static int cmp(const void *a, const void *b) {
	double x = *(const double *)a, y = *(const double *)b;
	return (x > y) - (x < y);
}

int main(int argc, char **argv) {
	double v[] = {2.5, -1.25, 3.75, 0.5};
	char buf[64];
	qsort(v, 4, sizeof(v[0]), cmp);
	strcpy(buf, argv[0]);
	printf("%s %zu %.3f %.3f %g\n", buf, strlen(buf), v[0], sqrt(v[3]), v[1] * v[2]);
	return argc;
}
`

// crossCompilers are tried in order. KESTREL_TEST_CC overrides them.
var crossCompilers = [][]string{
	{"aarch64-linux-musl-gcc"},
	{"aarch64-linux-gnu-gcc"},
	{"zig", "cc", "-target", "aarch64-linux-musl"},
}

// compileStatic builds src into a static aarch64 executable, or skips the
// test if no cross compiler is installed.
func compileStatic(t *testing.T, src string) []byte {
	t.Helper()
	candidates := crossCompilers
	if cc := os.Getenv("KESTREL_TEST_CC"); cc != "" {
		candidates = [][]string{strings.Fields(cc)}
	}
	var cc []string
	for _, c := range candidates {
		if _, err := exec.LookPath(c[0]); err == nil {
			cc = c
			break
		}
	}
	if cc == nil {
		t.Skip("no aarch64 cross compiler found; set KESTREL_TEST_CC")
	}

	dir := t.TempDir()
	in, out := filepath.Join(dir, "prog.c"), filepath.Join(dir, "prog")
	if err := os.WriteFile(in, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	args := append(cc[1:len(cc):len(cc)], "-static", "-O2", "-o", out, in, "-lm")
	if b, err := exec.Command(cc[0], args...).CombinedOutput(); err != nil {
		t.Fatalf("%s failed: %v\n%s", strings.Join(cc, " "), err, b)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestRunStaticC(t *testing.T) {
	prog := compileStatic(t, staticProgram)
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bin", "prog"), prog, 0755); err != nil {
		t.Fatal(err)
	}
	conf := testConfig()
	conf.RootFS = dir

	status, out := runLoader(t, conf, []string{"/bin/prog", "x"})
	if status != 2 {
		t.Errorf("exit status = %d, want 2\nconsole:\n%s", status, out)
	}
	if want := "/bin/prog 9 -1.250 1.936 1.25\r\n"; !strings.HasPrefix(out, want) {
		t.Errorf("console = %q, want prefix %q", out, want)
	}
}
