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
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
	"kestrel.dev/kestrel/kestrel/boot"
	"kestrel.dev/kestrel/kestrel/config"
	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/console"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/kernel"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/pgalloc"
	"kestrel.dev/kestrel/pkg/platform"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	env stringFlags

	// stats prints resource usage to stderr when init exits.
	stats bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot the kernel and run a static aarch64 Linux program as init"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <program> [args...] - boots the kernel and runs program.

The program is resolved in the filesystem selected by --rootfs, --initrd or
--9p. Its standard streams are the host terminal, driven through the kernel's
line discipline. kestrel exits with the program's status, or 128 plus the
signal that killed it.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.Var(&r.env, "env", "KEY=VALUE added to the program's environment. May be repeated.")
	f.BoolVar(&r.stats, "stats", false, "print frame usage and platform counters to stderr when init exits.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	status := args[1].(*kernel.ExitStatus)

	m, err := conf.Machine()
	if err != nil {
		return Errorf("Error reading machine profile: %v", err)
	}

	if conf.ConsoleRaw {
		restore, err := makeRaw(os.Stdin)
		if err != nil {
			return Errorf("Error setting terminal to raw mode: %v", err)
		}
		defer restore()
	}

	// Console input stops with the run, so that a signal can end it while
	// init is blocked reading the terminal.
	g, gctx := errgroup.WithContext(ctx)
	l, err := boot.New(ctx, boot.Args{
		Conf:    conf,
		Machine: m,
		Console: console.NewStream(interruptible(gctx, os.Stdin), os.Stdout),
		Argv:    f.Args(),
		Envv:    r.env,
	})
	if err != nil {
		return Errorf("Error creating loader: %v", err)
	}
	defer l.Destroy()

	if ws, ok := windowSize(os.Stdout); ok {
		l.Kernel().Console().SetWindowSize(ws)
	}

	done := make(chan struct{})
	var es kernel.ExitStatus
	g.Go(func() error {
		defer close(done)
		var err error
		es, err = l.Run(gctx)
		return err
	})
	g.Go(func() error {
		return watchSignals(gctx, done)
	})
	if err := g.Wait(); err != nil {
		var se *signalError
		if errors.As(err, &se) {
			*status = kernel.ExitStatus{Signo: int(se.sig)}
			return subcommands.ExitSuccess
		}
		return Errorf("Error running init: %v", err)
	}
	l.Halt(es)
	if r.stats {
		writeStats(os.Stderr, l.Kernel().Frames().Usage(), l.Kernel().Platform())
	}
	*status = es
	return subcommands.ExitSuccess
}

// interruptible returns a reader over r whose pending and later reads fail
// once ctx is done. r is read on its own goroutine, which is left blocked in
// its last read after ctx is done.
func interruptible(ctx context.Context, r io.Reader) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		_, err := io.Copy(pw, r)
		pw.CloseWithError(err)
	}()
	context.AfterFunc(ctx, func() {
		pr.CloseWithError(context.Cause(ctx))
	})
	return pr
}

// makeRaw puts f in raw mode if it is a terminal, leaving line editing to
// the kernel's line discipline. The returned function restores it.
func makeRaw(f *os.File) (func(), error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { term.Restore(fd, old) }, nil
}

// windowSize returns the size of the terminal f.
func windowSize(f *os.File) (linux.Winsize, bool) {
	w, h, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return linux.Winsize{}, false
	}
	return linux.Winsize{Row: uint16(h), Col: uint16(w)}, true
}

// executedCounter is implemented by platforms that count user instructions.
type executedCounter interface {
	Executed() uint64
}

func writeStats(w io.Writer, u pgalloc.Usage, p platform.Platform) {
	fmt.Fprintf(w, "frames: %s of %s allocated (%s free)\n",
		humanize.Comma(int64(u.Allocated)), humanize.Comma(int64(u.Total)), humanize.IBytes(u.Free*hostarch.PageSize))
	if ec, ok := p.(executedCounter); ok {
		fmt.Fprintf(w, "instructions: %s\n", humanize.Comma(int64(ec.Executed())))
	}
}

// signalError stops the run when the host process is signaled.
type signalError struct {
	sig unix.Signal
}

// Error implements error.Error.
func (e *signalError) Error() string {
	return fmt.Sprintf("interrupted by %v", e.sig)
}

// watchSignals returns a *signalError when kestrel receives SIGINT, SIGTERM
// or SIGHUP, and nil once done is closed.
func watchSignals(ctx context.Context, done <-chan struct{}) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)
	defer signal.Stop(ch)
	select {
	case s := <-ch:
		log.Warningf("Received %v, stopping", s)
		return &signalError{sig: s.(unix.Signal)}
	case <-done:
		return nil
	case <-ctx.Done():
		return nil
	}
}
