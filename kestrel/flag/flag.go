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

// Package flag wraps the standard flag package so that flag values can be
// read back in their typed form.
package flag

import (
	"flag"
)

type FlagSet = flag.FlagSet
type Flag = flag.Flag
type Value = flag.Value

var (
	Bool        = flag.Bool
	CommandLine = flag.CommandLine
	Int         = flag.Int
	NewFlagSet  = flag.NewFlagSet
	Parse       = flag.Parse
	String      = flag.String
	Uint        = flag.Uint
	Var         = flag.Var
)

const (
	ContinueOnError = flag.ContinueOnError
	ExitOnError     = flag.ExitOnError
)

// Get returns the typed value held by v.
func Get(v Value) any {
	return v.(flag.Getter).Get()
}
