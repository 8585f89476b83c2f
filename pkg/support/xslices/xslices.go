// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provides helpers for slices not covered by the standard "slices" package.
package xslices

import (
	"flag"
	"fmt"
	"strings"
)

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// Flag defines, in flagSet, a flag for a comma-separated []T with the given name, usage and default value.
// It takes as input a parser for an individual T value. If flagSet is nil, flag.CommandLine is used.
func Flag[T any](flagSet *flag.FlagSet, name string, defaultValue []T, usage string,
	parserFn func(valueStr string) (T, error)) *[]T {
	if flagSet == nil {
		flagSet = flag.CommandLine
	}
	f := &sliceFlag[T]{parsedSlice: defaultValue, parserFn: parserFn}
	flagSet.Var(f, name, usage)
	return &f.parsedSlice
}

// StringsFlag is a Flag of strings, with the surrounding spaces of each element trimmed.
func StringsFlag(flagSet *flag.FlagSet, name string, defaultValue []string, usage string) *[]string {
	return Flag(flagSet, name, defaultValue, usage, func(valueStr string) (string, error) {
		return strings.TrimSpace(valueStr), nil
	})
}

// sliceFlag implements flag.Value for a generic type.
type sliceFlag[T any] struct {
	parsedSlice []T
	parserFn    func(valueStr string) (T, error)
}

func (f *sliceFlag[T]) String() string {
	if f == nil || len(f.parsedSlice) == 0 {
		return ""
	}
	return strings.Join(Map(f.parsedSlice, func(e T) string { return fmt.Sprint(e) }), ",")
}

func (f *sliceFlag[T]) Set(listStr string) error {
	if listStr == "" {
		f.parsedSlice = make([]T, 0)
		return nil
	}
	parts := strings.Split(listStr, ",")
	parsed := make([]T, len(parts))
	for ii, part := range parts {
		var err error
		parsed[ii], err = f.parserFn(part)
		if err != nil {
			return err
		}
	}
	f.parsedSlice = parsed
	return nil
}
