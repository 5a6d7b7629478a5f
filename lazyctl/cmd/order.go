// Copyright 2026 The lazypage Authors.
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

// Package cmd holds implementations of the lazyctl commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/google/subcommands"
	"lazypage.dev/lazypage/lazyctl/cmd/util"
	"lazypage.dev/lazypage/lazyctl/flag"
	"lazypage.dev/lazypage/pkg/hostarch"
	"lazypage.dev/lazypage/pkg/mm"
)

// Order implements subcommands.Command for the "order" command.
type Order struct {
	pages bool
}

// Name implements subcommands.Command.Name.
func (*Order) Name() string {
	return "order"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Order) Synopsis() string {
	return "print the block order used to pre-page mappings of the given sizes"
}

// Usage implements subcommands.Command.Usage.
func (*Order) Usage() string {
	return `order [-pages] <size>... - prints page count, order and block size for each size in bytes (or pages with -pages)
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (o *Order) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&o.pages, "pages", false, "interpret sizes as page counts rather than bytes.")
}

// Execute implements subcommands.Command.Execute.
func (o *Order) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "SIZE\tPAGES\tORDER\tBLOCK PAGES")
	for _, arg := range f.Args() {
		n, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			util.Errorf("invalid size %q: %v", arg, err)
			return subcommands.ExitUsageError
		}
		pages := n
		if !o.pages {
			pages = hostarch.PagesOf(n)
		}
		order := mm.PageCountOrder(pages)
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", arg, pages, order, uint64(1)<<uint(order))
	}
	w.Flush()
	return subcommands.ExitSuccess
}
