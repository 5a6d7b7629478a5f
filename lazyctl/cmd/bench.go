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

package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	"lazypage.dev/lazypage/lazyctl/cmd/util"
	"lazypage.dev/lazypage/lazyctl/config"
	"lazypage.dev/lazypage/lazyctl/flag"
	"lazypage.dev/lazypage/pkg/device"
	"lazypage.dev/lazypage/pkg/workload"
)

// Bench implements subcommands.Command for the "bench" command.
type Bench struct {
	sizes      string
	iterations int
	seed       uint64
	verify     bool
}

// Name implements subcommands.Command.Name.
func (*Bench) Name() string {
	return "bench"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Bench) Synopsis() string {
	return "time mapping and sorting arrays backed by the paging device"
}

// Usage implements subcommands.Command.Usage.
func (*Bench) Usage() string {
	return `bench [flags] - sorts arrays of each -sizes element count -iterations times and appends map and sort times in microseconds to <results-dir>/<policy>/output<size>.csv, then prints the mean and standard deviation of each file.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Bench) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.sizes, "sizes", "64,128,256,512", "comma-separated list of array element counts.")
	f.IntVar(&b.iterations, "iterations", 10, "number of runs per size.")
	f.Uint64Var(&b.seed, "seed", 1, "seed for array contents and pivot choices. Each run adds its index.")
	f.BoolVar(&b.verify, "verify", false, "check that every sorted array is in order.")
}

func parseSizes(s string) ([]uint64, error) {
	var sizes []uint64
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(f), 10, 64)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid size %q", f)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}

// Execute implements subcommands.Command.Execute.
func (b *Bench) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || b.iterations <= 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	sizes, err := parseSizes(b.sizes)
	if err != nil {
		util.Errorf("%v", err)
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	d, err := device.New(device.Opts{
		Policy:          conf.Policy(),
		PoolPages:       conf.PoolPages,
		MaxTranslations: conf.MaxTranslations,
	})
	if err != nil {
		util.Fatalf("creating device: %v", err)
	}
	defer d.Release()

	policy := conf.Policy().String()
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "SIZE\tRUN\tMAP (us)\tSORT (us)\tPAGES")
	defer w.Flush()
	for _, n := range sizes {
		for i := 0; i < b.iterations; i++ {
			res, err := workload.Run(ctx, d, workload.Opts{
				Elements: n,
				Seed:     b.seed + uint64(i),
				Verify:   b.verify,
			})
			if err != nil {
				w.Flush()
				util.Errorf("sorting %d elements: %v", n, err)
				return subcommands.ExitFailure
			}
			if err := workload.AppendResult(conf.ResultsDir, policy, n, res); err != nil {
				w.Flush()
				util.Errorf("writing results: %v", err)
				return subcommands.ExitFailure
			}
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\n", n, i, res.MapTime.Microseconds(), res.SortTime.Microseconds(), res.PagesTouched)
		}
	}

	// Summaries cover every run recorded in each results file, including
	// earlier invocations.
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SIZE\tRUNS\tMAP (us)\tSORT (us)\t")
	for _, n := range sizes {
		sum, err := workload.Summarize(conf.ResultsDir, policy, n)
		if err != nil {
			w.Flush()
			util.Errorf("summarizing results: %v", err)
			return subcommands.ExitFailure
		}
		fmt.Fprintf(w, "%d\t%d\t%v\t%v\t\n", n, sum.Runs, sum.Map, sum.Sort)
	}
	return subcommands.ExitSuccess
}
