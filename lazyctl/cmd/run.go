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

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"lazypage.dev/lazypage/lazyctl/cmd/util"
	"lazypage.dev/lazypage/lazyctl/config"
	"lazypage.dev/lazypage/lazyctl/flag"
	"lazypage.dev/lazypage/pkg/atomicbitops"
	"lazypage.dev/lazypage/pkg/device"
	"lazypage.dev/lazypage/pkg/hostarch"
	"lazypage.dev/lazypage/pkg/memmap"
	"lazypage.dev/lazypage/pkg/mm"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	size   uint64
	forks  int
	stride uint64
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "map memory, fork it and touch it from every mapping concurrently"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] - maps -size bytes, creates -forks additional mappings of it and touches every -stride'th page from each.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&r.size, "size", 1<<20, "size of the mapping in bytes.")
	f.IntVar(&r.forks, "forks", 4, "number of additional mappings sharing the region.")
	f.Uint64Var(&r.stride, "stride", 1, "touch one page out of every stride pages.")
}

// faultCounts tallies access outcomes by memmap.FaultResult.
type faultCounts [memmap.FaultSIGBUS + 1]atomicbitops.Uint64

func (c *faultCounts) touch(ctx context.Context, m *device.Mapping, stride uint64) {
	ar := m.Range()
	for i := uint64(0); i < ar.NumPages(); i += stride {
		if ctx.Err() != nil {
			return
		}
		err := m.Access(ctx, ar.Start+hostarch.Addr(i<<hostarch.PageShift), hostarch.Write)
		c[mm.FaultResultOf(err)].Add(1)
	}
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || r.forks < 0 || r.stride == 0 {
		f.Usage()
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

	m, err := d.MMap(ctx, r.size, hostarch.ReadWrite)
	if err != nil {
		util.Errorf("mapping %d bytes: %v (%v)", r.size, err, mm.FaultResultOf(err))
		return subcommands.ExitFailure
	}

	var counts faultCounts
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.forks; i++ {
		child, err := m.Fork()
		if err != nil {
			util.Fatalf("forking mapping: %v", err)
		}
		g.Go(func() error {
			counts.touch(gctx, child, r.stride)
			return child.Unmap(ctx)
		})
	}
	counts.touch(gctx, m, r.stride)
	werr := g.Wait()
	usage := d.MemoryFile().Usage()
	if err := m.Unmap(ctx); err != nil && werr == nil {
		werr = err
	}
	if werr != nil {
		util.Errorf("run failed: %v", werr)
		return subcommands.ExitFailure
	}

	util.Infof("%d mappings of %v (%v): %d mapped, %d out of memory, %d failed",
		r.forks+1, m.Range(), conf.Policy(),
		counts[memmap.FaultMapped].Load(), counts[memmap.FaultOOM].Load(), counts[memmap.FaultSIGBUS].Load())
	util.Infof("Pages in use before teardown: %d, after: %d", usage, d.MemoryFile().Usage())
	return subcommands.ExitSuccess
}
