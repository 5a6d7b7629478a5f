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

package workload

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"lazypage.dev/lazypage/pkg/device"
	"lazypage.dev/lazypage/pkg/hostarch"
	"lazypage.dev/lazypage/pkg/log"
)

// Opts configures a workload run.
type Opts struct {
	// Elements is the number of float64 values to sort.
	Elements uint64

	// Seed seeds the values and pivot choices.
	Seed uint64

	// Verify checks the result is sorted.
	Verify bool
}

// Result is the outcome of a run.
type Result struct {
	// MapTime is the time taken by MMap.
	MapTime time.Duration

	// SortTime is the time taken to fill and sort the array.
	SortTime time.Duration

	// PagesTouched is the number of distinct pages accessed.
	PagesTouched int
}

// Run maps an array of opts.Elements values on d, fills it with random
// values, sorts it and unmaps it.
func Run(ctx context.Context, d *device.Device, opts Opts) (Result, error) {
	if opts.Elements == 0 {
		return Result{}, fmt.Errorf("workload needs at least one element")
	}
	var res Result

	start := time.Now()
	m, err := d.MMap(ctx, opts.Elements*elemSize, hostarch.ReadWrite)
	res.MapTime = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("mapping %d elements: %w", opts.Elements, err)
	}
	defer func() {
		if err := m.Unmap(ctx); err != nil {
			log.Warningf("Unmap of workload array failed: %v", err)
		}
	}()

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	a := NewArray(ctx, m, opts.Elements)

	start = time.Now()
	for i := uint64(0); i < opts.Elements; i++ {
		a.Set(i, float64(rng.Int32()))
	}
	Quicksort(a, rng)
	if err := a.Err(); err != nil {
		return res, fmt.Errorf("sorting: %w", err)
	}
	if opts.Verify {
		if i, ok := Sorted(a); !ok {
			return res, fmt.Errorf("array not sorted at index %d: %v > %v", i, a.Get(i), a.Get(i+1))
		}
	}
	res.SortTime = time.Since(start)
	res.PagesTouched = a.PagesTouched()

	log.Debugf("Sorted %d elements: map %v, sort %v, %d pages", opts.Elements, res.MapTime, res.SortTime, res.PagesTouched)
	return res, nil
}

// csvHeader is written when a results file is created.
const csvHeader = "map_us, sort_us\n"

// ResultsPath returns the file results for a run of n elements under policy
// are appended to.
func ResultsPath(dir, policy string, n uint64) string {
	return filepath.Join(dir, policy, fmt.Sprintf("output%d.csv", n))
}

// AppendResult appends r to the results file for policy and n under dir,
// creating it with a header if needed. Concurrent appenders, including other
// processes, serialize on a lock file next to the results file.
func AppendResult(dir, policy string, n uint64, r Result) error {
	path := ResultsPath(dir, policy, n)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	unlock, err := lockResults(path)
	if err != nil {
		return err
	}
	defer unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err == nil && st.Size() == 0 {
		_, err = f.WriteString(csvHeader)
	}
	if err == nil {
		_, err = fmt.Fprintf(f, "%d, %d\n", r.MapTime.Microseconds(), r.SortTime.Microseconds())
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// lockResults takes a file lock on the lock file of the results file at path.
func lockResults(path string) (func() error, error) {
	f := path + ".lock"
	l := flock.NewFlock(f)
	if err := l.Lock(); err != nil {
		return nil, fmt.Errorf("error acquiring lock on results lock file %q: %v", f, err)
	}
	return l.Unlock, nil
}
