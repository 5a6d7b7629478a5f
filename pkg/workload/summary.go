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
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Spread is the mean and population standard deviation of a series, in
// microseconds.
type Spread struct {
	Mean   float64
	StdDev float64
}

// String implements fmt.Stringer.String.
func (s Spread) String() string {
	return fmt.Sprintf("%.1f ± %.1f", s.Mean, s.StdDev)
}

func spreadOf(xs []float64) Spread {
	if len(xs) == 0 {
		return Spread{}
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return Spread{Mean: mean, StdDev: math.Sqrt(sq / float64(len(xs)))}
}

// Summary reduces one results file.
type Summary struct {
	// Runs is the number of rows in the file.
	Runs int

	Map  Spread
	Sort Spread
}

// Summarize reads the results file for policy and n under dir, as written
// by AppendResult, and returns the spread of its map and sort times.
func Summarize(dir, policy string, n uint64) (Summary, error) {
	path := ResultsPath(dir, policy, n)
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()

	var maps, sorts []float64
	sc := bufio.NewScanner(f)
	for lineno := 1; sc.Scan(); lineno++ {
		line := sc.Text()
		if lineno == 1 || line == "" {
			// Header.
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 2 {
			return Summary{}, fmt.Errorf("%s:%d: want 2 fields, got %d", path, lineno, len(fields))
		}
		var v [2]float64
		for i, fld := range fields {
			x, err := strconv.ParseInt(strings.TrimSpace(fld), 10, 64)
			if err != nil {
				return Summary{}, fmt.Errorf("%s:%d: %w", path, lineno, err)
			}
			v[i] = float64(x)
		}
		maps = append(maps, v[0])
		sorts = append(sorts, v[1])
	}
	if err := sc.Err(); err != nil {
		return Summary{}, err
	}
	return Summary{Runs: len(maps), Map: spreadOf(maps), Sort: spreadOf(sorts)}, nil
}
