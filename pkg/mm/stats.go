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

package mm

import (
	"lazypage.dev/lazypage/pkg/metric"
)

// Stats are the process-wide page counters. They only ever increase, and are
// diagnostic: nothing in this package reads them.
var Stats = struct {
	// PagesAllocated counts pages obtained from a PagePool on behalf of a
	// Region. A pre-paged block counts as all of its pages.
	PagesAllocated *metric.Uint64Metric

	// PagesFreed counts pages returned to a PagePool by Region teardown.
	PagesFreed *metric.Uint64Metric
}{
	PagesAllocated: metric.MustCreateNewUint64Metric("/lazypage/pages_allocated", "Number of pages allocated to regions."),
	PagesFreed:     metric.MustCreateNewUint64Metric("/lazypage/pages_freed", "Number of pages freed by region teardown."),
}
