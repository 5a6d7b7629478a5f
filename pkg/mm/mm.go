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

// Package mm implements demand-paged memory regions.
//
// A Region starts with no physical backing. Under PolicyDemand each page is
// allocated and mapped the first time it faults; under PolicyPrepage the
// whole region is backed by one block when it is created. Mappings of a
// Region share it through a reference count, and the last reference frees
// every page the Region owns.
//
// FaultController does not de-duplicate faults: callers serialize faults on a
// Region and check for an existing translation first (see device.Mapping).
//
// Lock order:
//
//	device.Mapping.activeMu
//	  demandBacking.mu
//	    pgalloc.MemoryFile.mu
//	    pagetables.PageTables.mu
package mm

import (
	"fmt"

	"lazypage.dev/lazypage/pkg/memmap"
)

// Policy selects how a Region acquires its pages.
type Policy int

const (
	// PolicyDemand allocates one page per fault.
	PolicyDemand Policy = iota

	// PolicyPrepage allocates and maps the whole region at creation.
	PolicyPrepage
)

// String implements fmt.Stringer.String.
func (p Policy) String() string {
	switch p {
	case PolicyDemand:
		return "demand"
	case PolicyPrepage:
		return "prepage"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// PageRecord names one physical page owned by a demand-paged Region.
type PageRecord struct {
	Page memmap.Page
}
