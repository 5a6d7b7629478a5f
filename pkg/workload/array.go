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

// Package workload provides a sorting workload over device-backed memory,
// used to compare demand paging with pre-paging.
package workload

import (
	"context"
	"encoding/binary"
	"math"

	"lazypage.dev/lazypage/pkg/device"
	"lazypage.dev/lazypage/pkg/hostarch"
	"lazypage.dev/lazypage/pkg/log"
	"lazypage.dev/lazypage/pkg/mm"
)

const elemSize = 8

// Array is a float64 array stored in a Mapping. Pages are faulted in the first
// time an element on them is touched.
//
// Array is not safe for concurrent use.
type Array struct {
	ctx   context.Context
	m     *device.Mapping
	len   uint64
	pages [][]byte

	// err is the first access error. Once set, reads return 0 and writes are
	// dropped.
	err error
}

// NewArray returns an Array of n elements in m.
//
// Preconditions: m must be at least n*8 bytes long.
func NewArray(ctx context.Context, m *device.Mapping, n uint64) *Array {
	return &Array{
		ctx:   ctx,
		m:     m,
		len:   n,
		pages: make([][]byte, hostarch.PagesOf(n*elemSize)),
	}
}

// Len returns the number of elements.
func (a *Array) Len() uint64 {
	return a.len
}

// Err returns the first error encountered while accessing the array.
func (a *Array) Err() error {
	return a.err
}

func (a *Array) slot(i uint64) []byte {
	off := i * elemSize
	pg := off >> hostarch.PageShift
	if a.pages[pg] == nil {
		if a.err != nil {
			return nil
		}
		addr := a.m.Range().Start + hostarch.Addr(pg<<hostarch.PageShift)
		bs, err := a.m.Bytes(a.ctx, addr, hostarch.ReadWrite)
		if err != nil {
			a.err = err
			log.Debugf("Access to element %d at %v failed: %v (%v)", i, addr, err, mm.FaultResultOf(err))
			return nil
		}
		a.pages[pg] = bs
	}
	o := off & hostarch.PageMask
	return a.pages[pg][o : o+elemSize]
}

// Get returns element i.
func (a *Array) Get(i uint64) float64 {
	s := a.slot(i)
	if s == nil {
		return 0
	}
	return math.Float64frombits(binary.NativeEndian.Uint64(s))
}

// Set sets element i to v.
func (a *Array) Set(i uint64, v float64) {
	if s := a.slot(i); s != nil {
		binary.NativeEndian.PutUint64(s, math.Float64bits(v))
	}
}

// Swap exchanges elements i and j.
func (a *Array) Swap(i, j uint64) {
	vi, vj := a.Get(i), a.Get(j)
	a.Set(i, vj)
	a.Set(j, vi)
}

// PagesTouched returns the number of pages accessed so far.
func (a *Array) PagesTouched() int {
	n := 0
	for _, p := range a.pages {
		if p != nil {
			n++
		}
	}
	return n
}
