// Copyright © 2023-2024 Wei Shen <shenwei356@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package search

import (
	"fmt"
	"math/bits"
	"runtime"
	"sync"

	"github.com/offscan/OffScan/offscan/bit4"
	"github.com/offscan/OffScan/offscan/genome"
)

// GridBackend searches one batch at a time as a grid of independent
// (group, pattern) work items on 32-bit words, the way a data-parallel
// device kernel does. Work items are spread over a pool of goroutines.
type GridBackend struct {
	ps      *PatternSet
	max     int
	threads int
}

// NewGridBackend creates a GridBackend. threads <= 0 means all CPUs.
func NewGridBackend(ps *PatternSet, maxMismatches int, threads int) *GridBackend {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return &GridBackend{ps: ps, max: maxMismatches, threads: threads}
}

// Name returns the name of the backend.
func (e *GridBackend) Name() string {
	return fmt.Sprintf("grid (%d threads)", e.threads)
}

// kernel32 is one work item: group g against pattern j, 8 nucleotides per word.
func kernel32(words []uint32, g, j int, ps *PatternSet, maxMis int, reg []uint32, matches []RawMatch) []RawMatch {
	const wordNt = 8

	stride := ps.Stride >> 2
	pb := bit4.Cdiv(ps.Len, wordNt)
	pat := ps.words32[j*stride : j*stride+pb]

	for k := range reg {
		if g+k < len(words) {
			reg[k] = words[g+k]
		} else {
			reg[k] = 0
		}
	}

	last := len(reg) - 1
	var counts [BlocksPerExec]int
	var mis int
	for l := 0; l < wordNt; l++ {
		counts = [BlocksPerExec]int{}
		for k, p := range pat {
			for o := 0; o < BlocksPerExec; o++ {
				counts[o] += bits.OnesCount32(reg[k+o] & p)
			}
		}

		for o := 0; o < BlocksPerExec; o++ {
			mis = max0(ps.Len - counts[o])
			if mis <= maxMis {
				matches = append(matches, RawMatch{
					Offset:     uint32((g+o)*wordNt + l),
					Pattern:    uint32(j),
					Mismatches: uint32(mis),
				})
			}
		}

		for k := 0; k < last; k++ {
			reg[k] = reg[k]>>4 | reg[k+1]<<28
		}
		reg[last] >>= 4
	}
	return matches
}

// Search returns the raw matches of one batch.
func (e *GridBackend) Search(b *Batch) []RawMatch {
	return e.search(b, nil)
}

func (e *GridBackend) search(b *Batch, buf []uint32) []RawMatch {
	words := words32(b, buf)
	nSearch := b.SearchableChunks() * genome.ChunkSizeBytes >> 2
	np := e.ps.Num()
	checkWords(nSearch, len(words), len(e.ps.words32), np, e.ps.Stride>>2)

	groups := nSearch / BlocksPerExec
	size := bit4.Cdiv(groups, e.threads)
	regSize := BlocksPerExec + bit4.Cdiv(e.ps.Len, 8)

	matches := make([]RawMatch, 0, 64)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for start := 0; start < groups; start += size {
		end := min(start+size, groups)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			reg := make([]uint32, regSize)
			var local []RawMatch
			for i := start; i < end; i++ {
				for j := 0; j < np; j++ {
					local = kernel32(words, i*BlocksPerExec, j, e.ps, e.max, reg, local)
				}
			}
			if len(local) == 0 {
				return
			}
			mu.Lock()
			matches = append(matches, local...)
			mu.Unlock()
		}(start, end)
	}
	wg.Wait()

	return matches
}

// Run searches batches one after another, each with all goroutines.
func (e *GridBackend) Run(batches <-chan *Batch, results chan<- *BatchResult) {
	var buf []uint32
	for b := range batches {
		if cap(buf) == 0 {
			buf = make([]uint32, b.Capacity*genome.ChunkSizeBytes>>2)
		}
		results <- &BatchResult{Batch: b, Matches: e.search(b, buf)}
	}
}
