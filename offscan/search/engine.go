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
	"encoding/binary"
	"fmt"
	"math/bits"
	"runtime"
	"sync"

	"github.com/offscan/OffScan/offscan/bit4"
	"github.com/offscan/OffScan/offscan/genome"
	"github.com/pkg/errors"
)

// BlocksPerExec is the number of machine words compared per group.
const BlocksPerExec = 4

// RawMatch is a hit in the packed data of a Batch.
type RawMatch struct {
	Offset     uint32 // nucleotide offset in the batch data
	Pattern    uint32 // index of the expanded pattern
	Mismatches uint32
}

// BatchResult holds the raw matches of a batch.
type BatchResult struct {
	Batch   *Batch
	Matches []RawMatch
}

// ErrUnsupportedDevice means the device is not one of C, G, and A.
var ErrUnsupportedDevice = errors.New("search: unsupported device")

// Backend compares batches against all patterns.
//
// Run consumes batches until the channel is closed, and sends one result per
// batch. Results may be sent in a different order from batches.
// The caller closes results after Run returns.
type Backend interface {
	Name() string
	Run(batches <-chan *Batch, results chan<- *BatchResult)
}

// NewBackend returns the backend of a device: "C" for CPU, "G" or "A" for grid.
func NewBackend(device string, ps *PatternSet, maxMismatches int, threads int) (Backend, error) {
	switch device {
	case "C", "c", "":
		return NewCPUBackend(ps, maxMismatches, threads), nil
	case "G", "g", "A", "a":
		return NewGridBackend(ps, maxMismatches, threads), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedDevice, "%s, available: C, G, A", device)
	}
}

// words64 converts the data of the first n chunks into little-endian words.
func words64(b *Batch, buf []uint64) []uint64 {
	n := b.Len() * genome.ChunkSizeBytes >> 3
	if cap(buf) < n {
		buf = make([]uint64, n)
	}
	buf = buf[:n]
	for i := range buf {
		buf[i] = binary.LittleEndian.Uint64(b.Data[i<<3:])
	}
	return buf
}

func words32(b *Batch, buf []uint32) []uint32 {
	n := b.Len() * genome.ChunkSizeBytes >> 2
	if cap(buf) < n {
		buf = make([]uint32, n)
	}
	buf = buf[:n]
	for i := range buf {
		buf[i] = binary.LittleEndian.Uint32(b.Data[i<<2:])
	}
	return buf
}

func checkWords(nSearch, nWords, nPatWords, nPatterns, stride int) {
	if nSearch%BlocksPerExec != 0 || nSearch > nWords {
		panic(fmt.Sprintf("search: invalid number of words to search: %d of %d", nSearch, nWords))
	}
	if nPatterns == 0 || nPatWords != nPatterns*stride {
		panic(fmt.Sprintf("search: invalid packed patterns: %d words for %d patterns", nPatWords, nPatterns))
	}
}

// scan64 compares groups of BlocksPerExec words starting in words[:nSearch]
// with all patterns, 16 nucleotides per word. Words beyond the buffer read as 0.
func scan64(words []uint64, nSearch int, ps *PatternSet, maxMis int, matches []RawMatch) []RawMatch {
	const wordNt = 16

	np := ps.Num()
	stride := ps.Stride >> 3
	checkWords(nSearch, len(words), len(ps.words64), np, stride)

	pb := bit4.Cdiv(ps.Len, wordNt)
	reg := make([]uint64, BlocksPerExec+pb)
	last := len(reg) - 1
	var counts [BlocksPerExec]int
	var pat []uint64
	var mis, j, k, l, o int
	for g := 0; g < nSearch; g += BlocksPerExec {
		for k = range reg {
			if g+k < len(words) {
				reg[k] = words[g+k]
			} else {
				reg[k] = 0
			}
		}

		for l = 0; l < wordNt; l++ {
			for j = 0; j < np; j++ {
				pat = ps.words64[j*stride : j*stride+pb]
				counts = [BlocksPerExec]int{}
				for k = range pat {
					for o = 0; o < BlocksPerExec; o++ {
						counts[o] += bits.OnesCount64(reg[k+o] & pat[k])
					}
				}

				for o = 0; o < BlocksPerExec; o++ {
					mis = max0(ps.Len - counts[o])
					if mis <= maxMis {
						matches = append(matches, RawMatch{
							Offset:     uint32((g+o)*wordNt + l),
							Pattern:    uint32(j),
							Mismatches: uint32(mis),
						})
					}
				}
			}

			for k = 0; k < last; k++ {
				reg[k] = reg[k]>>4 | reg[k+1]<<60
			}
			reg[last] >>= 4
		}
	}
	return matches
}

// ambiguous genome masks could overlap more than once per position.
func max0(x int) int {
	if x < 0 {
		return 0
	}
	return x
}

// CPUBackend searches batches in parallel, one batch per goroutine.
type CPUBackend struct {
	ps      *PatternSet
	max     int
	threads int
}

// NewCPUBackend creates a CPUBackend. threads <= 0 means all CPUs.
func NewCPUBackend(ps *PatternSet, maxMismatches int, threads int) *CPUBackend {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return &CPUBackend{ps: ps, max: maxMismatches, threads: threads}
}

// Name returns the name of the backend.
func (e *CPUBackend) Name() string {
	return fmt.Sprintf("CPU (%d threads)", e.threads)
}

// Search returns the raw matches of one batch.
func (e *CPUBackend) Search(b *Batch) []RawMatch {
	return e.search(b, nil)
}

func (e *CPUBackend) search(b *Batch, buf []uint64) []RawMatch {
	words := words64(b, buf)
	nSearch := b.SearchableChunks() * genome.ChunkSizeBytes >> 3
	return scan64(words, nSearch, e.ps, e.max, make([]RawMatch, 0, 64))
}

// Run searches batches with a pool of goroutines sharing the batch channel.
func (e *CPUBackend) Run(batches <-chan *Batch, results chan<- *BatchResult) {
	var wg sync.WaitGroup
	for i := 0; i < e.threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var buf []uint64
			for b := range batches {
				if cap(buf) == 0 {
					buf = make([]uint64, b.Capacity*genome.ChunkSizeBytes>>3)
				}
				results <- &BatchResult{Batch: b, Matches: e.search(b, buf)}
			}
		}()
	}
	wg.Wait()
}
