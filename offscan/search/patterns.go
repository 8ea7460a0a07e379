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
	"bytes"
	"encoding/binary"

	"github.com/offscan/OffScan/offscan/bit4"
	"github.com/offscan/OffScan/offscan/genome"
	"github.com/pkg/errors"
)

// PatternChunkSize is the block granularity, in bytes, of a packed pattern.
// It must divide the bytes of BlocksPerExec machine words of every backend.
const PatternChunkSize = 16

// ErrNoPatterns means the pattern set is empty.
var ErrNoPatterns = errors.New("search: no patterns given")

// ErrPatternLength means patterns are empty, too long, or of different lengths.
var ErrPatternLength = errors.New("search: all patterns should have the same length")

// ErrInvalidPattern means a pattern contains characters other than IUPAC codes.
var ErrInvalidPattern = errors.New("search: invalid pattern")

// ErrInvalidMismatches means the maximum number of mismatches is out of range.
var ErrInvalidMismatches = errors.New("search: invalid maximum number of mismatches")

// ErrFilterLength means the filter differs from the patterns in length.
var ErrFilterLength = errors.New("search: filter should have the same length as patterns")

// PatternSet holds the query patterns followed by their reverse complements,
// packed into channel masks. Pattern j and pattern j+NumOriginal are the two
// strands of the same query. A PatternSet is read-only once created.
type PatternSet struct {
	Len         int      // length of every pattern
	NumOriginal int      // number of query patterns
	Seqs        [][]byte // upper-case patterns, originals then reverse complements
	Stride      int      // bytes of a packed pattern, a multiple of PatternChunkSize
	Packed      []byte   // packed patterns, one per Stride bytes

	words64 []uint64
	words32 []uint32
}

// NewPatternSet validates the patterns and builds the expanded pattern set.
func NewPatternSet(patterns [][]byte) (*PatternSet, error) {
	if len(patterns) == 0 {
		return nil, ErrNoPatterns
	}

	l := len(patterns[0])
	if l == 0 || l > genome.ChunkSize {
		return nil, errors.Wrapf(ErrPatternLength, "pattern length: %d", l)
	}
	for _, p := range patterns {
		if len(p) != l {
			return nil, errors.Wrapf(ErrPatternLength, "%s", p)
		}
		if !bit4.IsAmbiguousString(p) {
			return nil, errors.Wrapf(ErrInvalidPattern, "%s", p)
		}
	}

	n := len(patterns)
	ps := &PatternSet{
		Len:         l,
		NumOriginal: n,
		Seqs:        make([][]byte, 0, n<<1),
		Stride:      bit4.Roundup(bit4.Cdiv(l, 2), PatternChunkSize),
	}
	for _, p := range patterns {
		ps.Seqs = append(ps.Seqs, bytes.ToUpper(p))
	}
	for _, p := range ps.Seqs[:n] {
		ps.Seqs = append(ps.Seqs, bit4.ReverseComplement(p))
	}

	ps.Packed = make([]byte, len(ps.Seqs)*ps.Stride)
	for i, p := range ps.Seqs {
		bit4.StringToMask(ps.Packed[i*ps.Stride:(i+1)*ps.Stride], p, 0, true)
	}

	ps.words64 = make([]uint64, len(ps.Packed)>>3)
	for i := range ps.words64 {
		ps.words64[i] = binary.LittleEndian.Uint64(ps.Packed[i<<3:])
	}
	ps.words32 = make([]uint32, len(ps.Packed)>>2)
	for i := range ps.words32 {
		ps.words32[i] = binary.LittleEndian.Uint32(ps.Packed[i<<2:])
	}

	return ps, nil
}

// Num returns the number of expanded patterns.
func (ps *PatternSet) Num() int {
	return len(ps.Seqs)
}

// Strand returns the strand of an expanded pattern and the index of its query.
func (ps *PatternSet) Strand(i int) (byte, int) {
	if i < ps.NumOriginal {
		return '+', i
	}
	return '-', i - ps.NumOriginal
}

// CheckMismatches checks the maximum number of mismatches against the pattern length.
func (ps *PatternSet) CheckMismatches(max int) error {
	if max < 0 || max > ps.Len {
		return errors.Wrapf(ErrInvalidMismatches, "%d (pattern length: %d)", max, ps.Len)
	}
	return nil
}
