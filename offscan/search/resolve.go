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
	"github.com/offscan/OffScan/offscan/bit4"
	"github.com/offscan/OffScan/offscan/genome"
)

// Match is a resolved occurrence of a pattern in the genome.
type Match struct {
	Chr        string // shared by all matches of a chromosome
	Pos        int    // 0-based position on the forward strand
	Pattern    int    // index of the query pattern
	Strand     byte   // '+' or '-'
	Mismatches int

	// genome sequence of the match, in the orientation of the pattern,
	// with mismatched bases in lower case.
	Site []byte
}

// Resolver turns raw matches into genome coordinates.
type Resolver struct {
	ps *PatternSet

	// filter of each strand, nil for no filtering
	filter   []byte
	filterRC []byte
}

// NewResolver creates a Resolver. Matches must also satisfy filter, a
// sequence of the pattern length in which positions other than 'N' must
// match the genome exactly (e.g., a PAM). filter may be empty.
func NewResolver(ps *PatternSet, filter []byte) (*Resolver, error) {
	r := &Resolver{ps: ps}
	if len(filter) == 0 {
		return r, nil
	}
	if len(filter) != ps.Len {
		return nil, ErrFilterLength
	}
	if !bit4.IsAmbiguousString(filter) {
		return nil, ErrInvalidPattern
	}
	r.filter = make([]byte, len(filter))
	copy(r.filter, filter)
	r.filterRC = bit4.ReverseComplement(r.filter)
	return r, nil
}

// accept tells whether a raw match is reported in this batch, and
// returns the chunk index and its position in the chromosome.
func (r *Resolver) accept(b *Batch, m RawMatch) (int, int, bool) {
	off := int(m.Offset)
	idx := off / genome.ChunkSize
	local := off % genome.ChunkSize
	n := b.Len()

	// beyond data, or to be searched in the next batch
	if idx >= n || (b.Full() && idx == n-1) {
		return idx, 0, false
	}

	if local >= b.Ends[idx]-b.Starts[idx] {
		return idx, 0, false
	}

	pos := b.Starts[idx] + local
	if (idx == n-1 || b.Starts[idx+1] == 0) && pos+r.ps.Len > b.Ends[idx] {
		return idx, 0, false
	}
	return idx, pos, true
}

// passFilter checks the filter against the site in genome orientation.
func (r *Resolver) passFilter(site []byte, strand byte) bool {
	if r.filter == nil {
		return true
	}
	f := r.filter
	if strand == '-' {
		f = r.filterRC
	}
	for i, c := range f {
		if c == 'N' || c == 'n' {
			continue
		}
		if !bit4.Compare(site[i], c) {
			return false
		}
	}
	return true
}

// Resolve maps the raw matches of a batch to genome coordinates, dropping
// the ones that belong to another batch or run beyond a chromosome.
func (r *Resolver) Resolve(res *BatchResult) []*Match {
	b := res.Batch
	l := r.ps.Len

	matches := make([]*Match, 0, len(res.Matches))
	var idx, pos int
	var ok bool
	for _, m := range res.Matches {
		idx, pos, ok = r.accept(b, m)
		if !ok {
			continue
		}

		site := make([]byte, l)
		bit4.MaskToString(site, b.Data, int(m.Offset), l)

		strand, pi := r.ps.Strand(int(m.Pattern))
		if !r.passFilter(site, strand) {
			continue
		}

		pat := r.ps.Seqs[m.Pattern]
		for i, c := range site {
			if !bit4.Compare(c, pat[i]) {
				site[i] = c | 0x20
			}
		}
		if strand == '-' {
			bit4.ReverseComplementInplace(site)
		}

		matches = append(matches, &Match{
			Chr:        b.Names[idx],
			Pos:        pos,
			Pattern:    pi,
			Strand:     strand,
			Mismatches: int(m.Mismatches),
			Site:       site,
		})
	}
	return matches
}
