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

	"github.com/twotwotwo/sorts"
)

// Matches is a list of matches, sorted by chromosome, position, pattern and strand.
type Matches []*Match

func (s Matches) Len() int      { return len(s) }
func (s Matches) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s Matches) Less(i, j int) bool {
	a, b := s[i], s[j]
	if a.Chr != b.Chr {
		return a.Chr < b.Chr
	}
	if a.Pos != b.Pos {
		return a.Pos < b.Pos
	}
	if a.Pattern != b.Pattern {
		return a.Pattern < b.Pattern
	}
	if a.Strand != b.Strand {
		return a.Strand < b.Strand
	}
	return bytes.Compare(a.Site, b.Site) < 0
}

// Sort sorts matches in parallel, with sorts.MaxProcs goroutines.
func (s Matches) Sort() {
	sorts.Quicksort(s)
}

// RawMatches is a list of raw matches, sorted by offset, pattern and mismatches.
type RawMatches []RawMatch

func (s RawMatches) Len() int      { return len(s) }
func (s RawMatches) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s RawMatches) Less(i, j int) bool {
	if s[i].Offset != s[j].Offset {
		return s[i].Offset < s[j].Offset
	}
	if s[i].Pattern != s[j].Pattern {
		return s[i].Pattern < s[j].Pattern
	}
	return s[i].Mismatches < s[j].Mismatches
}
