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

package cmd

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rdleal/intervalst/interval"
	"github.com/shenwei356/xopen"
)

// Regions stores genome regions of each chromosome in interval trees.
type Regions struct {
	trees map[string]*interval.SearchTree[struct{}, int]
	n     int
}

func cmpInt(x, y int) int { return x - y }

// NewRegions returns an empty Regions.
func NewRegions() *Regions {
	return &Regions{trees: make(map[string]*interval.SearchTree[struct{}, int], 32)}
}

// Add adds a region of 0-based, half-open coordinates.
func (r *Regions) Add(chr string, start, end int) error {
	if start < 0 || end <= start {
		return fmt.Errorf("invalid region: %s:%d-%d", chr, start, end)
	}
	t, ok := r.trees[chr]
	if !ok {
		t = interval.NewSearchTree[struct{}, int](cmpInt)
		r.trees[chr] = t
	}
	// the tree stores closed intervals with start < end, so [start, end) is
	// kept as [2*start, 2*end-1], which is never a single point.
	if err := t.Insert(start<<1, end<<1-1, struct{}{}); err != nil {
		return errors.Wrapf(err, "region: %s:%d-%d", chr, start, end)
	}
	r.n++
	return nil
}

// Len returns the number of regions.
func (r *Regions) Len() int {
	return r.n
}

// Overlap tells whether [start, end) overlaps with any region.
func (r *Regions) Overlap(chr string, start, end int) bool {
	if end <= start {
		return false
	}
	t, ok := r.trees[chr]
	if !ok {
		return false
	}
	_, ok = t.AnyIntersection(start<<1, end<<1-1)
	return ok
}

// readBED reads the first 3 columns of a BED file. Empty lines, comment lines,
// and "track"/"browser" lines are skipped.
func readBED(file string) (*Regions, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		if err == xopen.ErrNoContent {
			return NewRegions(), nil
		}
		return nil, errors.Wrapf(err, "reading BED file: %s", file)
	}
	defer fh.Close()

	regions := NewRegions()
	items := make([]string, 4)
	scanner := bufio.NewScanner(fh)
	var line string
	var start, end, n int
	for scanner.Scan() {
		n++
		line = strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" || line[0] == '#' ||
			strings.HasPrefix(line, "track") || strings.HasPrefix(line, "browser") {
			continue
		}

		stringSplitNByByte(line, '\t', 4, &items)
		if len(items) < 3 {
			return nil, fmt.Errorf("%s: line %d: at least 3 columns needed", file, n)
		}
		start, err = strconv.Atoi(items[1])
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: invalid start: %s", file, n, items[1])
		}
		end, err = strconv.Atoi(items[2])
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: invalid end: %s", file, n, items[2])
		}
		if err = regions.Add(items[0], start, end); err != nil {
			return nil, errors.Wrapf(err, "%s: line %d", file, n)
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading BED file: %s", file)
	}
	return regions, nil
}
