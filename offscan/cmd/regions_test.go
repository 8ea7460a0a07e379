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
	"path/filepath"
	"testing"

	"github.com/offscan/OffScan/offscan/bit4"
)

func TestRegions(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "regions.bed", `track name=test
# comment
chr1	100	200	repeat1
chr1	150	300
chr2	0	1

chr3	50	51	x	0	+
`)
	regions, err := readBED(file)
	if err != nil {
		t.Fatal(err)
	}
	if regions.Len() != 4 {
		t.Errorf("expected 4 regions, results: %d", regions.Len())
	}

	cases := []struct {
		chr        string
		start, end int
		overlap    bool
	}{
		{"chr1", 0, 100, false},
		{"chr1", 0, 101, true},
		{"chr1", 99, 100, false},
		{"chr1", 100, 101, true},
		{"chr1", 299, 320, true},
		{"chr1", 300, 320, false},
		{"chr2", 0, 23, true},
		{"chr2", 1, 23, false},
		{"chr3", 28, 51, true},
		{"chr3", 51, 74, false},
		{"chrX", 0, 1000, false},
		// single bases
		{"chr1", 100, 101, true},
		{"chr1", 99, 100, false},
		{"chr1", 299, 300, true},
		{"chr2", 0, 1, true},
		{"chr2", 1, 2, false},
		{"chr3", 50, 51, true},
		{"chr3", 49, 50, false},
		{"chr1", 150, 150, false}, // empty
	}
	for _, c := range cases {
		if o := regions.Overlap(c.chr, c.start, c.end); o != c.overlap {
			t.Errorf("%s:%d-%d: expected overlap %v, results: %v", c.chr, c.start, c.end, c.overlap, o)
		}
	}

	adjacent := NewRegions()
	for _, s := range []int{5, 6, 10} {
		if err = adjacent.Add("chrY", s, s+1); err != nil {
			t.Fatalf("1-bp region %d: %s", s, err)
		}
	}
	for _, c := range []struct {
		start, end int
		overlap    bool
	}{{4, 5, false}, {5, 6, true}, {6, 7, true}, {7, 10, false}, {7, 11, true}, {11, 30, false}, {0, 30, true}} {
		if o := adjacent.Overlap("chrY", c.start, c.end); o != c.overlap {
			t.Errorf("chrY:%d-%d: expected overlap %v, results: %v", c.start, c.end, c.overlap, o)
		}
	}

	for i, content := range []string{
		"chr1\t100\n",
		"chr1\tx\t200\n",
		"chr1\t100\ty\n",
		"chr1\t200\t100\n",
		"chr1\t100\t100\n",
		"chr1\t-1\t100\n",
	} {
		file = writeFile(t, dir, "bad.bed", content)
		if _, err = readBED(file); err == nil {
			t.Errorf("case %d: error expected", i)
		}
	}

	empty, err := readBED(writeFile(t, dir, "empty.bed", ""))
	if err != nil || empty.Len() != 0 || empty.Overlap("chr1", 0, 100) {
		t.Errorf("empty BED file: unexpected result: %v", err)
	}

	if _, err = readBED(filepath.Join(dir, "missing.bed")); err == nil {
		t.Errorf("missing file should be reported")
	}
}

func TestStringSplitNByByte(t *testing.T) {
	items := make([]string, 2)
	cases := []struct {
		s        string
		n        int
		expected []string
	}{
		{"a\tb\tc", 2, []string{"a", "b\tc"}},
		{"a\tb\tc", 3, []string{"a", "b", "c"}},
		{"a\tb\tc", 5, []string{"a", "b", "c"}},
		{"abc", 3, []string{"abc"}},
		{"", 3, []string{""}},
	}
	for _, c := range cases {
		stringSplitNByByte(c.s, '\t', c.n, &items)
		if len(items) != len(c.expected) {
			t.Errorf("%q/%d: expected %q, results: %q", c.s, c.n, c.expected, items)
			continue
		}
		for i := range items {
			if items[i] != c.expected[i] {
				t.Errorf("%q/%d: expected %q, results: %q", c.s, c.n, c.expected, items)
				break
			}
		}
	}
}

func TestFilepathTrimExtension(t *testing.T) {
	cases := [][4]string{
		{"job.toml", "job", ".toml", ""},
		{"job.TOML.gz", "job", ".TOML", ".gz"},
		{"dir/hg38.fa.xz", "dir/hg38", ".fa", ".xz"},
		{"job", "job", "", ""},
	}
	for _, c := range cases {
		name, ext, z := filepathTrimExtension(c[0], nil)
		if name != c[1] || ext != c[2] || z != c[3] {
			t.Errorf("%s: expected %s %s %s, results: %s %s %s", c[0], c[1], c[2], c[3], name, ext, z)
		}
	}
}

func TestCountUnknown(t *testing.T) {
	for _, s := range []string{"", "N", "A", "ACGTN", "NNACGTNRYA", "nnnnACGT"} {
		data := make([]byte, bit4.Cdiv(len(s), 2)+1)
		data[len(data)-1] = 0xff // beyond the sequence
		bit4.StringToMask(data, []byte(s), 0, false)

		var expected int
		for i := 0; i < len(s); i++ {
			if bit4.Mask(s[i], false) == 0 {
				expected++
			}
		}
		if u := countUnknown(data, len(s)); u != expected {
			t.Errorf("%s: expected %d, results: %d", s, expected, u)
		}
	}
}
