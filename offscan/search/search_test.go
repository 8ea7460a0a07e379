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
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/offscan/OffScan/offscan/bit4"
	"github.com/offscan/OffScan/offscan/genome"
	"github.com/pkg/errors"
)

type chrom struct {
	name string
	seq  []byte
}

// sendChroms splits chromosomes into chunks the way the genome readers do.
func sendChroms(chroms []chrom, ch chan<- *genome.ChromChunk, stop <-chan struct{}) error {
	var c *genome.ChromChunk
	var e int
	for _, chr := range chroms {
		for s := 0; s < len(chr.seq); s += genome.ChunkSize {
			e = min(s+genome.ChunkSize, len(chr.seq))
			c = genome.NewChromChunk(chr.name, s)
			c.End = e
			bit4.StringToMask(c.Data, chr.seq[s:e], 0, false)
			select {
			case ch <- c:
			case <-stop:
				return ErrDisconnected
			}
		}
	}
	return nil
}

func runSearch(t *testing.T, chroms []chrom, patterns []string, opt Options) []*Match {
	pats := make([][]byte, len(patterns))
	for i, p := range patterns {
		pats[i] = []byte(p)
	}
	ps, err := NewPatternSet(pats)
	if err != nil {
		t.Fatal(err)
	}
	p, err := NewPipeline(&opt, ps)
	if err != nil {
		t.Fatal(err)
	}

	out := make(chan []*Match, 4)
	done := make(chan int)
	var matches Matches
	go func() {
		for ms := range out {
			matches = append(matches, ms...)
		}
		done <- 1
	}()

	err = p.RunReader(func(ch chan<- *genome.ChromChunk, stop <-chan struct{}) error {
		return sendChroms(chroms, ch, stop)
	}, out)
	close(out)
	<-done
	if err != nil {
		t.Fatal(err)
	}

	matches.Sort()
	return matches
}

// naiveSearch is a direct comparison of every window with every pattern.
func naiveSearch(chroms []chrom, patterns []string, maxMis int) []*Match {
	var pats [][]byte
	for _, p := range patterns {
		pats = append(pats, []byte(p))
	}
	for _, p := range patterns {
		pats = append(pats, bit4.ReverseComplement([]byte(p)))
	}
	n := len(patterns)
	l := len(patterns[0])

	var matches Matches
	var mis int
	for _, chr := range chroms {
		for pos := 0; pos+l <= len(chr.seq); pos++ {
			w := bytes.ToUpper(chr.seq[pos : pos+l])
			for j, p := range pats {
				mis = 0
				for i := range p {
					if !bit4.Compare(w[i], p[i]) {
						mis++
					}
				}
				if mis > maxMis {
					continue
				}

				site := make([]byte, l)
				for i, c := range w {
					if !bit4.Compare(c, p[i]) {
						c |= 0x20
					}
					site[i] = c
				}
				m := &Match{Chr: chr.name, Pos: pos, Mismatches: mis, Site: site}
				if j < n {
					m.Strand, m.Pattern = '+', j
				} else {
					m.Strand, m.Pattern = '-', j-n
					bit4.ReverseComplementInplace(m.Site)
				}
				matches = append(matches, m)
			}
		}
	}
	matches.Sort()
	return matches
}

func formatMatch(m *Match) string {
	return fmt.Sprintf("%s:%d %d %c %d %s", m.Chr, m.Pos, m.Pattern, m.Strand, m.Mismatches, m.Site)
}

func checkMatches(t *testing.T, expected, results []*Match) {
	if len(expected) != len(results) {
		t.Errorf("expected %d matches, results: %d", len(expected), len(results))
	}
	for i := 0; i < min(len(expected), len(results)); i++ {
		if e, r := formatMatch(expected[i]), formatMatch(results[i]); e != r {
			t.Errorf("#%d: expected %s, results: %s", i, e, r)
			return
		}
	}
}

func randSeq(r *rand.Rand, n int) []byte {
	s := make([]byte, n)
	for i := range s {
		s[i] = "ACGT"[r.Intn(4)]
	}
	return s
}

func TestSearchSimple(t *testing.T) {
	chroms := []chrom{{"chr1", []byte("ACTGCAACTGCA")}}

	for _, device := range []string{"C", "G"} {
		opt := DefaultOptions
		opt.Device = device
		matches := runSearch(t, chroms, []string{"ACTGC"}, opt)

		expected := []*Match{
			{Chr: "chr1", Pos: 0, Pattern: 0, Strand: '+', Mismatches: 0, Site: []byte("ACTGC")},
			{Chr: "chr1", Pos: 6, Pattern: 0, Strand: '+', Mismatches: 0, Site: []byte("ACTGC")},
		}
		checkMatches(t, expected, matches)
	}
}

func TestSearchSiteAndStrand(t *testing.T) {
	chroms := []chrom{
		{"chr1", []byte("ACTCCTTTTT")},
		{"chr2", []byte("AAGCAGTAA")},
	}
	opt := DefaultOptions
	opt.MaxMismatches = 1
	matches := runSearch(t, chroms, []string{"ACTGC"}, opt)

	expected := []*Match{
		{Chr: "chr1", Pos: 0, Pattern: 0, Strand: '+', Mismatches: 1, Site: []byte("ACTcC")},
		{Chr: "chr2", Pos: 2, Pattern: 0, Strand: '-', Mismatches: 0, Site: []byte("ACTGC")},
	}
	checkMatches(t, expected, matches)
}

func TestSearchFilter(t *testing.T) {
	chroms := []chrom{{"chr1", []byte("ACTGCAACTGAA")}}

	cases := []struct {
		filter   string
		expected []int
	}{
		{"", []int{0, 6}},
		{"NNNNC", []int{0}},
		{"NNNNR", []int{6}},
		{"NNNNT", nil},
	}
	for _, c := range cases {
		opt := DefaultOptions
		opt.Filter = []byte(c.filter)
		matches := runSearch(t, chroms, []string{"ACTGN"}, opt)

		if len(matches) != len(c.expected) {
			t.Errorf("filter %s: expected %d matches, results: %d", c.filter, len(c.expected), len(matches))
			continue
		}
		for i, m := range matches {
			if m.Pos != c.expected[i] || m.Strand != '+' {
				t.Errorf("filter %s: unexpected match: %s", c.filter, formatMatch(m))
			}
		}
	}
}

func TestSearchMaskedRegion(t *testing.T) {
	ps, err := NewPatternSet([][]byte{[]byte("ACTGC"), []byte("NNNNN"), []byte("RYSWK")})
	if err != nil {
		t.Fatal(err)
	}

	out := make(chan []*Match, 4)
	for _, device := range []string{"C", "G"} {
		c := genome.NewChromChunk("chr1", 0)
		c.End = 12
		bit4.StringToMask(c.Data, []byte("ACTGCAACTGCA"), 0, false)
		bit4.FillMaskRange(c.Data, 0, 0, 12)

		chunks := make(chan *genome.ChromChunk, 1)
		chunks <- c
		close(chunks)

		opt := DefaultOptions
		opt.Device = device
		if err = Search(&opt, ps, chunks, out); err != nil {
			t.Error(err)
		}
	}
	close(out)
	for ms := range out {
		for _, m := range ms {
			t.Errorf("unexpected match in a masked region: %s", formatMatch(m))
		}
	}
}

func TestSearchChunkJoin(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	pattern := "GATTACAGATTACAGATTACAGG"
	l := len(pattern)

	seq := randSeq(r, genome.ChunkSize*3+100)
	positions := []int{
		genome.ChunkSize - 3,   // join of two chunks in one batch
		2*genome.ChunkSize - l, // end of a chunk
		3*genome.ChunkSize - 7, // join of two batches, with 2 or 3 chunks per batch
		len(seq) - l,           // end of the chromosome
	}
	for _, p := range positions {
		copy(seq[p:], pattern)
	}
	chroms := []chrom{{"chr1", seq}, {"chr2", []byte(pattern)}}

	expected := positions
	for _, per := range []int{2, 3, ChunksPerSearch} {
		for _, device := range []string{"C", "G"} {
			opt := DefaultOptions
			opt.Device = device
			opt.ChunksPerBatch = per
			matches := runSearch(t, chroms, []string{pattern}, opt)

			if len(matches) != len(expected)+1 {
				t.Errorf("%d chunks per batch, device %s: expected %d matches, results: %d",
					per, device, len(expected)+1, len(matches))
				continue
			}
			for i, p := range expected {
				if matches[i].Chr != "chr1" || matches[i].Pos != p || matches[i].Strand != '+' {
					t.Errorf("%d chunks per batch, device %s: expected chr1:%d, results: %s",
						per, device, p, formatMatch(matches[i]))
				}
			}
			if m := matches[len(expected)]; m.Chr != "chr2" || m.Pos != 0 {
				t.Errorf("unexpected match: %s", formatMatch(m))
			}
		}
	}
}

func TestSearchAgainstNaive(t *testing.T) {
	r := rand.New(rand.NewSource(7))

	long := randSeq(r, genome.ChunkSize*3+17)
	copy(long[genome.ChunkSize-50:], bytes.Repeat([]byte("N"), 120))
	chroms := []chrom{
		{"chr1", long},
		{"chr2", randSeq(r, 5)},
		{"chr3", randSeq(r, genome.ChunkSize-2)},
		{"chr4", randSeq(r, genome.ChunkSize)},
		{"chr5", randSeq(r, 40)},
	}
	patterns := []string{"ACGTTGCANR", "GGNNACTTAY"}

	expected := naiveSearch(chroms, patterns, 2)
	if len(expected) == 0 {
		t.Fatal("no matches to compare")
	}

	for _, per := range []int{2, 3, ChunksPerSearch} {
		for _, device := range []string{"C", "G"} {
			opt := DefaultOptions
			opt.Device = device
			opt.MaxMismatches = 2
			opt.ChunksPerBatch = per
			opt.Threads = 3

			matches := runSearch(t, chroms, patterns, opt)
			checkMatches(t, expected, matches)
		}
	}
}

func TestBackendParity(t *testing.T) {
	r := rand.New(rand.NewSource(11))

	ps, err := NewPatternSet([][]byte{
		[]byte("ACGTAGCTAGCTAGGACTAGNGG"),
		[]byte("NNNNNNNNNNNNNNNNNNNNNRG"),
		[]byte("TTTTAGCTAGCWAGGACTAGNGG"),
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, n := range []int{1, 3, 4} {
		b := NewBatch(4)
		for i := 0; i < n; i++ {
			c := genome.NewChromChunk(fmt.Sprintf("chr%d", i), 0)
			size := genome.ChunkSize
			if i == n-1 {
				size -= 1000
			}
			c.End = size
			bit4.StringToMask(c.Data, randSeq(r, size), 0, false)
			b.Add(c)
			genome.RecycleChromChunk(c)
		}

		for _, m := range []int{0, 3, 6} {
			cpu := RawMatches(NewCPUBackend(ps, m, 2).Search(b))
			grid := RawMatches(NewGridBackend(ps, m, 3).Search(b))
			sort.Sort(cpu)
			sort.Sort(grid)

			if len(cpu) != len(grid) {
				t.Errorf("%d chunks, %d mismatches: %d matches from CPU, %d from grid",
					n, m, len(cpu), len(grid))
				continue
			}
			for i := range cpu {
				if cpu[i] != grid[i] {
					t.Errorf("%d chunks, %d mismatches: #%d: %v vs %v", n, m, i, cpu[i], grid[i])
					break
				}
			}
		}
		RecycleBatch(b)
	}
}

func TestPipelineStop(t *testing.T) {
	chroms := []chrom{{"chr1", bytes.Repeat([]byte("ACGT"), genome.ChunkSize)}}
	ps, err := NewPatternSet([][]byte{[]byte("ACGTA")})
	if err != nil {
		t.Fatal(err)
	}
	opt := DefaultOptions
	opt.ChunksPerBatch = 2
	p, err := NewPipeline(&opt, ps)
	if err != nil {
		t.Fatal(err)
	}
	p.Stop()
	p.Stop()

	// nobody reads the matches
	out := make(chan []*Match)
	err = p.RunReader(func(ch chan<- *genome.ChromChunk, stop <-chan struct{}) error {
		return sendChroms(chroms, ch, stop)
	}, out)
	if errors.Cause(err) != ErrDisconnected {
		t.Errorf("expected error %v, results: %v", ErrDisconnected, err)
	}
}

func TestSearchUnorderedChunks(t *testing.T) {
	ps, err := NewPatternSet([][]byte{[]byte("ACGTA")})
	if err != nil {
		t.Fatal(err)
	}

	// the producer has no stop channel
	chunks := make(chan *genome.ChromChunk)
	produced := make(chan int)
	go func() {
		var n int
		for i := 0; i < 20; i++ {
			start := i * genome.ChunkSize
			if i == 2 {
				start += 5
			}
			c := genome.NewChromChunk("chr1", start)
			c.End = start + genome.ChunkSize
			chunks <- c
			n++
		}
		close(chunks)
		produced <- n
	}()

	out := make(chan []*Match)
	go func() {
		for range out {
		}
	}()

	opt := DefaultOptions
	opt.ChunksPerBatch = 2
	err = Search(&opt, ps, chunks, out)
	close(out)
	if errors.Cause(err) != ErrUnorderedChunks {
		t.Errorf("expected error %v, results: %v", ErrUnorderedChunks, err)
	}

	select {
	case n := <-produced:
		if n != 20 {
			t.Errorf("expected 20 chunks sent, results: %d", n)
		}
	case <-time.After(10 * time.Second):
		t.Errorf("producer blocked after a failed search")
	}
}

func TestPipelineOptions(t *testing.T) {
	ps, err := NewPatternSet([][]byte{[]byte("ACGTA")})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		opt      Options
		expected error
	}{
		{Options{MaxMismatches: -1}, ErrInvalidMismatches},
		{Options{MaxMismatches: 6}, ErrInvalidMismatches},
		{Options{MaxMismatches: 5}, nil},
		{Options{Filter: []byte("NNRG")}, ErrFilterLength},
		{Options{Filter: []byte("NNN?G")}, ErrInvalidPattern},
		{Options{Filter: []byte("NNNGG")}, nil},
	}
	for i, c := range cases {
		_, err = NewPipeline(&c.opt, ps)
		if errors.Cause(err) != c.expected {
			t.Errorf("case %d: expected error %v, results: %v", i, c.expected, err)
		}
	}

	for _, device := range []string{"X", "CPU", "GPU"} {
		if _, err = NewPipeline(&Options{Device: device}, ps); errors.Cause(err) != ErrUnsupportedDevice {
			t.Errorf("device %s: expected error %v, results: %v", device, ErrUnsupportedDevice, err)
		}
	}
	devices := map[string]string{"": "*search.CPUBackend", "c": "*search.CPUBackend",
		"C": "*search.CPUBackend", "G": "*search.GridBackend", "g": "*search.GridBackend",
		"A": "*search.GridBackend", "a": "*search.GridBackend"}
	for device, backend := range devices {
		p, err := NewPipeline(&Options{Device: device}, ps)
		if err != nil {
			t.Errorf("device %q: %s", device, err)
			continue
		}
		if b := fmt.Sprintf("%T", p.Backend()); b != backend {
			t.Errorf("device %q: expected %s, results: %s", device, backend, b)
		}
	}
	if _, err = NewPipeline(&Options{ChunksPerBatch: 1}, ps); err == nil {
		t.Errorf("invalid chunks per batch accepted")
	}
}
