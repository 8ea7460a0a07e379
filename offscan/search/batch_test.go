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
	"testing"

	"github.com/offscan/OffScan/offscan/bit4"
	"github.com/offscan/OffScan/offscan/genome"
	"github.com/pkg/errors"
)

type chunkInfo struct {
	name       string
	start, end int
	tag        byte
}

// chunkStream creates chunks of chromosomes of the given numbers of chunks,
// each chunk tagged with its index in its first byte.
func chunkStream(sizes []int) []chunkInfo {
	var infos []chunkInfo
	var tag byte
	for i, n := range sizes {
		name := fmt.Sprintf("chr%d", i+1)
		for j := 0; j < n; j++ {
			end := (j + 1) * genome.ChunkSize
			if j == n-1 {
				end -= 10 * i
			}
			tag++
			infos = append(infos, chunkInfo{name, j * genome.ChunkSize, end, tag})
		}
	}
	return infos
}

func aggregate(infos []chunkInfo, perBatch int) ([]*Batch, error) {
	chunks := make(chan *genome.ChromChunk, len(infos))
	for _, info := range infos {
		c := genome.NewChromChunk(info.name, info.start)
		c.End = info.end
		c.Data[0] = info.tag
		chunks <- c
	}
	close(chunks)

	batches := make(chan *Batch, 2)
	var list []*Batch
	done := make(chan int)
	go func() {
		for b := range batches {
			list = append(list, b)
		}
		done <- 1
	}()
	err := Aggregate(chunks, batches, perBatch, nil)
	<-done
	return list, err
}

func TestAggregate(t *testing.T) {
	for _, sizes := range [][]int{{1}, {3}, {4}, {1, 1, 1}, {2, 5, 1, 7}, {12}} {
		infos := chunkStream(sizes)

		for perBatch := 2; perBatch <= 5; perBatch++ {
			batches, err := aggregate(infos, perBatch)
			if err != nil {
				t.Error(err)
				return
			}

			var results []chunkInfo
			for i, b := range batches {
				if len(b.Names) != b.Len() || len(b.Ends) != b.Len() {
					t.Errorf("%v/%d: inconsistent metadata", sizes, perBatch)
				}
				if i < len(batches)-1 && !b.Full() {
					t.Errorf("%v/%d: short batch before the last one", sizes, perBatch)
				}

				first := 0
				if i > 0 {
					// overlap
					p := batches[i-1]
					last := p.Len() - 1
					if b.Starts[0] != p.Starts[last] || b.Names[0] != p.Names[last] ||
						b.Data[0] != p.Data[last*genome.ChunkSizeBytes] {
						t.Errorf("%v/%d: batch %d does not start with the last chunk of batch %d",
							sizes, perBatch, i, i-1)
					}
					first = 1
				}
				for j := first; j < b.Len(); j++ {
					results = append(results, chunkInfo{
						b.Names[j], b.Starts[j], b.Ends[j], b.Data[j*genome.ChunkSizeBytes],
					})
				}
			}

			if len(results) != len(infos) {
				t.Errorf("%v/%d: expected %d chunks, results: %d", sizes, perBatch, len(infos), len(results))
				continue
			}
			for i, info := range infos {
				if results[i] != info {
					t.Errorf("%v/%d: #%d expected %v, results: %v", sizes, perBatch, i, info, results[i])
				}
			}

			for _, b := range batches {
				RecycleBatch(b)
			}
		}
	}
}

func TestAggregateUnordered(t *testing.T) {
	cases := [][]chunkInfo{
		{{"a", 5, 10, 1}},
		{{"a", 0, 10, 1}, {"a", 12, 20, 2}},
		{{"a", 0, 10, 1}, {"b", 10, 20, 2}},
	}
	for i, infos := range cases {
		_, err := aggregate(infos, 2)
		if errors.Cause(err) != ErrUnorderedChunks {
			t.Errorf("case %d: expected error %v, results: %v", i, ErrUnorderedChunks, err)
		}
	}

	if _, err := aggregate([]chunkInfo{{"a", 0, 10, 1}, {"a", 0, 10, 2}}, 2); err != nil {
		t.Errorf("chromosome restart rejected: %s", err)
	}
}

func TestAggregateDisconnected(t *testing.T) {
	stop := make(chan struct{})
	close(stop)

	for _, n := range []int{1, 3} {
		chunks := make(chan *genome.ChromChunk, n)
		for i := 0; i < n; i++ {
			c := genome.NewChromChunk("a", i*genome.ChunkSize)
			c.End = (i + 1) * genome.ChunkSize
			chunks <- c
		}
		close(chunks)

		// nobody receives batches
		err := Aggregate(chunks, make(chan *Batch), 2, stop)
		if n == 1 && err != nil {
			t.Errorf("final flush: unexpected error: %v", err)
		}
		if n == 3 && err != ErrDisconnected {
			t.Errorf("expected error %v, results: %v", ErrDisconnected, err)
		}
	}
}

func TestPatternSet(t *testing.T) {
	ps, err := NewPatternSet([][]byte{[]byte("ACTGC"), []byte("acNgr")})
	if err != nil {
		t.Error(err)
		return
	}

	if ps.Len != 5 || ps.Num() != 4 || ps.NumOriginal != 2 || ps.Stride != PatternChunkSize {
		t.Errorf("unexpected pattern set: %d %d %d %d", ps.Len, ps.Num(), ps.NumOriginal, ps.Stride)
	}

	seqs := []string{"ACTGC", "ACNGR", "GCAGT", "YCNGT"}
	for i, s := range seqs {
		if string(ps.Seqs[i]) != s {
			t.Errorf("#%d: expected %s, results: %s", i, s, ps.Seqs[i])
		}
		if strand, j := ps.Strand(i); strand != "++--"[i] || j != i%2 {
			t.Errorf("#%d: unexpected strand and index: %c %d", i, strand, j)
		}
	}

	if !bytes.Equal(ps.Packed[:3], []byte{0x24, 0x81, 0x02}) {
		t.Errorf("expected %x, results: %x", []byte{0x24, 0x81, 0x02}, ps.Packed[:3])
	}
	s := make([]byte, 5)
	bit4.MaskToString(s, ps.Packed, 0, 5)
	if string(s) != "ACTGC" {
		t.Errorf("expected ACTGC, results: %s", s)
	}
	if len(ps.Packed) != 4*PatternChunkSize || len(ps.words64) != 8 || len(ps.words32) != 16 {
		t.Errorf("unexpected packed size: %d", len(ps.Packed))
	}

	long, _ := NewPatternSet([][]byte{bytes.Repeat([]byte("A"), 33)})
	if long.Stride != 2*PatternChunkSize {
		t.Errorf("expected stride %d, results: %d", 2*PatternChunkSize, long.Stride)
	}

	if PatternChunkSize%8 != 0 || (BlocksPerExec*8)%PatternChunkSize != 0 {
		t.Errorf("pattern block granularity should divide the words of a group")
	}
	if SearchChunkSize >= 1<<32 {
		t.Errorf("offsets do not fit in uint32")
	}
}

func TestPatternSetErrors(t *testing.T) {
	cases := []struct {
		patterns []string
		expected error
	}{
		{nil, ErrNoPatterns},
		{[]string{""}, ErrPatternLength},
		{[]string{"ACGT", "ACG"}, ErrPatternLength},
		{[]string{"ACGT", "ACGU"}, ErrInvalidPattern},
		{[]string{"AC-T"}, ErrInvalidPattern},
		{[]string{string(bytes.Repeat([]byte("A"), genome.ChunkSize+1))}, ErrPatternLength},
	}
	for i, c := range cases {
		var pats [][]byte
		for _, p := range c.patterns {
			pats = append(pats, []byte(p))
		}
		_, err := NewPatternSet(pats)
		if errors.Cause(err) != c.expected {
			t.Errorf("case %d: expected error %v, results: %v", i, c.expected, err)
		}
	}

	ps, _ := NewPatternSet([][]byte{[]byte("ACGT")})
	for m, ok := range map[int]bool{-1: false, 0: true, 4: true, 5: false} {
		if err := ps.CheckMismatches(m); (err == nil) != ok {
			t.Errorf("%d mismatches: unexpected result: %v", m, err)
		}
	}
}
