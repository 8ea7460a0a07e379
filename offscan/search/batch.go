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
	"sync"

	"github.com/offscan/OffScan/offscan/genome"
	"github.com/pkg/errors"
)

// ChunksPerSearch is the default number of chunks in a Batch.
const ChunksPerSearch = 64

// SearchChunkSize is the number of nucleotides of a full Batch.
const SearchChunkSize = ChunksPerSearch * genome.ChunkSize

// ErrUnorderedChunks means a chunk does not continue the previous one,
// and does not start a new chromosome.
var ErrUnorderedChunks = errors.New("search: chunks are not contiguous")

// Batch is a group of consecutive chunks, with their data concatenated,
// chunk i taking the nucleotides [i*ChunkSize, (i+1)*ChunkSize).
// The last chunk of a full batch is also the first chunk of the next batch.
type Batch struct {
	Data   []byte
	Names  []string
	Starts []int
	Ends   []int

	Capacity int // number of chunk slots
}

// Len returns the number of chunks.
func (b *Batch) Len() int {
	return len(b.Starts)
}

// Full tells whether all slots are used. The last chunk of a full batch
// is searched in the next batch.
func (b *Batch) Full() bool {
	return len(b.Starts) == b.Capacity
}

// SearchableChunks returns the number of leading chunks whose matches are
// reported in this batch.
func (b *Batch) SearchableChunks() int {
	if b.Full() {
		return b.Len() - 1
	}
	return b.Len()
}

var poolBatches = make(map[int]*sync.Pool, 1)
var poolBatchesLock sync.Mutex

func batchPool(capacity int) *sync.Pool {
	poolBatchesLock.Lock()
	defer poolBatchesLock.Unlock()

	pool, ok := poolBatches[capacity]
	if !ok {
		pool = &sync.Pool{New: func() interface{} {
			return &Batch{
				Data:     make([]byte, capacity*genome.ChunkSizeBytes),
				Names:    make([]string, 0, capacity),
				Starts:   make([]int, 0, capacity),
				Ends:     make([]int, 0, capacity),
				Capacity: capacity,
			}
		}}
		poolBatches[capacity] = pool
	}
	return pool
}

// NewBatch returns an empty batch with cleared data.
func NewBatch(capacity int) *Batch {
	b := batchPool(capacity).Get().(*Batch)
	clear(b.Data)
	b.Names = b.Names[:0]
	b.Starts = b.Starts[:0]
	b.Ends = b.Ends[:0]
	return b
}

// RecycleBatch puts a batch back to the pool.
func RecycleBatch(b *Batch) {
	if b == nil {
		return
	}
	clear(b.Names)
	batchPool(b.Capacity).Put(b)
}

// Add appends a chunk.
func (b *Batch) Add(c *genome.ChromChunk) {
	i := b.Len()
	if i == b.Capacity {
		panic("search: batch is full")
	}
	copy(b.Data[i*genome.ChunkSizeBytes:(i+1)*genome.ChunkSizeBytes], c.Data)
	b.Names = append(b.Names, c.Name)
	b.Starts = append(b.Starts, c.Start)
	b.Ends = append(b.Ends, c.End)
}

func recycleChunks(chunks []*genome.ChromChunk) {
	for _, c := range chunks {
		genome.RecycleChromChunk(c)
	}
}

// Aggregate groups chunks into batches of perBatch chunks, the last chunk of
// a batch being the first one of the next batch. The remaining chunks are
// sent as a short batch when chunks is closed.
// It closes batches before returning.
//
// Once stop is closed, it returns ErrDisconnected, or nil if only the last
// batch was not sent.
func Aggregate(chunks <-chan *genome.ChromChunk, batches chan<- *Batch, perBatch int, stop <-chan struct{}) error {
	defer close(batches)

	if perBatch < 2 {
		panic("search: at least 2 chunks per batch needed")
	}

	buf := make([]*genome.ChromChunk, 0, perBatch)
	send := func() bool {
		b := NewBatch(perBatch)
		for _, c := range buf {
			b.Add(c)
		}
		select {
		case batches <- b:
			return true
		case <-stop:
			RecycleBatch(b)
			return false
		}
	}

	var lastName string
	var lastEnd int
	var first = true
	for c := range chunks {
		if c.Start != 0 && (first || c.Name != lastName || c.Start != lastEnd) {
			err := errors.Wrapf(ErrUnorderedChunks, "%s:%d-%d after %s:%d", c.Name, c.Start, c.End, lastName, lastEnd)
			genome.RecycleChromChunk(c)
			recycleChunks(buf)
			return err
		}
		first = false
		lastName, lastEnd = c.Name, c.End

		buf = append(buf, c)
		if len(buf) < perBatch {
			continue
		}

		if !send() {
			recycleChunks(buf)
			return ErrDisconnected
		}
		recycleChunks(buf[:perBatch-1])
		buf[0] = buf[perBatch-1]
		buf = buf[:1]
	}

	if len(buf) > 0 {
		// the consumer might be gone already, nothing is lost
		send()
	}
	recycleChunks(buf)
	return nil
}
