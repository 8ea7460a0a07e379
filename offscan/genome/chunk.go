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

package genome

import (
	"sync"

	"github.com/pkg/errors"
)

// ChunkSize is the maximum number of nucleotides in a ChromChunk.
const ChunkSize = 1 << 16

// ChunkSizeBytes is the size of the 4-bit packed data of a ChromChunk.
const ChunkSizeBytes = ChunkSize / 2

// BufferSize is size of reading and writing buffer
var BufferSize = 65536 // os.Getpagesize()

// ErrDisconnected means the consumer of a chunk channel has stopped.
var ErrDisconnected = errors.New("genome: chunk consumer disconnected")

// ChromChunk is a window of at most ChunkSize nucleotides of one chromosome,
// in the 4-bit channel-mask format.
//
// Chunks of a chromosome are sent in order, each one starting where the
// previous one ended, and Start == 0 marks the first chunk of a chromosome.
// All chunks of a chromosome share the same Name string.
type ChromChunk struct {
	Name  string
	Start int // 0-based start in the chromosome
	End   int // exclusive end
	Data  []byte
}

// Size returns the number of nucleotides in the chunk.
func (c *ChromChunk) Size() int {
	return c.End - c.Start
}

var poolChromChunk = &sync.Pool{New: func() interface{} {
	return &ChromChunk{
		Data: make([]byte, ChunkSizeBytes),
	}
}}

// NewChromChunk returns an empty chunk starting at start, with cleared data.
func NewChromChunk(name string, start int) *ChromChunk {
	c := poolChromChunk.Get().(*ChromChunk)
	c.Name = name
	c.Start = start
	c.End = start
	clear(c.Data)
	return c
}

// RecycleChromChunk puts a chunk back to the pool. It must not be used after that.
func RecycleChromChunk(c *ChromChunk) {
	if c == nil {
		return
	}
	c.Name = ""
	poolChromChunk.Put(c)
}

// sendChunk blocks until the chunk is accepted, or the consumer stops.
// A nil stop channel never fires.
func sendChunk(ch chan<- *ChromChunk, c *ChromChunk, stop <-chan struct{}) error {
	select {
	case ch <- c:
		return nil
	case <-stop:
		RecycleChromChunk(c)
		return ErrDisconnected
	}
}
