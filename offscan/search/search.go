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

// Package search finds all occurrences of a set of equal-length patterns,
// on both strands and with up to a number of mismatches, in a stream of
// genome chunks.
//
// Chunks are grouped into batches (Aggregate), batches are scanned by a
// Backend with a bit-parallel sliding window, and the raw hits are mapped
// back to chromosome coordinates (Resolver). Stages are connected by small
// bounded channels, so a slow stage blocks the ones before it.
package search

import (
	"runtime"
	"sync"

	"github.com/offscan/OffScan/offscan/genome"
	"github.com/pkg/errors"
)

// ErrDisconnected means the consumer of a channel has stopped.
var ErrDisconnected = genome.ErrDisconnected

// Options contains the options of a search.
type Options struct {
	Threads        int    // number of goroutines of the backend, 0 for all CPUs
	MaxMismatches  int    // maximum number of mismatches
	Device         string // "C" or "G"
	ChunksPerBatch int    // 0 for ChunksPerSearch
	QueueSize      int    // capacity of the channels between stages, 0 for 4
	Filter         []byte // optional exact filter, e.g., PAM
}

// DefaultOptions is the default Options.
var DefaultOptions = Options{
	Threads:        runtime.NumCPU(),
	MaxMismatches:  0,
	Device:         "C",
	ChunksPerBatch: ChunksPerSearch,
	QueueSize:      4,
}

// Pipeline connects the stages of a search.
type Pipeline struct {
	opt      *Options
	ps       *PatternSet
	backend  Backend
	resolver *Resolver

	stop     chan struct{}
	stopOnce sync.Once
}

// NewPipeline checks the options and creates a Pipeline.
func NewPipeline(opt *Options, ps *PatternSet) (*Pipeline, error) {
	o := *opt
	if o.ChunksPerBatch == 0 {
		o.ChunksPerBatch = ChunksPerSearch
	}
	if o.ChunksPerBatch < 2 || o.ChunksPerBatch > ChunksPerSearch {
		return nil, errors.Errorf("search: chunks per batch should be in range of [2, %d]: %d",
			ChunksPerSearch, o.ChunksPerBatch)
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 4
	}

	if err := ps.CheckMismatches(o.MaxMismatches); err != nil {
		return nil, err
	}

	backend, err := NewBackend(o.Device, ps, o.MaxMismatches, o.Threads)
	if err != nil {
		return nil, err
	}

	resolver, err := NewResolver(ps, o.Filter)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		opt:      &o,
		ps:       ps,
		backend:  backend,
		resolver: resolver,
		stop:     make(chan struct{}),
	}, nil
}

// Backend returns the backend in use.
func (p *Pipeline) Backend() Backend {
	return p.backend
}

// Stop tells all stages to stop. It is safe to call it more than once.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Done returns a channel closed by Stop, to be passed to genome readers.
func (p *Pipeline) Done() <-chan struct{} {
	return p.stop
}

// Run searches the chunks until the channel is closed, and sends the matches
// of each batch to out. out is not closed.
// It returns the error of the aggregator, or ErrDisconnected if the pipeline
// is stopped. After a failure, chunks are no longer received, so producers
// should also watch Done().
func (p *Pipeline) Run(chunks <-chan *genome.ChromChunk, out chan<- []*Match) error {
	batches := make(chan *Batch, p.opt.QueueSize)
	results := make(chan *BatchResult, p.opt.QueueSize)

	var errAgg error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errAgg = Aggregate(chunks, batches, p.opt.ChunksPerBatch, p.stop)
		if errAgg != nil {
			p.Stop()
		}
	}()

	go func() {
		p.backend.Run(batches, results)
		close(results)
	}()

	var errOut error
	var matches []*Match
	for res := range results {
		if errOut == nil {
			matches = p.resolver.Resolve(res)
		}
		RecycleBatch(res.Batch)

		if errOut != nil || len(matches) == 0 {
			continue
		}
		select {
		case out <- matches:
		case <-p.stop:
			errOut = ErrDisconnected
		}
	}

	wg.Wait()
	if errAgg != nil {
		return errAgg
	}
	return errOut
}

// ReadFunc sends genome chunks to ch until done, or stop is closed.
type ReadFunc func(ch chan<- *genome.ChromChunk, stop <-chan struct{}) error

// RunReader runs a genome reader in front of the pipeline.
// The error of the reader comes first.
func (p *Pipeline) RunReader(read ReadFunc, out chan<- []*Match) error {
	chunks := make(chan *genome.ChromChunk, p.opt.QueueSize)

	var errRead error
	done := make(chan struct{})
	go func() {
		errRead = read(chunks, p.stop)
		if errRead != nil && errRead != ErrDisconnected {
			p.Stop()
		}
		close(chunks)
		close(done)
	}()

	err := p.Run(chunks, out)
	<-done

	if errRead != nil && errRead != ErrDisconnected {
		return errRead
	}
	if err != nil {
		return err
	}
	return errRead
}

// Search searches a stream of chunks with the given options.
// If it fails, the remaining chunks are received and dropped in the
// background until the channel is closed, so the producer never blocks.
func Search(opt *Options, ps *PatternSet, chunks <-chan *genome.ChromChunk, out chan<- []*Match) error {
	p, err := NewPipeline(opt, ps)
	if err != nil {
		go drain(chunks)
		return err
	}
	if err = p.Run(chunks, out); err != nil {
		go drain(chunks)
	}
	return err
}

func drain(chunks <-chan *genome.ChromChunk) {
	for c := range chunks {
		genome.RecycleChromChunk(c)
	}
}

// SearchGenome searches a genome file or directory with the given options.
func SearchGenome(opt *Options, ps *PatternSet, path string, out chan<- []*Match) error {
	p, err := NewPipeline(opt, ps)
	if err != nil {
		return err
	}
	return p.RunReader(func(ch chan<- *genome.ChromChunk, stop <-chan struct{}) error {
		return genome.ReadGenome(path, p.opt.Threads, ch, stop)
	}, out)
}
