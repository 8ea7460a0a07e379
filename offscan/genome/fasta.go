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
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/iafan/cwalk"
	"github.com/offscan/OffScan/offscan/bit4"
	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
	"github.com/twotwotwo/sorts/sortutil"
)

// ErrNoHeader means sequence lines appear before the first header line.
var ErrNoHeader = errors.New("fasta: sequence data before the first header line")

// ErrLineTooLong means a sequence line is longer than ChunkSize.
var ErrLineTooLong = errors.New("fasta: sequence line too long")

// ErrNoFiles means no genome file is found in a directory.
var ErrNoFiles = errors.New("genome: no genome files found")

// DefaultFastaPattern matches the names of (compressed) FASTA files.
var DefaultFastaPattern = regexp.MustCompile(`(?i)\.(f[aq]|fast[aq]|fna|fas)(\.gz|\.xz|\.zst|\.bz2)?$`)

// DefaultTwoBitPattern matches the names of .2bit files.
var DefaultTwoBitPattern = regexp.MustCompile(`(?i)\.2bit(\.gz)?$`)

// fastaChunker accumulates sequence lines of one chromosome into chunks.
// Lines are split across chunks, so every chunk except the last one of a
// chromosome holds exactly ChunkSize bases.
type fastaChunker struct {
	ch   chan<- *ChromChunk
	stop <-chan struct{}

	name string
	pos  int         // bases read of the current chromosome
	c    *ChromChunk // active chunk, nil if empty
}

func (f *fastaChunker) start(name string) error {
	if err := f.flush(); err != nil {
		return err
	}
	f.name = name
	f.pos = 0
	return nil
}

func (f *fastaChunker) append(line []byte) error {
	var n int
	var err error
	for len(line) > 0 {
		if f.c == nil {
			f.c = NewChromChunk(f.name, f.pos)
		}
		n = min(len(line), ChunkSize-f.c.Size())
		bit4.StringToMask(f.c.Data, line[:n], f.c.Size(), false)
		f.c.End += n
		f.pos += n
		line = line[n:]

		if f.c.Size() == ChunkSize {
			if err = f.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *fastaChunker) flush() error {
	if f.c == nil {
		return nil
	}
	c := f.c
	f.c = nil
	return sendChunk(f.ch, c, f.stop)
}

// ReadFasta reads a (optionally compressed) FASTA file and sends its records
// as ChromChunks to ch. The name of a chromosome is the whole header line
// after '>'. Characters other than A/C/G/T are read as unknown bases.
// Records without sequence are skipped.
// It blocks when ch is full, and returns ErrDisconnected once stop is closed.
// ch is not closed.
func ReadFasta(file string, ch chan<- *ChromChunk, stop <-chan struct{}) error {
	fh, err := xopen.Ropen(file)
	if err != nil {
		if err == xopen.ErrNoContent { // empty file
			return nil
		}
		return errors.Wrapf(err, "read fasta file: %s", file)
	}
	defer fh.Close()

	f := &fastaChunker{ch: ch, stop: stop}

	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, BufferSize), ChunkSize<<2)

	var line []byte
	var header bool
	var lineNum int
	for scanner.Scan() {
		lineNum++
		line = scanner.Bytes()
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}

		if len(line) > 0 && line[0] == '>' {
			header = true
			err = f.start(string(line[1:]))
		} else if len(line) == 0 {
			continue
		} else if !header {
			return errors.Wrapf(ErrNoHeader, "read fasta file: %s, line %d", file, lineNum)
		} else if len(line) > ChunkSize {
			return errors.Wrapf(ErrLineTooLong, "read fasta file: %s, line %d", file, lineNum)
		} else {
			err = f.append(line)
		}

		if err != nil {
			if err == ErrDisconnected {
				return err
			}
			return errors.Wrapf(err, "read fasta file: %s", file)
		}
	}
	if err = scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			err = ErrLineTooLong
		}
		return errors.Wrapf(err, "read fasta file: %s, line %d", file, lineNum+1)
	}

	return f.flush()
}

// ListFiles returns the files in a directory, recursively, whose names match
// the pattern, in lexicographic order.
func ListFiles(dir string, pattern *regexp.Regexp, threads int) ([]string, error) {
	if threads < 1 {
		threads = 1
	}

	files := make([]string, 0, 64)
	var mu sync.Mutex

	cwalk.NumWorkers = threads
	err := cwalk.WalkWithSymlinks(dir, func(_path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && pattern.MatchString(info.Name()) {
			mu.Lock()
			files = append(files, filepath.Join(dir, _path))
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list files: %s", dir)
	}

	sortutil.Strings(files)
	return files, nil
}

// ReadFastaFolder reads all FASTA files in a directory matched by pattern
// (DefaultFastaPattern if nil), in lexicographic order, into the same channel.
func ReadFastaFolder(dir string, pattern *regexp.Regexp, threads int,
	ch chan<- *ChromChunk, stop <-chan struct{}) error {

	if pattern == nil {
		pattern = DefaultFastaPattern
	}
	files, err := ListFiles(dir, pattern, threads)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Wrapf(ErrNoFiles, "read fasta folder: %s", dir)
	}

	for _, file := range files {
		if err = ReadFasta(file, ch, stop); err != nil {
			return err
		}
	}
	return nil
}

// IsTwoBit tells whether a file is a .2bit file, by the file name.
func IsTwoBit(file string) bool {
	return DefaultTwoBitPattern.MatchString(file)
}

// ReadGenome reads a genome from a directory of FASTA files, a .2bit file,
// or a FASTA file, and sends chunks to ch.
func ReadGenome(path string, threads int, ch chan<- *ChromChunk, stop <-chan struct{}) error {
	if path != "-" {
		info, err := os.Stat(path)
		if err != nil {
			return errors.Wrapf(err, "read genome: %s", path)
		}
		if info.IsDir() {
			return ReadFastaFolder(path, nil, threads, ch, stop)
		}
	}

	if IsTwoBit(strings.TrimSpace(path)) {
		return ReadTwoBit(path, ch, stop)
	}
	return ReadFasta(path, ch, stop)
}
