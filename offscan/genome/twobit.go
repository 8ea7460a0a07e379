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
	"encoding/binary"
	"io"
	"os"

	"github.com/offscan/OffScan/offscan/bit4"
	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
	"github.com/twotwotwo/sorts"
)

// TwoBitMagic is the signature of a UCSC .2bit file.
const TwoBitMagic uint32 = 0x1A412743

// the signature read from a file written on a machine of the other byte order.
const twoBitMagicSwapped uint32 = 0x4327411A

// TwoBitVersion is the only supported version.
const TwoBitVersion uint32 = 0

// ErrInvalidFileFormat means invalid file format.
var ErrInvalidFileFormat = errors.New("2bit: invalid binary format")

// ErrVersionMismatch means the version of the file is not supported.
var ErrVersionMismatch = errors.New("2bit: only version 0 is supported")

// ErrBrokenFile means the file is not complete.
var ErrBrokenFile = errors.New("2bit: broken file")

// ErrNameTooLong means a sequence name can not be saved in a .2bit file.
var ErrNameTooLong = errors.New("2bit: sequence name longer than 255 bytes")

// SeqInfo is the summary of one sequence in a .2bit file.
type SeqInfo struct {
	Name       string
	Len        int // number of bases
	NBlocks    int // number of N-blocks
	NBases     int // bases in N-blocks
	MaskBlocks int // number of soft-masked blocks
}

// nBlock is an interval [start, end) of unknown bases.
type nBlock struct {
	start, end int
}

type nBlocks []nBlock

func (s nBlocks) Len() int           { return len(s) }
func (s nBlocks) Less(i, j int) bool { return s[i].start < s[j].start }
func (s nBlocks) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// twoBitRecord is the metadata of a sequence, in front of its packed bases.
type twoBitRecord struct {
	size       int
	nBlocks    nBlocks
	maskBlocks int
}

type twoBitReader struct {
	r   io.Reader
	bo  binary.ByteOrder
	buf []byte
}

func newTwoBitReader(r io.Reader) *twoBitReader {
	return &twoBitReader{r: r, bo: binary.LittleEndian, buf: make([]byte, 256)}
}

func brokenFile(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrBrokenFile
	}
	return err
}

func (r *twoBitReader) uint32() (uint32, error) {
	if _, err := io.ReadFull(r.r, r.buf[:4]); err != nil {
		return 0, brokenFile(err)
	}
	return r.bo.Uint32(r.buf[:4]), nil
}

// maxPrealloc caps the capacity allocated from counts read from a file.
// Larger lists grow as values are read.
const maxPrealloc = 1 << 16

func (r *twoBitReader) uint32s(n uint32) ([]uint32, error) {
	vals := make([]uint32, 0, min(n, maxPrealloc))
	var v uint32
	var err error
	for i := uint32(0); i < n; i++ {
		v, err = r.uint32()
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

func (r *twoBitReader) skip(n int64) error {
	_, err := io.CopyN(io.Discard, r.r, n)
	return brokenFile(err)
}

// header checks the signature and version and returns the sequence names.
func (r *twoBitReader) header() ([]string, error) {
	magic, err := r.uint32()
	if err != nil {
		return nil, err
	}
	switch magic {
	case TwoBitMagic:
	case twoBitMagicSwapped:
		r.bo = binary.BigEndian
	default:
		return nil, ErrInvalidFileFormat
	}

	version, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if version != TwoBitVersion {
		return nil, ErrVersionMismatch
	}

	count, err := r.uint32()
	if err != nil {
		return nil, err
	}
	// reserved
	if err = r.skip(4); err != nil {
		return nil, err
	}

	names := make([]string, 0, min(count, maxPrealloc))
	var n int
	for i := uint32(0); i < count; i++ {
		if _, err = io.ReadFull(r.r, r.buf[:1]); err != nil {
			return nil, brokenFile(err)
		}
		n = int(r.buf[0])
		if _, err = io.ReadFull(r.r, r.buf[:n]); err != nil {
			return nil, brokenFile(err)
		}
		names = append(names, string(r.buf[:n]))

		// absolute offset of the record, records are read in order.
		if err = r.skip(4); err != nil {
			return nil, err
		}
	}
	return names, nil
}

// record reads the metadata of the next sequence, leaving the reader at the
// first byte of the packed bases.
func (r *twoBitReader) record() (*twoBitRecord, error) {
	size, err := r.uint32()
	if err != nil {
		return nil, err
	}

	nCount, err := r.uint32()
	if err != nil {
		return nil, err
	}
	starts, err := r.uint32s(nCount)
	if err != nil {
		return nil, err
	}
	sizes, err := r.uint32s(nCount)
	if err != nil {
		return nil, err
	}
	blocks := make(nBlocks, len(starts))
	for i, s := range starts {
		blocks[i] = nBlock{start: int(s), end: int(s) + int(sizes[i])}
	}
	sorts.Quicksort(blocks)

	maskCount, err := r.uint32()
	if err != nil {
		return nil, err
	}
	// mask starts and sizes, and the reserved field
	if err = r.skip(int64(maskCount)*8 + 4); err != nil {
		return nil, err
	}

	return &twoBitRecord{size: int(size), nBlocks: blocks, maskBlocks: int(maskCount)}, nil
}

// ReadTwoBit reads a (optionally gzipped) .2bit file and sends its sequences
// as ChromChunks to ch, in the order of the file.
// N-blocks are set to the mask 0, soft-masking is ignored.
// It blocks when ch is full, and returns ErrDisconnected once stop is closed.
// ch is not closed.
func ReadTwoBit(file string, ch chan<- *ChromChunk, stop <-chan struct{}) error {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return errors.Wrapf(err, "read 2bit file: %s", file)
	}
	defer fh.Close()

	r := newTwoBitReader(fh)
	names, err := r.header()
	if err != nil {
		return errors.Wrapf(err, "read 2bit file: %s", file)
	}

	raw := make([]byte, ChunkSize>>2)
	var rec *twoBitRecord
	for _, name := range names {
		rec, err = r.record()
		if err != nil {
			return errors.Wrapf(err, "read 2bit file: %s, sequence: %s", file, name)
		}

		err = r.chunks(name, rec, raw, ch, stop)
		if err != nil {
			if err == ErrDisconnected {
				return err
			}
			return errors.Wrapf(err, "read 2bit file: %s, sequence: %s", file, name)
		}
	}
	return nil
}

// chunks decodes the packed bases of a sequence ChunkSize bases at a time.
func (r *twoBitReader) chunks(name string, rec *twoBitRecord, raw []byte,
	ch chan<- *ChromChunk, stop <-chan struct{}) error {

	blocks := rec.nBlocks
	var n, s, e, j int
	var c *ChromChunk
	var err error
	for pos := 0; pos < rec.size; pos += n {
		n = min(rec.size-pos, ChunkSize)
		if _, err = io.ReadFull(r.r, raw[:bit4.Cdiv(n, 4)]); err != nil {
			return brokenFile(err)
		}

		c = NewChromChunk(name, pos)
		c.End = pos + n
		bit4.TwoBitToMask(c.Data, raw, n)

		// the last block of the previous window might extend into this one
		if j > 0 {
			j--
		}
		for ; j < len(blocks); j++ {
			s = blocks[j].start - pos
			if s > n {
				break
			}
			e = blocks[j].end - pos
			bit4.FillMaskRange(c.Data, 0, max(s, 0), min(max(e, 0), n))
		}

		if err = sendChunk(ch, c, stop); err != nil {
			return err
		}
	}
	return nil
}

// ReadTwoBitInfo returns the summary of all sequences in a .2bit file,
// without decoding the bases.
func ReadTwoBitInfo(file string) ([]SeqInfo, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, errors.Wrapf(err, "read 2bit file: %s", file)
	}
	defer fh.Close()

	r := newTwoBitReader(fh)
	names, err := r.header()
	if err != nil {
		return nil, errors.Wrapf(err, "read 2bit file: %s", file)
	}

	infos := make([]SeqInfo, 0, len(names))
	var rec *twoBitRecord
	for _, name := range names {
		rec, err = r.record()
		if err != nil {
			return nil, errors.Wrapf(err, "read 2bit file: %s, sequence: %s", file, name)
		}

		info := SeqInfo{Name: name, Len: rec.size, NBlocks: len(rec.nBlocks), MaskBlocks: rec.maskBlocks}
		for _, b := range rec.nBlocks {
			info.NBases += b.end - b.start
		}
		infos = append(infos, info)

		if err = r.skip(int64(bit4.Cdiv(rec.size, 4))); err != nil {
			return nil, errors.Wrapf(err, "read 2bit file: %s, sequence: %s", file, name)
		}
	}
	return infos, nil
}

// ------------------------------------------------------------------------

// UCSC base codes: T=0, C=1, A=2, G=3, 4 for others.
var base2twoBit [256]uint8

func init() {
	for i := range base2twoBit {
		base2twoBit[i] = 4
	}
	for i, b := range []byte("TCAG") {
		base2twoBit[b] = uint8(i)
		base2twoBit[b+'a'-'A'] = uint8(i)
	}
}

// TwoBitWriter saves DNA sequences into a UCSC .2bit file.
// Records are kept in memory until Close, as the file index precedes them.
type TwoBitWriter struct {
	file string
	fh   *os.File
	w    *bufio.Writer

	names   []string
	records [][]byte

	buf []byte
}

// NewTwoBitWriter creates a new TwoBitWriter.
func NewTwoBitWriter(file string) (*TwoBitWriter, error) {
	w := &TwoBitWriter{
		file:    file,
		names:   make([]string, 0, 128),
		records: make([][]byte, 0, 128),
		buf:     make([]byte, 4),
	}
	var err error
	w.fh, err = os.Create(file)
	if err != nil {
		return nil, err
	}
	w.w = bufio.NewWriterSize(w.fh, BufferSize)
	return w, nil
}

// runs returns the [start, end) intervals of consecutive bases accepted by in.
func runs(s []byte, in func(byte) bool) []nBlock {
	var blocks []nBlock
	start := -1
	for i, b := range s {
		if in(b) {
			if start < 0 {
				start = i
			}
		} else if start >= 0 {
			blocks = append(blocks, nBlock{start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		blocks = append(blocks, nBlock{start: start, end: len(s)})
	}
	return blocks
}

func appendUint32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

func appendBlocks(b []byte, blocks []nBlock) []byte {
	b = appendUint32(b, uint32(len(blocks)))
	for _, blk := range blocks {
		b = appendUint32(b, uint32(blk.start))
	}
	for _, blk := range blocks {
		b = appendUint32(b, uint32(blk.end-blk.start))
	}
	return b
}

// Write adds one sequence. Bases other than A/C/G/T are saved as N-blocks,
// and lower-case bases as soft-masked blocks.
func (w *TwoBitWriter) Write(name string, s []byte) error {
	if len(name) > 255 {
		return ErrNameTooLong
	}

	nb := runs(s, func(b byte) bool { return base2twoBit[b] == 4 })
	mb := runs(s, func(b byte) bool { return b >= 'a' && b <= 'z' })

	rec := make([]byte, 0, 16+8*(len(nb)+len(mb))+bit4.Cdiv(len(s), 4))
	rec = appendUint32(rec, uint32(len(s)))
	rec = appendBlocks(rec, nb)
	rec = appendBlocks(rec, mb)
	rec = appendUint32(rec, 0) // reserved

	n := len(rec)
	rec = append(rec, make([]byte, bit4.Cdiv(len(s), 4))...)
	packed := rec[n:]
	var code uint8
	for i, b := range s {
		code = base2twoBit[b]
		if code == 4 {
			code = 0
		}
		packed[i>>2] |= code << (6 - (i&3)<<1)
	}

	w.names = append(w.names, name)
	w.records = append(w.records, rec)
	return nil
}

// Close writes all the data and closes the file.
func (w *TwoBitWriter) Close() error {
	buf := w.buf
	put := func(v uint32) error {
		binary.LittleEndian.PutUint32(buf, v)
		_, err := w.w.Write(buf)
		return err
	}

	offset := 16
	for _, name := range w.names {
		offset += 1 + len(name) + 4
	}

	var err error
	for _, v := range []uint32{TwoBitMagic, TwoBitVersion, uint32(len(w.names)), 0} {
		if err = put(v); err != nil {
			return err
		}
	}

	for i, name := range w.names {
		if err = w.w.WriteByte(byte(len(name))); err != nil {
			return err
		}
		if _, err = w.w.WriteString(name); err != nil {
			return err
		}
		if err = put(uint32(offset)); err != nil {
			return err
		}
		offset += len(w.records[i])
	}

	for _, rec := range w.records {
		if _, err = w.w.Write(rec); err != nil {
			return err
		}
	}

	if err = w.w.Flush(); err != nil {
		return err
	}
	return w.fh.Close()
}
