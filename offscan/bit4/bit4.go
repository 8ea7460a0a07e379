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

// Package bit4 converts nucleotide text into the 4-bit channel-mask format
// used by the search engine, and back.
//
// Each nucleotide takes one nibble with one bit per base:
//
//	T: 0b0001, C: 0b0010, A: 0b0100, G: 0b1000
//
// An IUPAC ambiguity code is the OR of its bases, and 0 means unknown or masked,
// which matches nothing. Two nibbles are packed into a byte, the even index in
// the low nibble and the odd index in the high nibble.
package bit4

import (
	"encoding/binary"
	"fmt"
)

// Channel masks of the four bases.
const (
	T uint8 = 0x1
	C uint8 = 0x2
	A uint8 = 0x4
	G uint8 = 0x8
)

// MaxMask is the largest valid channel mask.
const MaxMask uint8 = 0xf

// char -> mask, index 0 without and index 1 with ambiguity codes.
var char2mask [2][256]uint8

// mask -> canonical upper-case letter.
var mask2char [16]byte

// mask -> complementary mask.
var mask2comp [16]uint8

// 2-bit byte (4 bases, T,C,A,G = 0,1,2,3, first base in the highest bits)
// -> 4 channel masks in little-endian order.
var twoBit2mask [256]uint16

func init() {
	bases := map[byte]uint8{'A': A, 'C': C, 'G': G, 'T': T}
	ambiguous := map[byte]uint8{
		'R': A | G,
		'Y': C | T,
		'S': G | C,
		'W': A | T,
		'K': G | T,
		'M': A | C,
		'B': C | G | T,
		'D': A | G | T,
		'H': A | C | T,
		'V': A | C | G,
		'N': A | C | G | T,
	}
	var lower byte
	for c, m := range bases {
		lower = c + 'a' - 'A'
		char2mask[0][c], char2mask[0][lower] = m, m
		char2mask[1][c], char2mask[1][lower] = m, m
	}
	for c, m := range ambiguous {
		lower = c + 'a' - 'A'
		char2mask[1][c], char2mask[1][lower] = m, m
	}

	// the smallest letter wins, though every valid mask has exactly one letter.
	for c := byte('Z'); c >= 'A'; c-- {
		if m := char2mask[1][c]; m != 0 {
			mask2char[m] = c
		}
	}
	mask2char[0] = 'N'

	for m := uint8(0); m < 16; m++ {
		mask2comp[m] = ((m << 2) | (m >> 2)) & 0xf
	}

	var v uint16
	for i := 0; i < 256; i++ {
		v = 0
		for j := 0; j < 4; j++ {
			v |= uint16(1<<((i>>((3-j)<<1))&3)) << (j << 2)
		}
		twoBit2mask[i] = v
	}
}

// Cdiv returns ceil(x/y).
func Cdiv(x, y int) int {
	return (x + y - 1) / y
}

// Roundup rounds x up to a multiple of y.
func Roundup(x, y int) int {
	return Cdiv(x, y) * y
}

// Mask returns the channel mask of a character.
func Mask(c byte, ambiguity bool) uint8 {
	if ambiguity {
		return char2mask[1][c]
	}
	return char2mask[0][c]
}

// StringToMask writes the channel masks of text into dst, starting at the
// nucleotide position offset. Masks are merged into dst with bitwise OR, so
// successive calls can append adjacent fragments into one buffer.
// Characters other than A/C/G/T (and IUPAC codes when ambiguity is true)
// are written as 0.
func StringToMask(dst []byte, text []byte, offset int, ambiguity bool) {
	if len(text) == 0 {
		return
	}
	if need := Cdiv(offset+len(text), 2); len(dst) < need {
		panic(fmt.Sprintf("bit4: destination too small: %d < %d", len(dst), need))
	}

	tbl := &char2mask[0]
	if ambiguity {
		tbl = &char2mask[1]
	}

	i := 0
	// leading odd nibble
	if offset&1 == 1 {
		dst[offset>>1] |= tbl[text[0]] << 4
		i = 1
		offset++
	}

	// byte-aligned bulk
	b := offset >> 1
	n := len(text)
	for ; i+1 < n; i += 2 {
		dst[b] |= tbl[text[i]] | tbl[text[i+1]]<<4
		b++
	}

	// trailing odd nibble
	if i < n {
		dst[b] |= tbl[text[i]]
	}
}

// MaskToString decodes n nucleotides starting at the nucleotide position offset
// of packed into upper-case letters. Mask 0 is decoded as 'N'.
func MaskToString(dst []byte, packed []byte, offset int, n int) {
	if n <= 0 {
		return
	}
	if len(dst) < n {
		panic(fmt.Sprintf("bit4: destination too small: %d < %d", len(dst), n))
	}
	if need := Cdiv(offset+n, 2); len(packed) < need {
		panic(fmt.Sprintf("bit4: source too small: %d < %d", len(packed), need))
	}

	i := 0
	if offset&1 == 1 {
		dst[0] = mask2char[packed[offset>>1]>>4]
		i = 1
		offset++
	}

	b := offset >> 1
	var v byte
	for ; i+1 < n; i += 2 {
		v = packed[b]
		dst[i] = mask2char[v&0xf]
		dst[i+1] = mask2char[v>>4]
		b++
	}

	if i < n {
		dst[i] = mask2char[packed[b]&0xf]
	}
}

// TwoBitToMask expands n bases of 2-bit packed data (4 bases per byte,
// T,C,A,G = 0,1,2,3, the first base in the two highest bits) into channel
// masks. dst must hold 2*Cdiv(n,4) bytes, i.e. whole 16-bit groups.
// Positions of the last group beyond n are cleared to 0.
func TwoBitToMask(dst []byte, src []byte, n int) {
	nBlocks := Cdiv(n, 4)
	if len(dst) < nBlocks<<1 {
		panic(fmt.Sprintf("bit4: destination too small for %d bases: %d bytes", n, len(dst)))
	}
	if len(src) < nBlocks {
		panic(fmt.Sprintf("bit4: source too small for %d bases: %d bytes", n, len(src)))
	}

	for i, v := range src[:nBlocks] {
		binary.LittleEndian.PutUint16(dst[i<<1:], twoBit2mask[v])
	}

	if n&3 != 0 {
		FillMaskRange(dst, 0, n, nBlocks<<2)
	}
}

// FillMaskRange sets the nucleotide positions [start, end) of buf to value,
// leaving the other nibble of partially covered bytes unchanged.
func FillMaskRange(buf []byte, value uint8, start, end int) {
	if value > MaxMask {
		panic(fmt.Sprintf("bit4: invalid mask value: %d", value))
	}
	if start >= end {
		return
	}

	if start&1 == 1 {
		buf[start>>1] = buf[start>>1]&0x0f | value<<4
		start++
	}
	if start < end && end&1 == 1 {
		end--
		buf[end>>1] = buf[end>>1]&0xf0 | value
	}

	v := value | value<<4
	for i := start >> 1; i < end>>1; i++ {
		buf[i] = v
	}
}

// IsAmbiguous tells whether c is a nucleotide or an IUPAC ambiguity code.
func IsAmbiguous(c byte) bool {
	return char2mask[1][c] != 0
}

// IsAmbiguousString tells whether all the characters of s are
// nucleotides or IUPAC ambiguity codes.
func IsAmbiguousString(s []byte) bool {
	for _, c := range s {
		if char2mask[1][c] == 0 {
			return false
		}
	}
	return true
}

func complementChar(c byte) byte {
	m := char2mask[1][c]
	if m == 0 {
		return c
	}
	// keep the case of the input
	return mask2char[mask2comp[m]] | c&0x20
}

// ReverseComplementInplace reverse-complements s in place.
// IUPAC codes are complemented, unknown characters are kept, and so is the case.
func ReverseComplementInplace(s []byte) {
	n := len(s)
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = complementChar(s[j]), complementChar(s[i])
	}
	if n&1 == 1 {
		s[n>>1] = complementChar(s[n>>1])
	}
}

// ReverseComplement returns the reverse complement of s.
func ReverseComplement(s []byte) []byte {
	r := make([]byte, len(s))
	copy(r, s)
	ReverseComplementInplace(r)
	return r
}

// Compare tells whether a genome base and a pattern base are compatible.
// The genome base is read without ambiguity codes, so N in the genome never
// matches.
func Compare(genome, pattern byte) bool {
	return char2mask[0][genome]&char2mask[1][pattern] != 0
}
