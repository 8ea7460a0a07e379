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
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/offscan/OffScan/offscan/bit4"
	"github.com/offscan/OffScan/offscan/genome"
	"github.com/shenwei356/bio/seq"
	"github.com/spf13/cobra"
)

var subseqCmd = &cobra.Command{
	Use:   "subseq",
	Short: "Extract subsequence via chromosome name, position and strand",
	Long: `Extract subsequence via chromosome name, position and strand

Attention:
  1. Bases are decoded from the search encoding, so lower-case bases become
     upper-case, and all unknown bases (non-ACGT letters) become N.
  2. The end position is truncated to the chromosome length.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)
		seq.ValidateSeq = false

		// ------------------------------

		file := getFlagString(cmd, "genome")
		if file == "" {
			checkError(fmt.Errorf("flag -g/--genome needed"))
		}

		chrom := getFlagString(cmd, "chrom")
		if chrom == "" {
			checkError(fmt.Errorf("flag -n/--chrom needed"))
		}

		var reRegion = regexp.MustCompile(`^\d+:\d+$`)

		region := getFlagString(cmd, "region")
		if region == "" {
			checkError(fmt.Errorf("flag -r/--region needed"))
		}
		revcom := getFlagBool(cmd, "revcom")

		lineWidth := getFlagNonNegativeInt(cmd, "line-width")

		if !reRegion.MatchString(region) {
			checkError(fmt.Errorf(`invalid region: %s. type "offscan utils subseq -h" for more examples`, region))
		}
		var start, end int
		var err error

		r := strings.Split(region, ":")
		start, err = strconv.Atoi(r[0])
		checkError(err)
		end, err = strconv.Atoi(r[1])
		checkError(err)
		if start <= 0 || end <= 0 {
			checkError(fmt.Errorf("both begin and end position should not be <= 0"))
		}
		if start > end {
			checkError(fmt.Errorf("begin position should be < end position"))
		}

		outFile := getFlagString(cmd, "out-file")

		// ---------------------------------------------------------------

		s, chrLen, err := extractRegion(file, opt.NumCPUs, chrom, start-1, end)
		checkError(err)
		if chrLen < 0 {
			checkError(fmt.Errorf("chromosome not found: %s", chrom))
		}
		if start > chrLen {
			checkError(fmt.Errorf("begin position (%d) is larger than the chromosome length (%d)", start, chrLen))
		}
		if end > chrLen {
			end = chrLen
		}

		// output file handler
		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		_s, err := seq.NewSeq(seq.DNAredundant, s)
		checkError(err)
		strand := '+'
		if revcom {
			_s.RevComInplace()
			strand = '-'
		}

		fmt.Fprintf(outfh, ">%s:%d-%d:%c\n", chrom, start, end, strand)
		outfh.Write(_s.FormatSeq(lineWidth))
		outfh.WriteByte('\n')
	},
}

// extractRegion reads the bases in [start, end) of a chromosome, and returns
// the chromosome length seen, which is -1 if the chromosome is not found.
// Reading stops as soon as the region is covered.
func extractRegion(file string, threads int, chrom string, start, end int) ([]byte, int, error) {
	ch := make(chan *genome.ChromChunk, 4)
	stop := make(chan struct{})
	var errRead error
	go func() {
		errRead = genome.ReadGenome(file, threads, ch, stop)
		close(ch)
	}()

	s := make([]byte, 0, min(end-start, 1<<20))
	chrLen := -1
	var found, stopped bool
	var s0, e0, n int
	for c := range ch {
		if stopped {
			genome.RecycleChromChunk(c)
			continue
		}

		if c.Name != chrom || (found && c.Start == 0) {
			if found { // passed the chromosome
				close(stop)
				stopped = true
			}
			genome.RecycleChromChunk(c)
			continue
		}

		found = true
		chrLen = c.End
		s0, e0 = max(start, c.Start), min(end, c.End)
		if s0 < e0 {
			n = len(s)
			s = append(s, make([]byte, e0-s0)...)
			bit4.MaskToString(s[n:], c.Data, s0-c.Start, e0-s0)
		}
		if c.End >= end {
			close(stop)
			stopped = true
		}
		genome.RecycleChromChunk(c)
	}
	if errRead != nil && errRead != genome.ErrDisconnected {
		return nil, chrLen, errRead
	}
	return s, chrLen, nil
}

func init() {
	utilsCmd.AddCommand(subseqCmd)

	subseqCmd.Flags().StringP("genome", "g", "",
		formatFlagUsage(`Genome, a .2bit file, a (gzipped) FASTA file, or a directory of FASTA files.`))

	subseqCmd.Flags().StringP("chrom", "n", "",
		formatFlagUsage(`Chromosome name.`))

	subseqCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports the ".gz" suffix ("-" for stdout).`))

	subseqCmd.Flags().StringP("region", "r", "",
		formatFlagUsage(`Region of the subsequence (1-based), e.g., 101:123.`))

	subseqCmd.Flags().BoolP("revcom", "R", false,
		formatFlagUsage("Extract subsequence on the negative strand."))

	subseqCmd.Flags().IntP("line-width", "w", 60,
		formatFlagUsage("Line width of sequence (0 for no wrap)."))

	subseqCmd.SetUsageTemplate(usageTemplate(""))
}
