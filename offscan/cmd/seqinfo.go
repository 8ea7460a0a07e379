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
	"strings"

	"github.com/offscan/OffScan/offscan/genome"
	"github.com/spf13/cobra"
)

var seqinfoCmd = &cobra.Command{
	Use:   "seqinfo",
	Short: "Show chromosome names and lengths of a genome",
	Long: `Show chromosome names and lengths of a genome

Input:
  A .2bit file, a (gzipped) FASTA file, or a directory of FASTA files.

Output format:
  Tab-delimited format with 5 columns. The last two columns are only
  available for .2bit files, "-" for others.

    1. chrom,       Chromosome name.
    2. length,      Number of bases.
    3. unknown,     Number of unknown bases (N and other non-ACGT letters).
    4. n_blocks,    Number of blocks of unknown bases.
    5. mask_blocks, Number of soft-masked blocks.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		if len(args) != 1 {
			checkError(fmt.Errorf("one genome file or directory needed"))
		}
		file := args[0]
		outFile := getFlagString(cmd, "out-file")

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		outfh.WriteString("chrom\tlength\tunknown\tn_blocks\tmask_blocks\n")

		if genome.IsTwoBit(file) {
			infos, err := genome.ReadTwoBitInfo(file)
			checkError(err)
			for _, info := range infos {
				fmt.Fprintf(outfh, "%s\t%d\t%d\t%d\t%d\n",
					info.Name, info.Len, info.NBases, info.NBlocks, info.MaskBlocks)
			}
			return
		}

		ch := make(chan *genome.ChromChunk, 4)
		var errRead error
		go func() {
			errRead = genome.ReadGenome(file, opt.NumCPUs, ch, nil)
			close(ch)
		}()

		var name string
		var length, unknown int
		var first = true
		for c := range ch {
			if c.Start == 0 {
				if !first {
					fmt.Fprintf(outfh, "%s\t%d\t%d\t-\t-\n", name, length, unknown)
				}
				first = false
				name = c.Name
				unknown = 0
			}
			length = c.End
			unknown += countUnknown(c.Data, c.Size())
			genome.RecycleChromChunk(c)
		}
		checkError(errRead)
		if !first {
			fmt.Fprintf(outfh, "%s\t%d\t%d\t-\t-\n", name, length, unknown)
		}
	},
}

// countUnknown counts the bases with an empty channel mask in the first n
// bases of packed data.
func countUnknown(data []byte, n int) int {
	var u int
	var b byte
	for i := 0; i < n>>1; i++ {
		b = data[i]
		if b&0xf == 0 {
			u++
		}
		if b>>4 == 0 {
			u++
		}
	}
	if n&1 == 1 && data[n>>1]&0xf == 0 {
		u++
	}
	return u
}

func init() {
	utilsCmd.AddCommand(seqinfoCmd)

	seqinfoCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports the ".gz" suffix ("-" for stdout).`))

	seqinfoCmd.SetUsageTemplate(usageTemplate("<genome>"))
}
