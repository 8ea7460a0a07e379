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
	"io"
	"path/filepath"
	"time"

	"github.com/offscan/OffScan/offscan/genome"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
)

var fa2twobitCmd = &cobra.Command{
	Use:   "fa2twobit",
	Short: "Convert FASTA files to a .2bit file",
	Long: `Convert FASTA files to a .2bit file

Attention:
  1. Non-ACGT bases are saved as N-blocks, and lower-case bases as soft-masked blocks.
  2. Only the first word of the FASTA header is kept as the sequence name.
  3. Input can be FASTA files or directories containing FASTA files.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)
		seq.ValidateSeq = false

		outFile := getFlagString(cmd, "out-file")
		if outFile == "" || isStdin(outFile) {
			checkError(fmt.Errorf("flag -o/--out-file needed, .2bit files can not be written to stdout"))
		}

		var fhLog = addLogIf(opt)
		outputLog := opt.Verbose || opt.Log2File

		timeStart := time.Now()
		defer func() {
			if outputLog {
				log.Infof("elapsed time: %s", time.Since(timeStart))
			}
			if fhLog != nil {
				fhLog.Close()
			}
		}()

		if len(args) == 0 {
			checkError(fmt.Errorf("FASTA files or directories needed"))
		}

		files := make([]string, 0, len(args))
		for _, arg := range args {
			isDir, err := pathutil.IsDir(arg)
			checkError(err)
			if !isDir {
				files = append(files, arg)
				continue
			}
			_files, err := genome.ListFiles(arg, genome.DefaultFastaPattern, opt.NumCPUs)
			checkError(err)
			files = append(files, _files...)
		}

		ro, _ := filepath.Abs(outFile)
		for _, file := range files {
			if rf, _ := filepath.Abs(file); rf == ro {
				checkError(fmt.Errorf("output file should not be the same as an input file: %s", file))
			}
		}

		w, err := genome.NewTwoBitWriter(outFile)
		checkError(err)

		var record *fastx.Record
		var nSeqs, nBases int
		for _, file := range files {
			fastxReader, err := fastx.NewReader(nil, file, "")
			if err != nil {
				checkError(fmt.Errorf("failed to read seq file: %s", err))
			}

			for {
				record, err = fastxReader.Read()
				if err != nil {
					if err == io.EOF {
						break
					}
					checkError(fmt.Errorf("read seq %d in %s: %s", nSeqs, file, err))
					break
				}

				checkError(w.Write(string(record.ID), record.Seq.Seq))
				nSeqs++
				nBases += len(record.Seq.Seq)
			}
			fastxReader.Close()
		}

		checkError(w.Close())

		if outputLog {
			log.Infof("%d sequences with %d bases from %d files saved to %s", nSeqs, nBases, len(files), outFile)
		}
	},
}

func init() {
	utilsCmd.AddCommand(fa2twobitCmd)

	fa2twobitCmd.Flags().StringP("out-file", "o", "",
		formatFlagUsage(`Out .2bit file.`))

	fa2twobitCmd.SetUsageTemplate(usageTemplate("<FASTA files or directories>"))
}
