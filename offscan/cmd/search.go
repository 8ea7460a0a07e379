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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/offscan/OffScan/offscan/genome"
	"github.com/offscan/OffScan/offscan/search"
	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search patterns with mismatches in a genome",
	Long: `Search patterns with mismatches in a genome

Input:
  A job file in plain text or TOML format (with the suffix ".toml").

  1. Plain text format (compatible with Cas-OFFinder):

       /path/of/genome
       NNNNNNNNNNNNNNNNNNNNNRG
       GGCCGACCTGTCGCTGACGCNNN 5
       CGCCAGCGTCAGCGACAGGTNNN 5 guide2

     Line 1: a genome, i.e., a .2bit file, a (gzipped) FASTA file, or a directory of FASTA files.
     Line 2: a filter. Bases other than N must be matched exactly, e.g., the PAM.
     Other lines: <pattern> <mismatches> [<label>].
       All patterns should have the same length as the filter, and the same mismatches.

  2. TOML format:

       genome = "~/genomes/hg38.2bit"
       filter = "NNNNNNNNNNNNNNNNNNNNNRG"   # optional
       max-mismatches = 5

       [[patterns]]
       seq = "GGCCGACCTGTCGCTGACGCNNN"
       label = "guide1"                    # optional

Attention:
  1. Patterns and genomes can contain IUPAC degenerate bases. A genome base matches a pattern base
     if they share any nucleotide. Unknown bases (N) in the genome never match.
  2. Both strands are searched.
  3. Matches are output in batches as soon as they are found, use --sort to sort them.

Output format:
  Tab-delimited format with 6 columns, with 0-based positions.

    1. pattern,    Pattern label, the pattern itself by default.
    2. chrom,      Chromosome name.
    3. pos,        0-based start position on the forward strand.
    4. site,       Genome sequence of the site in the direction of the pattern,
                   mismatched bases are in lower case.
    5. strand,     Strand of the site: + or -.
    6. mismatches, Number of mismatches.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		outFile := getFlagString(cmd, "out-file")

		var fhLog *os.File
		if opt.Log2File {
			ro, err := filepath.Abs(outFile)
			if err != nil {
				checkError(fmt.Errorf("failed to check output file: %s", err))
			}
			rl, err := filepath.Abs(opt.LogFile)
			if err != nil {
				checkError(fmt.Errorf("failed to check log file: %s", err))
			}
			if ro == rl {
				checkError(fmt.Errorf("output file and log file should not be the same: %s", outFile))
			}
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}

		verbose := opt.Verbose
		outputLog := opt.Verbose || opt.Log2File

		timeStart := time.Now()
		defer func() {
			if outputLog {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
				log.Info()
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}()

		// ---------------------------------------------------------------

		jobFile := getFlagString(cmd, "job")
		if jobFile == "" {
			if len(args) != 1 {
				checkError(fmt.Errorf("flag -i/--job needed"))
			}
			jobFile = args[0]
		} else if len(args) > 0 {
			checkError(fmt.Errorf("no positional arguments are allowed when -i/--job is given"))
		}

		job, err := readJob(jobFile)
		checkError(err)

		if g := getFlagString(cmd, "genome"); g != "" {
			job.Genome = g
		}
		checkError(job.expandGenome())

		if cmd.Flags().Changed("max-mismatches") {
			job.MaxMismatches = getFlagNonNegativeInt(cmd, "max-mismatches")
		}

		device := strings.ToUpper(getFlagString(cmd, "device"))
		if device != "C" && device != "G" && device != "A" {
			checkError(fmt.Errorf("the value of flag -d/--device should be one of C, G, and A: %s", device))
		}

		chunksPerBatch := getFlagPositiveInt(cmd, "chunks-per-batch")
		if chunksPerBatch < 2 || chunksPerBatch > search.ChunksPerSearch {
			checkError(fmt.Errorf("the value of flag -b/--chunks-per-batch should be in the range of [2, %d]",
				search.ChunksPerSearch))
		}

		sortResults := getFlagBool(cmd, "sort")
		countOnly := getFlagBool(cmd, "count")
		noHeader := getFlagBool(cmd, "no-header")

		var regions *Regions
		if excludeFile := getFlagString(cmd, "exclude"); excludeFile != "" {
			regions, err = readBED(excludeFile)
			checkError(err)
			if outputLog {
				log.Infof("%d regions to exclude are loaded from %s", regions.Len(), excludeFile)
			}
		}

		// ---------------------------------------------------------------

		if outputLog {
			log.Infof("OffScan v%s", VERSION)
			log.Info()
			log.Infof("genome: %s", job.Genome)
			log.Infof("patterns: %d, length: %d, max mismatches: %d", len(job.Patterns), len(job.Patterns[0]), job.MaxMismatches)
			if len(job.Filter) > 0 {
				log.Infof("filter: %s", job.Filter)
			}
		}

		ps, err := search.NewPatternSet(job.Patterns)
		checkError(err)

		sopt := &search.Options{
			Threads:        opt.NumCPUs,
			MaxMismatches:  job.MaxMismatches,
			Device:         device,
			ChunksPerBatch: chunksPerBatch,
			QueueSize:      4,
			Filter:         job.Filter,
		}
		pipeline, err := search.NewPipeline(sopt, ps)
		checkError(err)

		if outputLog {
			log.Infof("backend: %s, threads: %d", pipeline.Backend().Name(), opt.NumCPUs)
		}

		// genome files
		var files []string
		isDir, err := pathutil.IsDir(job.Genome)
		checkError(errors.Wrap(err, job.Genome))
		if isDir {
			files, err = genome.ListFiles(job.Genome, genome.DefaultFastaPattern, opt.NumCPUs)
			checkError(err)
			if len(files) == 0 {
				checkError(fmt.Errorf("no FASTA files found in %s", job.Genome))
			}
			if outputLog {
				log.Infof("%d FASTA files found in %s", len(files), job.Genome)
			}
		} else {
			files = []string{job.Genome}
		}

		// ---------------------------------------------------------------
		// output

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		if !countOnly && !noHeader {
			outfh.WriteString("pattern\tchrom\tpos\tsite\tstrand\tmismatches\n")
		}

		out := make(chan []*search.Match, 4)
		done := make(chan int)
		var nMatches, nExcluded int
		var sorted search.Matches
		go func() {
			for matches := range out {
				for _, m := range matches {
					if regions != nil && regions.Overlap(m.Chr, m.Pos, m.Pos+ps.Len) {
						nExcluded++
						continue
					}
					nMatches++

					if countOnly {
						continue
					}
					if sortResults {
						sorted = append(sorted, m)
						continue
					}
					writeMatch(outfh, m, job.Labels)
				}
			}
			done <- 1
		}()

		// ---------------------------------------------------------------
		// reading the genome and searching

		var pbs *mpb.Progress
		var bar *mpb.Bar
		if verbose && len(files) > 1 {
			pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
			bar = pbs.AddBar(int64(len(files)),
				mpb.PrependDecorators(
					decor.Name("searched files: ", decor.WC{W: len("searched files: "), C: decor.DindentRight}),
					decor.Name("", decor.WCSyncSpaceR),
					decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
				),
				mpb.AppendDecorators(
					decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
					decor.EwmaETA(decor.ET_STYLE_GO, 10),
					decor.OnComplete(decor.Name(""), ". done"),
				),
			)
		}

		var nChrs int
		read := func(ch chan<- *genome.ChromChunk, stop <-chan struct{}) error {
			chunks := make(chan *genome.ChromChunk, 4)
			var errRead error
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer close(chunks)
				var t time.Time
				for _, file := range files {
					t = time.Now()
					if genome.IsTwoBit(file) {
						errRead = genome.ReadTwoBit(file, chunks, stop)
					} else {
						errRead = genome.ReadFasta(file, chunks, stop)
					}
					if errRead != nil {
						return
					}
					if bar != nil {
						bar.EwmaIncrBy(1, time.Since(t))
					}
				}
			}()

			// counting chromosomes on the way
			for c := range chunks {
				if c.Start == 0 {
					nChrs++
				}
				select {
				case ch <- c:
				case <-stop:
					genome.RecycleChromChunk(c)
				}
			}
			wg.Wait()
			return errRead
		}

		err = pipeline.RunReader(read, out)
		close(out)
		<-done
		if pbs != nil {
			if err != nil {
				bar.Abort(false)
			}
			pbs.Wait()
		}
		checkError(err)

		if sortResults {
			sorted.Sort()
			for _, m := range sorted {
				writeMatch(outfh, m, job.Labels)
			}
		}
		if countOnly {
			fmt.Fprintf(outfh, "%d\n", nMatches)
		}

		if outputLog {
			log.Infof("%d chromosomes searched", nChrs)
			if regions != nil {
				log.Infof("%d matches found, %d in excluded regions", nMatches, nExcluded)
			} else {
				log.Infof("%d matches found", nMatches)
			}
			if !isStdin(outFile) && !countOnly {
				log.Infof("results saved to %s", outFile)
			}
		}
	},
}

// writeMatch writes a match in a line.
func writeMatch(outfh *bufio.Writer, m *search.Match, labels []string) {
	outfh.WriteString(labels[m.Pattern])
	outfh.WriteByte('\t')
	outfh.WriteString(m.Chr)
	outfh.WriteByte('\t')
	outfh.WriteString(strconv.Itoa(m.Pos))
	outfh.WriteByte('\t')
	outfh.Write(m.Site)
	outfh.WriteByte('\t')
	outfh.WriteByte(m.Strand)
	outfh.WriteByte('\t')
	outfh.WriteString(strconv.Itoa(m.Mismatches))
	outfh.WriteByte('\n')
}

func init() {
	RootCmd.AddCommand(searchCmd)

	searchCmd.Flags().StringP("job", "i", "",
		formatFlagUsage(`Job file, in plain text or TOML format (with the suffix ".toml"). "-" for stdin.`))

	searchCmd.Flags().StringP("genome", "g", "",
		formatFlagUsage(`Genome to search, overriding the one in the job file.`))

	searchCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports the ".gz" suffix ("-" for stdout).`))

	searchCmd.Flags().StringP("device", "d", "C",
		formatFlagUsage(`Device to use. C: CPU (64-bit words), G or A: grid of work items (32-bit words).`))

	searchCmd.Flags().IntP("max-mismatches", "m", 0,
		formatFlagUsage(`Maximum number of mismatches, overriding the one in the job file.`))

	searchCmd.Flags().IntP("chunks-per-batch", "b", search.ChunksPerSearch,
		formatFlagUsage(fmt.Sprintf(`Number of %d-bp chunks in a batch, in the range of [2, %d].`,
			genome.ChunkSize, search.ChunksPerSearch)))

	searchCmd.Flags().StringP("exclude", "e", "",
		formatFlagUsage(`BED file of regions to exclude. Matches overlapping with any region are discarded.`))

	searchCmd.Flags().BoolP("sort", "s", false,
		formatFlagUsage(`Sort matches by chromosome, position, pattern and strand, in memory.`))

	searchCmd.Flags().BoolP("count", "c", false,
		formatFlagUsage(`Only output the number of matches.`))

	searchCmd.Flags().BoolP("no-header", "H", false,
		formatFlagUsage(`Do not output the header line.`))

	searchCmd.SetUsageTemplate(usageTemplate("{-i <job file> | <job file>}"))
}
