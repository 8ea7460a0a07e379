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
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"
	"github.com/twotwotwo/sorts/sortutil"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize mismatches of search results",
	Long: `Summarize mismatches of search results

Input:
  Output files of "offscan search", or stdin.

Output format:
  Tab-delimited format with a row for each pattern, and columns of:

    1. pattern, Pattern label.
    2. matches, Number of matches.
    3. plus,    Number of matches on the positive strand.
    4. minus,   Number of matches on the negative strand.
    5. mean,    Mean of mismatches.
    6. stdev,   Standard deviation of mismatches.
    7+. mm0, mm1, ..., number of matches with 0, 1, ... mismatches.

  Use -p/--plot to plot the distribution of mismatches of all patterns.
  The format is decided by the suffix: .png, .pdf, .svg, .jpg, .eps, or .tif.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		files := args
		if len(files) == 0 {
			files = []string{"-"}
		}
		outFile := getFlagString(cmd, "out-file")
		plotFile := getFlagString(cmd, "plot")

		s := newMismatchStats()
		for _, file := range files {
			checkError(s.read(file))
		}

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		outfh.WriteString("pattern\tmatches\tplus\tminus\tmean\tstdev")
		for i := 0; i <= s.maxMis; i++ {
			fmt.Fprintf(outfh, "\tmm%d", i)
		}
		outfh.WriteByte('\n')

		for _, p := range s.sortedPatterns() {
			ps := s.patterns[p]
			mean, std := ps.meanStdDev()
			fmt.Fprintf(outfh, "%s\t%d\t%d\t%d\t%.4f\t%.4f", p, len(ps.mismatches), ps.plus, ps.minus, mean, std)
			for i := 0; i <= s.maxMis; i++ {
				fmt.Fprintf(outfh, "\t%d", ps.hist(i))
			}
			outfh.WriteByte('\n')
		}

		if plotFile != "" {
			checkError(s.plot(plotFile))
			if opt.Verbose {
				log.Infof("plot saved to %s", plotFile)
			}
		}
	},
}

type patternStats struct {
	mismatches []float64
	counts     []int // counts of mismatches
	plus       int
	minus      int
}

func (ps *patternStats) add(mis int, strand string) {
	ps.mismatches = append(ps.mismatches, float64(mis))
	for len(ps.counts) <= mis {
		ps.counts = append(ps.counts, 0)
	}
	ps.counts[mis]++
	if strand == "-" {
		ps.minus++
	} else {
		ps.plus++
	}
}

func (ps *patternStats) hist(mis int) int {
	if mis >= len(ps.counts) {
		return 0
	}
	return ps.counts[mis]
}

func (ps *patternStats) meanStdDev() (float64, float64) {
	switch len(ps.mismatches) {
	case 0:
		return 0, 0
	case 1:
		return ps.mismatches[0], 0
	}
	return stat.MeanStdDev(ps.mismatches, nil)
}

type mismatchStats struct {
	patterns map[string]*patternStats
	all      *patternStats
	maxMis   int
}

func newMismatchStats() *mismatchStats {
	return &mismatchStats{
		patterns: make(map[string]*patternStats, 64),
		all:      &patternStats{},
	}
}

// read parses a result file, skipping the header line.
func (s *mismatchStats) read(file string) error {
	fh, err := xopen.Ropen(file)
	if err != nil {
		if err == xopen.ErrNoContent {
			return nil
		}
		return errors.Wrapf(err, "reading result file: %s", file)
	}
	defer fh.Close()

	items := make([]string, 6)
	scanner := bufio.NewScanner(fh)
	var line string
	var n, mis int
	var ps *patternStats
	var ok bool
	for scanner.Scan() {
		n++
		line = strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" || strings.HasPrefix(line, "pattern\t") {
			continue
		}

		stringSplitNByByte(line, '\t', 6, &items)
		if len(items) < 6 {
			return fmt.Errorf("%s: line %d: 6 columns needed", file, n)
		}
		mis, err = strconv.Atoi(items[5])
		if err != nil || mis < 0 {
			return fmt.Errorf("%s: line %d: invalid mismatches: %s", file, n, items[5])
		}

		if ps, ok = s.patterns[items[0]]; !ok {
			ps = &patternStats{}
			s.patterns[items[0]] = ps
		}
		ps.add(mis, items[4])
		s.all.add(mis, items[4])
		if mis > s.maxMis {
			s.maxMis = mis
		}
	}
	if err = scanner.Err(); err != nil {
		return errors.Wrapf(err, "reading result file: %s", file)
	}
	return nil
}

func (s *mismatchStats) sortedPatterns() []string {
	list := make([]string, 0, len(s.patterns))
	for p := range s.patterns {
		list = append(list, p)
	}
	sortutil.Strings(list)
	return list
}

// plot draws a bar chart of the numbers of matches with different mismatches.
func (s *mismatchStats) plot(file string) error {
	p := plot.New()
	p.Title.Text = "Distribution of mismatches"
	p.X.Label.Text = "Mismatches"
	p.Y.Label.Text = "Matches"

	values := make(plotter.Values, s.maxMis+1)
	labels := make([]string, s.maxMis+1)
	for i := range values {
		values[i] = float64(s.all.hist(i))
		labels[i] = strconv.Itoa(i)
	}

	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return errors.Wrap(err, "plot")
	}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(labels...)

	if err = p.Save(6*vg.Inch, 4*vg.Inch, file); err != nil {
		return errors.Wrapf(err, "saving plot: %s", file)
	}
	return nil
}

func init() {
	utilsCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports the ".gz" suffix ("-" for stdout).`))

	statsCmd.Flags().StringP("plot", "p", "",
		formatFlagUsage(`Plot the distribution of mismatches to a file.`))

	statsCmd.SetUsageTemplate(usageTemplate("[result files]"))
}
