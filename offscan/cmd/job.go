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
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/offscan/OffScan/offscan/bit4"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
	"github.com/shenwei356/xopen"
)

// Job is a search task: a genome, an optional filter and the patterns.
type Job struct {
	Genome        string
	Filter        []byte // empty for no filter
	MaxMismatches int
	Patterns      [][]byte
	Labels        []string // a label for each pattern, the pattern itself by default
}

// jobTOML is the TOML form of a job file.
type jobTOML struct {
	Genome        string `toml:"genome"`
	Filter        string `toml:"filter"`
	MaxMismatches int    `toml:"max-mismatches"`
	Patterns      []struct {
		Seq   string `toml:"seq"`
		Label string `toml:"label"`
	} `toml:"patterns"`
}

// isTOMLJob tells whether a job file is in TOML format by the suffix.
func isTOMLJob(file string) bool {
	_, ext, _ := filepathTrimExtension(file, nil)
	return strings.EqualFold(ext, ".toml")
}

// readJob reads a job file in the plain text or TOML format.
func readJob(file string) (*Job, error) {
	var job *Job
	var err error
	if isTOMLJob(file) {
		job, err = readJobTOML(file)
	} else {
		job, err = readJobText(file)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "job file: %s", file)
	}
	if err = job.check(); err != nil {
		return nil, errors.Wrapf(err, "job file: %s", file)
	}
	return job, nil
}

// readJobText reads a job file of the format:
//
//	/path/of/genome
//	NNNNNNNNNNNNNNNNNNNNNRG
//	GGCCGACCTGTCGCTGACGCNNN 5 [label]
//	CGCCAGCGTCAGCGACAGGTNNN 5 [label]
//
// The mismatches of all patterns should be the same, and labels should be
// given for all patterns or for none.
func readJobText(file string) (*Job, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	job := &Job{MaxMismatches: -1}

	scanner := bufio.NewScanner(fh)
	var line string
	var nLines, nFields int
	var items []string
	for scanner.Scan() {
		line = strings.TrimSpace(strings.TrimRight(scanner.Text(), "\r\n"))
		nLines++

		switch nLines {
		case 1:
			job.Genome = line
			continue
		case 2:
			job.Filter = []byte(line)
			continue
		}

		if line == "" {
			continue
		}

		items = strings.Fields(line)
		if len(items) != 2 && len(items) != 3 {
			return nil, fmt.Errorf("line %d: a pattern line should be: <pattern> <mismatches> [<label>]", nLines)
		}
		if nFields == 0 {
			nFields = len(items)
		} else if nFields != len(items) {
			return nil, fmt.Errorf("line %d: labels should be given for all patterns or none of them", nLines)
		}

		mis, err := strconv.Atoi(items[1])
		if err != nil || mis < 0 {
			return nil, fmt.Errorf("line %d: mismatches should be a non-negative integer: %s", nLines, items[1])
		}
		if job.MaxMismatches < 0 {
			job.MaxMismatches = mis
		} else if mis != job.MaxMismatches {
			return nil, fmt.Errorf("line %d: all patterns should have the same mismatches: %d != %d",
				nLines, mis, job.MaxMismatches)
		}

		job.Patterns = append(job.Patterns, []byte(items[0]))
		if nFields == 3 {
			job.Labels = append(job.Labels, items[2])
		} else {
			job.Labels = append(job.Labels, items[0])
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, err
	}

	if nLines < 3 {
		return nil, fmt.Errorf("at least 3 lines needed: genome, filter, and patterns")
	}
	if job.Genome == "" {
		return nil, fmt.Errorf("genome path missing in line 1")
	}
	if len(job.Filter) == 0 {
		return nil, fmt.Errorf("filter missing in line 2")
	}
	return job, nil
}

func readJobTOML(file string) (*Job, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	var t jobTOML
	dec := toml.NewDecoder(fh)
	dec.DisallowUnknownFields()
	if err = dec.Decode(&t); err != nil {
		return nil, err
	}

	job := &Job{
		Genome:        strings.TrimSpace(t.Genome),
		Filter:        []byte(strings.TrimSpace(t.Filter)),
		MaxMismatches: t.MaxMismatches,
		Patterns:      make([][]byte, 0, len(t.Patterns)),
		Labels:        make([]string, 0, len(t.Patterns)),
	}
	for _, p := range t.Patterns {
		seq := strings.TrimSpace(p.Seq)
		job.Patterns = append(job.Patterns, []byte(seq))
		if p.Label != "" {
			job.Labels = append(job.Labels, p.Label)
		} else {
			job.Labels = append(job.Labels, seq)
		}
	}
	if job.Genome == "" {
		return nil, fmt.Errorf("genome missing")
	}
	return job, nil
}

// check validates the patterns and the filter.
func (job *Job) check() error {
	if len(job.Patterns) == 0 {
		return fmt.Errorf("no patterns given")
	}
	if job.MaxMismatches < 0 {
		return fmt.Errorf("mismatches should be a non-negative integer: %d", job.MaxMismatches)
	}

	n := len(job.Patterns[0])
	if len(job.Filter) > 0 {
		n = len(job.Filter)
		if !bit4.IsAmbiguousString(job.Filter) {
			return fmt.Errorf("invalid base in the filter: %s", job.Filter)
		}
		if bytes.Count(job.Filter, []byte{'N'})+bytes.Count(job.Filter, []byte{'n'}) == n {
			// all N, no need to filter
			job.Filter = nil
		}
	}
	for i, p := range job.Patterns {
		if len(p) != n {
			return fmt.Errorf("pattern #%d (%s): all patterns and the filter should have the same length: %d != %d",
				i+1, p, len(p), n)
		}
		if !bit4.IsAmbiguousString(p) {
			return fmt.Errorf("pattern #%d: invalid base in %s", i+1, p)
		}
	}
	return nil
}

// expandGenome expands "~" in the genome path and checks its existence.
func (job *Job) expandGenome() error {
	file, err := homedir.Expand(job.Genome)
	if err != nil {
		return errors.Wrapf(err, "genome: %s", job.Genome)
	}
	ok, err := pathutil.Exists(file)
	if err != nil {
		return errors.Wrapf(err, "genome: %s", file)
	}
	if !ok {
		return fmt.Errorf("genome not found: %s", file)
	}
	job.Genome = file
	return nil
}
