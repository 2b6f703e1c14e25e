package workload

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxJobs bounds the multi-job driver at up to 5 concurrent jobs, per
// spec.md §6.
const MaxJobs = 5

// JobSpec is one line of --workloads_conf_file: <num_ranks> <trace_prefix>.
type JobSpec struct {
	NumRanks    int
	TracePrefix string
}

// ParseWorkloadsConf parses the multi-job conf file format, enforcing
// the MaxJobs bound (spec.md §6).
func ParseWorkloadsConf(r io.Reader) ([]JobSpec, error) {
	var jobs []JobSpec
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("workloads_conf_file line %d: expected \"<num_ranks> <trace_prefix>\", got %q", lineNo, line)
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("workloads_conf_file line %d: invalid num_ranks %q", lineNo, fields[0])
		}
		jobs = append(jobs, JobSpec{NumRanks: n, TracePrefix: fields[1]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(jobs) > MaxJobs {
		return nil, fmt.Errorf("workloads_conf_file: %d jobs exceeds the %d-job limit", len(jobs), MaxJobs)
	}
	return jobs, nil
}

// Allocation maps (job index, rank) to a global LP id, per
// --alloc_file.
type Allocation struct {
	// GlobalLP[jobIdx][rank] = global LP id.
	GlobalLP [][]int64
}

// ParseAllocFile parses one line per job, each a whitespace-separated
// list of global LP ids indexed by local rank within that job.
func ParseAllocFile(r io.Reader, jobs []JobSpec) (*Allocation, error) {
	alloc := &Allocation{GlobalLP: make([][]int64, len(jobs))}
	sc := bufio.NewScanner(r)
	jobIdx := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if jobIdx >= len(jobs) {
			return nil, fmt.Errorf("alloc_file: more allocation lines than jobs (%d)", len(jobs))
		}
		fields := strings.Fields(line)
		if len(fields) != jobs[jobIdx].NumRanks {
			return nil, fmt.Errorf("alloc_file: job %d expects %d ranks, got %d entries",
				jobIdx, jobs[jobIdx].NumRanks, len(fields))
		}
		ids := make([]int64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("alloc_file: job %d rank %d: invalid LP id %q", jobIdx, i, f)
			}
			ids[i] = v
		}
		alloc.GlobalLP[jobIdx] = ids
		jobIdx++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if jobIdx != len(jobs) {
		return nil, fmt.Errorf("alloc_file: expected %d job lines, got %d", len(jobs), jobIdx)
	}
	return alloc, nil
}
