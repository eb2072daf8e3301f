package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// tracked lists the benchmarks from auth_bench_test.go gated in CI and the units
// compared for each.
var tracked = map[string][]string{
	"BenchmarkValidateAccess":         {"ns/op", "allocs/op"},
	"BenchmarkRefresh":                {"ns/op"},
	"BenchmarkLogin":                  {"ns/op"},
	"BenchmarkLoginUnknownIdentifier": {"ns/op"},
}

// samples maps benchmark name to unit to every observed value.
type samples map[string]map[string][]float64

type comparison struct {
	Benchmark string
	Unit      string
	Baseline  float64
	Candidate float64
	Delta     float64
	Problem   string
}

func (c comparison) String() string {
	if c.Problem != "" {
		return fmt.Sprintf("%s %s: %s", c.Benchmark, c.Unit, c.Problem)
	}
	return fmt.Sprintf("%s %s %.3f %.3f %+0.2f%%", c.Benchmark, c.Unit, c.Baseline, c.Candidate, c.Delta*100)
}

// parseBench reads `go test -bench` output. Lines for untracked benchmarks are
// skipped.
func parseBench(r io.Reader) (samples, error) {
	out := samples{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "Benchmark") {
			continue
		}

		name := trimProcs(fields[0])
		if _, ok := tracked[name]; !ok {
			continue
		}
		if out[name] == nil {
			out[name] = map[string][]float64{}
		}
		for i := 2; i+1 < len(fields); i += 2 {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			out[name][fields[i+1]] = append(out[name][fields[i+1]], v)
		}
	}
	return out, scanner.Err()
}

// trimProcs drops the -GOMAXPROCS suffix, e.g. BenchmarkLogin-8.
func trimProcs(raw string) string {
	if idx := strings.LastIndexByte(raw, '-'); idx > 0 {
		if _, err := strconv.Atoi(raw[idx+1:]); err == nil {
			return raw[:idx]
		}
	}
	return raw
}

// compare returns one row per tracked benchmark and unit, sorted by name, and
// whether any row exceeds threshold or lacks samples.
func compare(baseline, candidate samples, threshold float64) ([]comparison, bool) {
	names := make([]string, 0, len(tracked))
	for name := range tracked {
		names = append(names, name)
	}
	sort.Strings(names)

	var rows []comparison
	failed := false
	for _, name := range names {
		for _, unit := range tracked[name] {
			row := comparison{Benchmark: name, Unit: unit}
			base, cand := baseline[name][unit], candidate[name][unit]
			switch {
			case len(base) == 0 || len(cand) == 0:
				row.Problem = "missing samples"
			default:
				row.Baseline, row.Candidate = median(base), median(cand)
				if row.Baseline <= 0 {
					row.Problem = "invalid baseline median"
					break
				}
				row.Delta = (row.Candidate - row.Baseline) / row.Baseline
				if row.Delta > threshold {
					row.Problem = fmt.Sprintf("regressed by %+0.2f%% (limit %+0.2f%%)", row.Delta*100, threshold*100)
				}
			}
			if row.Problem != "" {
				failed = true
			}
			rows = append(rows, row)
		}
	}
	return rows, failed
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
