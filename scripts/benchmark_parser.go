package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// BenchmarkResult represents a parsed benchmark result.
type BenchmarkResult struct {
	Name        string
	Operation   string
	Backend     string // "freelist", "debug" or "bypass"
	Case        string // e.g. "size=512"
	Iterations  int
	NsPerOp     float64
	BytesPerOp  int64
	AllocsPerOp int64
}

// Comparison pairs one operation/case across backends. Ratios are relative
// to the bypass backend; a ratio above 1 means the free list is faster.
type Comparison struct {
	Operation string
	Case      string
	Ns        map[string]float64
	Allocs    map[string]int64
}

// Ratio returns bypass ns/op divided by backend ns/op, or 0 if either is missing.
func (c Comparison) Ratio(backend string) float64 {
	base, ok := c.Ns["bypass"]
	ns, ok2 := c.Ns[backend]
	if !ok || !ok2 || ns == 0 {
		return 0
	}
	return base / ns
}

var (
	inputFile = flag.String(
		"input",
		"",
		"Input file with benchmark output (stdin if not specified)",
	)
	outputFile = flag.String("output", "", "Output markdown file (stdout if not specified)")
	quiet      = flag.Bool("quiet", false, "Suppress progress output")
)

func main() {
	flag.Parse()

	in := io.Reader(os.Stdin)
	if *inputFile != "" {
		f, err := os.Open(*inputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening input file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	results := parseBenchmarks(bufio.NewScanner(in))
	if !*quiet {
		fmt.Fprintf(os.Stderr, "Parsed %d benchmark results\n", len(results))
	}
	report := generateMarkdownReport(compare(results), time.Now())

	if *outputFile == "" {
		fmt.Fprint(os.Stdout, report)
		return
	}
	if err := os.WriteFile(*outputFile, []byte(report), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
		os.Exit(1)
	}
	if !*quiet {
		fmt.Fprintf(os.Stderr, "Report written to %s\n", *outputFile)
	}
}

// BenchmarkMallocFree/bypass/size=512-8    1000000    65.2 ns/op    0 B/op    0 allocs/op
var benchmarkRegex = regexp.MustCompile(
	`^(Benchmark\S+)\s+(\d+)\s+([\d.]+)\s+ns/op(?:\s+([\d.]+)\s+B/op)?(?:\s+([\d.]+)\s+allocs/op)?`,
)

func parseBenchmarks(scanner *bufio.Scanner) []BenchmarkResult {
	var results []BenchmarkResult
	for scanner.Scan() {
		line := scanner.Text()

		// go test -json wraps each line in an event
		var event struct{ Output string }
		if err := json.Unmarshal([]byte(line), &event); err == nil && event.Output != "" {
			line = event.Output
		}

		m := benchmarkRegex.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		r := BenchmarkResult{Name: m[1]}
		r.Iterations, _ = strconv.Atoi(m[2])
		r.NsPerOp, _ = strconv.ParseFloat(m[3], 64)
		if m[4] != "" {
			r.BytesPerOp, _ = strconv.ParseInt(m[4], 10, 64)
		}
		if m[5] != "" {
			r.AllocsPerOp, _ = strconv.ParseInt(m[5], 10, 64)
		}
		r.Operation, r.Backend, r.Case = splitName(r.Name)
		results = append(results, r)
	}
	return results
}

// splitName splits Benchmark<Op>[/<backend>[/<case>]]-<procs>. Benchmarks
// without a backend segment are attributed to the free list.
func splitName(name string) (op, backend, c string) {
	if i := strings.LastIndex(name, "-"); i > 0 {
		if _, err := strconv.Atoi(name[i+1:]); err == nil {
			name = name[:i]
		}
	}
	parts := strings.Split(strings.TrimPrefix(name, "Benchmark"), "/")
	op, backend = parts[0], "freelist"
	if len(parts) > 1 {
		backend = parts[1]
	}
	if len(parts) > 2 {
		c = strings.Join(parts[2:], "/")
	}
	return op, backend, c
}

func compare(results []BenchmarkResult) []Comparison {
	type key struct{ op, c string }
	byKey := make(map[key]*Comparison)
	var order []key
	for _, r := range results {
		k := key{r.Operation, r.Case}
		cmp, ok := byKey[k]
		if !ok {
			cmp = &Comparison{
				Operation: r.Operation,
				Case:      r.Case,
				Ns:        make(map[string]float64),
				Allocs:    make(map[string]int64),
			}
			byKey[k] = cmp
			order = append(order, k)
		}
		cmp.Ns[r.Backend] = r.NsPerOp
		cmp.Allocs[r.Backend] = r.AllocsPerOp
	}

	out := make([]Comparison, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Operation != out[j].Operation {
			return out[i].Operation < out[j].Operation
		}
		return out[i].Case < out[j].Case
	})
	return out
}

func generateMarkdownReport(comparisons []Comparison, now time.Time) string {
	var sb strings.Builder

	sb.WriteString("# Benchmark Report\n\n")
	fmt.Fprintf(&sb, "Generated: %s\n\n", now.Format("2006-01-02 15:04:05"))

	faster, comparable := 0, 0
	for _, c := range comparisons {
		if r := c.Ratio("freelist"); r > 0 {
			comparable++
			if r > 1 {
				faster++
			}
		}
	}
	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- **Total benchmarks**: %d\n", len(comparisons))
	fmt.Fprintf(&sb, "- **Comparable** (freelist and bypass): %d\n", comparable)
	fmt.Fprintf(&sb, "  - freelist faster: %d\n", faster)
	sb.WriteString("\n")

	sb.WriteString("## Detailed Results\n\n")
	sb.WriteString("| Operation | Case | freelist (ns/op) | debug (ns/op) | bypass (ns/op) | freelist vs bypass |\n")
	sb.WriteString("|-----------|------|------------------|---------------|----------------|--------------------|\n")
	for _, c := range comparisons {
		ratio := "*N/A*"
		if r := c.Ratio("freelist"); r > 0 {
			ratio = fmt.Sprintf("%.2fx", r)
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s | %s |\n",
			c.Operation, orDash(c.Case),
			nsCell(c, "freelist"), nsCell(c, "debug"), nsCell(c, "bypass"),
			ratio)
	}
	sb.WriteString("\n")

	sb.WriteString("## Notes\n\n")
	sb.WriteString("- **Ratio > 1.0**: the free-list backend is faster than the system allocator\n")
	sb.WriteString("- **debug** adds guard-byte installation and verification to every call\n")
	return sb.String()
}

func nsCell(c Comparison, backend string) string {
	ns, ok := c.Ns[backend]
	if !ok {
		return "-"
	}
	return formatNumber(ns)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatNumber(n float64) string {
	if n >= 1000000 {
		return fmt.Sprintf("%.2fM", n/1000000)
	} else if n >= 1000 {
		return fmt.Sprintf("%.1fK", n/1000)
	}
	return fmt.Sprintf("%.0f", n)
}
