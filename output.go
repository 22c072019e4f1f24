package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
)

// asciiPlot draws a vertical bar chart of values scaled to their maximum.
func asciiPlot(w io.Writer, values []float64, height int) {
	if len(values) == 0 {
		fmt.Fprintln(w, "no data to plot")
		return
	}
	top := slices.Max(values)
	if top <= 0 || math.IsInf(top, 0) {
		top = 1
	}
	var b strings.Builder
	for row := height; row >= 1; row-- {
		threshold := float64(row) / float64(height)
		for _, v := range values {
			if v/top >= threshold {
				b.WriteString("█")
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteByte('\n')
	}
	b.WriteString(strings.Repeat("─", len(values)))
	b.WriteByte('\n')
	// epoch ticks every 5 columns
	for i := range values {
		if i%5 == 0 {
			b.WriteString(strconv.Itoa(i % 10))
		} else {
			b.WriteByte(' ')
		}
	}
	b.WriteByte('\n')
	fmt.Fprint(w, b.String())
}

// readLogColumn pulls one named numeric column out of a training log CSV.
// Empty and NaN cells are skipped.
func readLogColumn(path, column string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open training log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read training log header: %w", err)
	}
	col := slices.Index(header, column)
	if col < 0 {
		return nil, fmt.Errorf("training log %s has no %q column (have %s)", path, column, strings.Join(header, ","))
	}

	var out []float64
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read training log: %w", err)
		}
		if record[col] == "" {
			continue
		}
		v, err := strconv.ParseFloat(record[col], 64)
		if err != nil {
			return nil, fmt.Errorf("training log row %d: %w", len(out)+1, err)
		}
		if math.IsNaN(v) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
