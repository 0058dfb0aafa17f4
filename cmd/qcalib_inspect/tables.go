// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/qcalib/pkg/quant/observer"
)

// formatFloat prints up to 6 significant digits, and the non-finite values by name.
func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	}
	return humanize.FtoaWithDigits(v, 6)
}

func formatBool(v, known bool) string {
	if !known {
		return "?"
	}
	return strconv.FormatBool(v)
}

func summaryRows(statePath string, obs *observer.Observer) [][]string {
	p := obs.Params
	return [][]string{
		{"state", statePath},
		{"called", strconv.FormatBool(obs.Called())},
		{"# range groups", humanize.Comma(int64(obs.NumRanges()))},
		{"# shape groups", humanize.Comma(int64(obs.NumShapes()))},
		{"# tensors", humanize.Comma(int64(obs.NumTensors()))},
		{"observer enabled", strconv.FormatBool(p.ObserverEnabled)},
		{"fake quantize enabled", strconv.FormatBool(p.FakeQuantizeEnabled)},
		{"track quant stats", strconv.FormatBool(p.TrackQuantStats)},
		{"histogram bins", humanize.Comma(int64(p.HistogramBins))},
		{"histogram upsample rate", humanize.Comma(int64(p.HistogramUpsampleRate))},
	}
}

// rangeRows lists the range groups, with a header row.
func rangeRows(obs *observer.Observer) [][]string {
	rows := [][]string{{"Range", "Float", "Static", "Min", "Max", "Scale"}}
	for ii := range obs.NumRanges() {
		r := obs.RangeObserver(ii)
		isFloat, known := r.IsFloat()
		row := []string{strconv.Itoa(ii), formatBool(isFloat, known), strconv.FormatBool(r.IsStatic())}
		if minV, maxV, ok := r.Range(); ok {
			scale, _ := r.Scale()
			row = append(row, formatFloat(minV), formatFloat(maxV), formatFloat(scale))
		} else {
			row = append(row, "-", "-", "-")
		}
		rows = append(rows, row)
	}
	return rows
}

// shapeRows lists the shape groups, with a header row. Dynamic axes are printed as "?".
func shapeRows(obs *observer.Observer) [][]string {
	rows := [][]string{{"Shape", "Rank", "Dimensions"}}
	for ii := range obs.NumShapes() {
		dims, ok := obs.Shape(ii)
		if !ok {
			rows = append(rows, []string{strconv.Itoa(ii), "-", "-"})
			continue
		}
		parts := make([]string, len(dims))
		for axis, dim := range dims {
			if dim == observer.UnknownDim {
				parts[axis] = "?"
			} else {
				parts[axis] = strconv.Itoa(dim)
			}
		}
		rows = append(rows, []string{strconv.Itoa(ii), strconv.Itoa(len(dims)), fmt.Sprintf("[%s]", strings.Join(parts, ", "))})
	}
	return rows
}

// statsRows lists the quantization error statistics of the tensors with samples, with a header row.
func statsRows(obs *observer.Observer) [][]string {
	rows := [][]string{{"Tensor", "Samples", "Mean SQNR (dB)", "Mean L1"}}
	for ii := range obs.NumTensors() {
		stats := obs.Stats(ii)
		if stats.Count() == 0 {
			continue
		}
		rows = append(rows, []string{
			strconv.Itoa(ii), humanize.Comma(int64(stats.Count())),
			formatFloat(stats.MeanSQNR()), formatFloat(stats.MeanL1()),
		})
	}
	return rows
}
