// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// qcalib_inspect prints the contents of an observer state saved after calibration: a summary, and
// optionally tables of the range groups, shape groups and quantization error statistics.
//
// Usage:
//
//	qcalib_inspect -state observer.json [-ranges] [-shapes] [-stats]
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/qcalib/pkg/quant/observer"
	"github.com/gomlx/qcalib/pkg/support/fsutil"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagState  = flag.String("state", "", "Observer state file (JSON) to inspect, as saved by Observer.SaveFile.")
	flagRanges = flag.Bool("ranges", false, "Lists the range groups.")
	flagShapes = flag.Bool("shapes", false, "Lists the shape groups.")
	flagStats  = flag.Bool("stats", false, "Lists the quantization error statistics per tensor.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	statePath := *flagState
	if statePath == "" && flag.NArg() == 1 {
		statePath = flag.Arg(0)
	}
	if statePath == "" {
		klog.Errorf("Missing observer state file to read from. See 'qcalib_inspect -help'.")
		os.Exit(1)
	}
	if flag.NArg() > 1 || (*flagState != "" && flag.NArg() > 0) {
		klog.Errorf("Too many arguments. See 'qcalib_inspect -help'.")
		os.Exit(1)
	}
	statePath = must.M1(fsutil.ExpandHome(statePath))
	if !must.M1(fsutil.FileExists(statePath)) {
		klog.Errorf("Observer state file %q not found.", statePath)
		os.Exit(1)
	}
	obs := must.M1(observer.LoadFile(statePath))
	report(statePath, obs)
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

// printTable renders the rows, the first one being the header if withHeader is set.
func printTable(title string, withHeader bool, rows [][]string) {
	fmt.Println(titleStyle.Render(title))
	table := newPlainTable(withHeader)
	for _, row := range rows {
		table.Row(row...)
	}
	fmt.Println(table.Render())
}

func report(statePath string, obs *observer.Observer) {
	printTable("Summary", false, summaryRows(statePath, obs))
	if *flagRanges {
		printTable("Range groups", true, rangeRows(obs))
	}
	if *flagShapes {
		printTable("Shape groups", true, shapeRows(obs))
	}
	if *flagStats {
		printTable("Quantization error", true, statsRows(obs))
	}
}
