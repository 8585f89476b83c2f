// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// Metric is a name and a value displayed along the progress bar.
type Metric struct {
	Name, Value string
}

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

type progressUpdate struct {
	amount  int
	metrics []Metric
}

// ScanProgress displays the progress of a scan over message sizes, with a table of the latest
// metrics above the progress bar.
//
// Updates are drawn asynchronously, so a slow terminal doesn't slow down the benchmark.
type ScanProgress struct {
	bar           *progressbar.ProgressBar
	output        *termenv.Output
	statsStyle    lipgloss.Style
	statsTable    *lgtable.Table
	isFirstOutput bool
	numLines      int

	updates          chan progressUpdate
	asyncUpdatesDone sync.WaitGroup
}

// NewScanProgress creates the display of a scan of numSteps steps, and starts drawing it on w.
// Call Done when the scan finishes.
func NewScanProgress(w io.Writer, numSteps int, description string) *ScanProgress {
	if w == nil {
		w = os.Stdout
	}
	p := &ScanProgress{
		output:        termenv.NewOutput(w),
		statsStyle:    lipgloss.NewStyle().PaddingLeft(8),
		isFirstOutput: true,
		updates:       make(chan progressUpdate, 100), // Large buffer so the scan is not blocked.
	}
	p.bar = progressbar.NewOptions(numSteps,
		progressbar.OptionSetDescription(description),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("sizes"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(w),
	)
	p.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	p.asyncUpdatesDone.Add(1)
	go p.draw(w)
	return p
}

// Step reports that one more step finished, with the metrics to display.
func (p *ScanProgress) Step(metrics ...Metric) {
	p.updates <- progressUpdate{amount: 1, metrics: metrics}
}

// Done waits for the pending updates to be drawn, and restores the cursor.
func (p *ScanProgress) Done() {
	close(p.updates)
	p.asyncUpdatesDone.Wait()
	p.output.ShowCursor()
}

func (p *ScanProgress) draw(w io.Writer) {
	defer p.asyncUpdatesDone.Done()
	for update := range p.updates {
		// Exhaust the updates in the buffer, only the last metrics are displayed.
		amount := update.amount
	exhaust:
		for {
			select {
			case newUpdate, ok := <-p.updates:
				if !ok {
					break exhaust
				}
				amount += newUpdate.amount
				update = newUpdate
			default:
				break exhaust
			}
		}

		p.statsTable.Data(lgtable.NewStringData())
		for _, metric := range update.metrics {
			p.statsTable.Row(metric.Name, metric.Value)
		}

		// Clear the previous lines that will be overwritten.
		p.output.HideCursor()
		if !p.isFirstOutput {
			p.output.CursorPrevLine(p.numLines)
		}
		p.isFirstOutput = false
		p.numLines = len(update.metrics) + 2 + 1

		_, _ = fmt.Fprintln(w, p.statsStyle.Render(p.statsTable.String()))
		_ = p.bar.Add(amount)
		_, _ = fmt.Fprintln(w)
		p.output.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}
