package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(true)
	t.SetBorder(false)
	t.SetHeaderLine(true)
	t.SetColumnSeparator("  ")
	t.SetCenterSeparator(" ")
	t.SetRowSeparator("─")
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// printMetrics writes every non-zero counter and gauge of the CLI registry.
func printMetrics(w io.Writer) {
	families, err := registry.Gather()
	if err != nil {
		fmt.Fprintln(w, "metrics unavailable:", err)
		return
	}
	t := newTable(w, "Metric", "Labels", "Value")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var v float64
			switch {
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				v = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				v = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			if v == 0 {
				continue
			}
			var labels []string
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			t.Append([]string{mf.GetName(), strings.Join(labels, ","), strconv.FormatFloat(v, 'f', -1, 64)})
		}
	}
	fmt.Fprintln(w)
	t.Render()
}
