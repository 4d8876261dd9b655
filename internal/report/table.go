package report

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"nbsmoke/internal/expect"
	"nbsmoke/internal/harness"
	"nbsmoke/internal/runlog"
)

// Mode controls the table output format.
type Mode int

const (
	ASCII    Mode = iota // Fixed-width terminal tables
	Markdown            // GitHub-flavoured Markdown tables
)

// maxCellWidth wraps long messages in table cells.
const maxCellWidth = 60

func newTable(m Mode) table.Writer {
	w := table.NewWriter()
	if m == ASCII {
		w.SetStyle(table.StyleLight)
	}
	return w
}

func render(w table.Writer, m Mode) string {
	if m == Markdown {
		return w.RenderMarkdown()
	}
	return w.Render()
}

// AttemptTable lists every attempt with its duration and first error.
func AttemptTable(history []harness.AttemptSummary, m Mode) string {
	w := newTable(m)
	w.AppendHeader(table.Row{"Attempt", "Duration", "Errors", "First error", "Retried"})
	for _, a := range history {
		retried := ""
		if a.Retried {
			retried = "yes"
		}
		first := a.FirstError
		if a.Error != "" {
			first = "aborted: " + a.Error
		}
		w.AppendRow(table.Row{a.Attempt, a.Duration.Round(time.Millisecond), a.ErrorCount, first, retried})
	}
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, WidthMax: maxCellWidth},
	})
	return render(w, m)
}

// ErrorTable lists collected cell errors.
func ErrorTable(errs []harness.ErrorRecord, m Mode) string {
	w := newTable(m)
	w.AppendHeader(table.Row{"Cell", "Output", "Kind", "Message"})
	for _, e := range errs {
		w.AppendRow(table.Row{e.Cell, e.Output, e.Kind, e.Message})
	}
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignRight},
		{Number: 4, WidthMax: maxCellWidth},
	})
	return render(w, m)
}

// FormatExpectations renders every expectation result, with a footer
// counting the ones that held.
func FormatExpectations(results []expect.Result, m Mode) string {
	w := newTable(m)
	w.AppendHeader(table.Row{"#", "Cell", "Check", "Contains", "Result", "Actual"})
	passed := 0
	for i, r := range results {
		status := "FAIL"
		actual := expect.Truncate(r.Actual, 40)
		if r.Passed {
			status = "ok"
			actual = ""
			passed++
		}
		cell := "-"
		if r.Cell >= 0 {
			cell = fmt.Sprint(r.Cell)
		}
		w.AppendRow(table.Row{i, cell, r.Expectation.Target(), r.Expectation.Contains, status, actual})
	}
	w.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d/%d", passed, len(results)), ""})
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignRight},
		{Number: 6, WidthMax: maxCellWidth},
	})
	return render(w, m)
}

// FormatRuns lists recorded runs.
func FormatRuns(runs []runlog.Summary, m Mode) string {
	w := newTable(m)
	w.AppendHeader(table.Row{"Run", "Started", "Status", "Attempts", "Document"})
	for _, r := range runs {
		w.AppendRow(table.Row{r.RunID, r.StartedAt.Local().Format(time.DateTime), r.Status, r.Attempts, r.Document})
	}
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
	})
	return render(w, m)
}
