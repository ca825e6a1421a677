package pivot

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// ExportTable is the flat, row-oriented projection of a pivot result:
// dimension labels, one cell per output column in ledger order, a trailing
// row-total cell, and a final totals row carrying the column totals and the
// grand total. It is purely presentational and must not feed back into
// calculations.
type ExportTable struct {
	Headers []string
	Rows    [][]string
}

// Export flattens a pivot result into an export table. Header tuples are
// joined with " / "; an empty tuple becomes the literal "Total". Currency
// results render their value cells through a locale-aware printer.
func Export(r *Result) *ExportTable {
	printer := message.NewPrinter(language.English)
	format := func(v *float64) string {
		return formatCell(v, r.ValueFormat, printer)
	}

	if r.IsSummary() {
		headers := append([]string(nil), r.Measures...)
		row := make([]string, len(headers))
		for i, measure := range headers {
			row[i] = format(r.SummaryValues[measure])
		}
		return &ExportTable{Headers: headers, Rows: [][]string{row}}
	}

	rowLabels := append([]string(nil), r.Rows...)
	if len(rowLabels) == 0 {
		rowLabels = []string{"Measure"}
	}

	columnLabels := make([]string, len(r.ColumnHeaders))
	for i, header := range r.ColumnHeaders {
		columnLabels[i] = flattenHeader(header)
	}

	headers := append(append(rowLabels, columnLabels...), "Total")
	rows := make([][]string, 0, len(r.Values)+1)

	for i, cells := range r.Values {
		row := make([]string, 0, len(headers))
		row = append(row, rowLabelCells(r, i, len(rowLabels))...)
		for _, cell := range cells {
			row = append(row, format(cell))
		}
		row = append(row, format(at(r.RowTotals, i)))
		rows = append(rows, row)
	}

	totals := make([]string, 0, len(headers))
	totals = append(totals, "Total")
	for i := 1; i < len(rowLabels); i++ {
		totals = append(totals, "")
	}
	for j := range columnLabels {
		totals = append(totals, format(at(r.ColumnTotals, j)))
	}
	totals = append(totals, format(r.GrandTotal))
	rows = append(rows, totals)

	return &ExportTable{Headers: headers, Rows: rows}
}

func rowLabelCells(r *Result, row, width int) []string {
	labels := make([]string, width)
	if row >= len(r.RowHeaders) {
		return labels
	}
	header := r.RowHeaders[row]
	if len(r.Rows) == 0 {
		labels[0] = flattenHeader(header)
		return labels
	}
	for i := 0; i < width && i < len(header); i++ {
		if header[i] != nil {
			labels[i] = valueString(header[i])
		}
	}
	return labels
}

func formatCell(v *float64, format string, printer *message.Printer) string {
	if v == nil {
		return ""
	}
	if format == FormatCurrency {
		return printer.Sprintf("$%v", number.Decimal(*v, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// WriteCSV serializes the export table as CSV.
func (t *ExportTable) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Headers); err != nil {
		return fmt.Errorf("writing export header: %w", err)
	}
	for _, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing export row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
