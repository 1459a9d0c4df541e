package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
)

// Column maps one CSV column to a field of the row type.
type Column[T any] struct {
	Header string
	Value  func(T) string
}

// CSVExporter writes rows of T under a fixed column layout.
type CSVExporter[T any] struct {
	columns []Column[T]
}

// NewCSVExporter builds an exporter for the given column layout.
func NewCSVExporter[T any](columns ...Column[T]) *CSVExporter[T] {
	return &CSVExporter[T]{columns: columns}
}

// Headers returns the header line in column order.
func (e *CSVExporter[T]) Headers() []string {
	headers := make([]string, len(e.columns))
	for i, col := range e.columns {
		headers[i] = col.Header
	}
	return headers
}

// Render returns the CSV encoding of rows.
func (e *CSVExporter[T]) Render(rows []T) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := e.Write(buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write streams the header line and one record per row to w.
func (e *CSVExporter[T]) Write(w io.Writer, rows []T) error {
	if len(e.columns) == 0 {
		return fmt.Errorf("csv requires at least one column")
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(e.Headers()); err != nil {
		return fmt.Errorf("write csv headers: %w", err)
	}
	record := make([]string, len(e.columns))
	for n, row := range rows {
		for i, col := range e.columns {
			record[i] = col.Value(row)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", n+1, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
