package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/recreport/recreport/internal/report"
)

// CSVWriter streams report rows as CSV. The header is written on the first
// call to Write or on Close, whichever comes first.
type CSVWriter struct {
	w           *csv.Writer
	wroteHeader bool
	rows        int64
}

func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

func (c *CSVWriter) Write(row report.Row) error {
	if err := c.header(); err != nil {
		return err
	}
	if err := c.w.Write(Record(row)); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	c.rows++
	return nil
}

func (c *CSVWriter) Rows() int64 {
	return c.rows
}

func (c *CSVWriter) Close() error {
	if err := c.header(); err != nil {
		return err
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func (c *CSVWriter) header() error {
	if c.wroteHeader {
		return nil
	}
	c.wroteHeader = true
	if err := c.w.Write(report.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	return nil
}

func WriteCSV(w io.Writer, rows []report.Row) error {
	writer := NewCSVWriter(w)
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	return writer.Close()
}

// CSVRecord is one report row keyed by column name.
type CSVRecord map[string]string

func (r CSVRecord) Get(column string) string {
	return strings.TrimSpace(r[column])
}

// ReadCSV parses a report file. Columns are matched by header name so extra
// or reordered columns are tolerated.
func ReadCSV(r io.Reader) ([]CSVRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("report is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	records := make([]CSVRecord, 0)
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", len(records)+1, err)
		}
		record := make(CSVRecord, len(header))
		for i, name := range header {
			if i < len(fields) {
				record[name] = fields[i]
			}
		}
		records = append(records, record)
	}
	return records, nil
}
