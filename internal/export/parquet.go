package export

import (
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/recreport/recreport/internal/report"
)

type parquetRow struct {
	RecordingCreated  string     `parquet:"recording_created"`
	RecordingLink     string     `parquet:"recording_link"`
	SessionOwner      string     `parquet:"session_owner"`
	SessionName       string     `parquet:"session_name"`
	RecordingName     string     `parquet:"recording_name"`
	ContextIdentifier string     `parquet:"context_identifier"`
	ContextName       string     `parquet:"context_name"`
	RecordingUID      string     `parquet:"recording_uid"`
	CourseID          string     `parquet:"course_id"`
	CourseName        string     `parquet:"course_name"`
	CourseDeletedOn   *time.Time `parquet:"course_deleted_on,optional,timestamp(millisecond)"`
	DurationInMinutes *float64   `parquet:"duration_in_minutes,optional"`
	SizeInGB          *float64   `parquet:"size_in_gb,optional"`
	DownloadCount     *int64     `parquet:"download_count,optional"`
	LastDownloaded    *time.Time `parquet:"last_downloaded,optional,timestamp(millisecond)"`
	PlaybackCount     *int64     `parquet:"playback_count,optional"`
	LastPlayedback    *time.Time `parquet:"last_playedback,optional,timestamp(millisecond)"`
	PublicInd         *bool      `parquet:"public_ind,optional"`
	CreatedTime       time.Time  `parquet:"created_time,timestamp(millisecond)"`
}

func toParquetRow(row report.Row) parquetRow {
	return parquetRow{
		RecordingCreated:  row.RecordingCreated,
		RecordingLink:     row.RecordingLink,
		SessionOwner:      row.SessionOwner,
		SessionName:       row.SessionName,
		RecordingName:     row.RecordingName,
		ContextIdentifier: row.ContextIdentifier,
		ContextName:       row.ContextName,
		RecordingUID:      row.RecordingUID,
		CourseID:          row.CourseID,
		CourseName:        row.CourseName,
		CourseDeletedOn:   row.CourseDeletedOn,
		DurationInMinutes: row.DurationInMinutes,
		SizeInGB:          row.SizeInGB,
		DownloadCount:     row.DownloadCount,
		LastDownloaded:    row.LastDownloaded,
		PlaybackCount:     row.PlaybackCount,
		LastPlayedback:    row.LastPlayedback,
		PublicInd:         row.PublicInd,
		CreatedTime:       row.CreatedTime,
	}
}

// ParquetWriter buffers rows into row groups of the generic writer.
type ParquetWriter struct {
	w    *parquet.GenericWriter[parquetRow]
	rows int64
}

func NewParquetWriter(w io.Writer) *ParquetWriter {
	return &ParquetWriter{w: parquet.NewGenericWriter[parquetRow](w)}
}

func (p *ParquetWriter) Write(row report.Row) error {
	if _, err := p.w.Write([]parquetRow{toParquetRow(row)}); err != nil {
		return fmt.Errorf("write parquet row: %w", err)
	}
	p.rows++
	return nil
}

func (p *ParquetWriter) Rows() int64 {
	return p.rows
}

func (p *ParquetWriter) Close() error {
	if err := p.w.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func WriteParquet(w io.Writer, rows []report.Row) error {
	converted := make([]parquetRow, 0, len(rows))
	for _, row := range rows {
		converted = append(converted, toParquetRow(row))
	}
	writer := parquet.NewGenericWriter[parquetRow](w)
	if _, err := writer.Write(converted); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// RowWriter is implemented by CSVWriter and ParquetWriter.
type RowWriter interface {
	Write(report.Row) error
	Rows() int64
	Close() error
}

func NewWriter(format Format, w io.Writer) (RowWriter, error) {
	switch format {
	case FormatCSV:
		return NewCSVWriter(w), nil
	case FormatParquet:
		return NewParquetWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported report format %q", string(format))
	}
}
