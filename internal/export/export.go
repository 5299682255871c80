package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/recreport/recreport/internal/report"
)

// TimeLayout renders timestamp columns other than recording_created.
const TimeLayout = "2006-01-02 15:04:05"

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", raw)
	}
}

func (f Format) Extension() string {
	return string(f)
}

func (f Format) ContentType() string {
	if f == FormatParquet {
		return "application/vnd.apache.parquet"
	}
	return "text/csv"
}

// Record returns the row's cells in report.Columns order. Null cells are
// empty strings.
func Record(row report.Row) []string {
	return []string{
		row.RecordingCreated,
		row.RecordingLink,
		row.SessionOwner,
		row.SessionName,
		row.RecordingName,
		row.ContextIdentifier,
		row.ContextName,
		row.RecordingUID,
		row.CourseID,
		row.CourseName,
		formatTime(row.CourseDeletedOn),
		formatFloat(row.DurationInMinutes),
		formatFloat(row.SizeInGB),
		formatInt(row.DownloadCount),
		formatTime(row.LastDownloaded),
		formatInt(row.PlaybackCount),
		formatTime(row.LastPlayedback),
		formatBool(row.PublicInd),
		row.CreatedTime.Format(TimeLayout),
	}
}

func formatTime(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.Format(TimeLayout)
}

func formatFloat(value *float64) string {
	if value == nil {
		return ""
	}
	return strconv.FormatFloat(*value, 'f', -1, 64)
}

func formatInt(value *int64) string {
	if value == nil {
		return ""
	}
	return strconv.FormatInt(*value, 10)
}

func formatBool(value *bool) string {
	if value == nil {
		return ""
	}
	return strconv.FormatBool(*value)
}
