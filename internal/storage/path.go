package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildReportPath lays reports out by run date:
// <prefix>/date=YYYY-MM-DD/recording-report-<runID>.<ext>
func BuildReportPath(prefix string, runAt time.Time, runID, format string) (string, error) {
	if err := validatePathComponent(runID, "run id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(format, "format"); err != nil {
		return "", err
	}
	ts := runAt.UTC()
	parts := make([]string, 0, 3)
	if prefix = strings.Trim(strings.TrimSpace(prefix), "/"); prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("recording-report-%s.%s", runID, format),
	)
	return path.Join(parts...), nil
}

// TableExportPrefix is where the parquet export of one warehouse table lives:
// <exportPrefix>/<table>/
func TableExportPrefix(exportPrefix, table string) (string, error) {
	if err := validatePathComponent(table, "table name"); err != nil {
		return "", err
	}
	exportPrefix = strings.Trim(strings.TrimSpace(exportPrefix), "/")
	if exportPrefix == "" {
		return table + "/", nil
	}
	return path.Join(exportPrefix, table) + "/", nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
