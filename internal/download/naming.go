package download

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/recreport/recreport/internal/export"
	"github.com/recreport/recreport/internal/report"
)

const (
	maxBaseNameLen = 200
	noContextDir   = "_none"
	fileExtension  = ".mp4"
)

var (
	slugStrip    = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	slugCollapse = regexp.MustCompile(`[-\s]+`)
)

// Slugify keeps letters, digits, underscores and hyphens, lowercases the
// rest and joins words with single hyphens.
func Slugify(value string) string {
	value = norm.NFKC.String(value)
	value = slugStrip.ReplaceAllString(strings.ToLower(value), "")
	value = slugCollapse.ReplaceAllString(value, "-")
	return strings.Trim(value, "-_")
}

var createdLayouts = []string{report.CreatedLayout, export.TimeLayout, "2006-01-02 15:04"}

// ParseCreated reads the created column of either the report itself or the
// native Collaborate recording report.
func ParseCreated(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range createdLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized created time %q", raw)
}

// FileName orders recordings chronologically:
// YYYYMMDD_HHMM_<session>_<recording>.mp4
func FileName(created time.Time, sessionName, recordingName string) string {
	base := created.Format("20060102_1504") + "_" + Slugify(sessionName) + "_" + Slugify(recordingName)
	return truncateRunes(base, maxBaseNameLen) + fileExtension
}

// Dir is the per-course directory under root, or root/_none for recordings
// without a course.
func Dir(root, contextIdentifier string) string {
	folder := Slugify(contextIdentifier)
	if folder == "" {
		folder = noContextDir
	}
	return filepath.Join(root, folder)
}

func truncateRunes(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	count := 0
	for i := range value {
		if count == limit {
			return value[:i]
		}
		count++
	}
	return value
}
