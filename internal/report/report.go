package report

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrConnection     = errors.New("report: warehouse connection failed")
	ErrQueryExecution = errors.New("report: query execution failed")
)

// CreatedLayout is the local-time rendering of recording_created.
const CreatedLayout = "01/02/2006 15:04"

// Columns lists the report columns in output order.
var Columns = []string{
	"recording_created",
	"recording_link",
	"session_owner",
	"session_name",
	"recording_name",
	"context_identifier",
	"context_name",
	"recording_uid",
	"course_id",
	"course_name",
	"course_deleted_on",
	"duration_in_minutes",
	"size_in_gb",
	"download_count",
	"last_downloaded",
	"playback_count",
	"last_playedback",
	"public_ind",
	"created_time",
}

type Row struct {
	RecordingCreated  string
	RecordingLink     string
	SessionOwner      string
	SessionName       string
	RecordingName     string
	ContextIdentifier string
	ContextName       string
	RecordingUID      string
	CourseID          string
	CourseName        string
	CourseDeletedOn   *time.Time
	DurationInMinutes *float64
	SizeInGB          *float64
	DownloadCount     *int64
	LastDownloaded    *time.Time
	PlaybackCount     *int64
	LastPlayedback    *time.Time
	PublicInd         *bool
	CreatedTime       time.Time
}

type Tables struct {
	Media         string
	Room          string
	Session       string
	CourseRoomMap string
	Course        string
}

func DefaultTables() Tables {
	return Tables{
		Media:         "cdm_clb.media",
		Room:          "cdm_clb.room",
		Session:       "cdm_clb.session",
		CourseRoomMap: "cdm_map.course_room",
		Course:        "cdm_lms.course",
	}
}

func (t Tables) Names() []string {
	return []string{t.Media, t.Room, t.Session, t.CourseRoomMap, t.Course}
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*){0,2}$`)

func (t Tables) Validate() error {
	for _, name := range t.Names() {
		if !tableNamePattern.MatchString(name) {
			return fmt.Errorf("invalid table name: %q", name)
		}
	}
	return nil
}

// Dialect covers the few expressions that differ between warehouse engines.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectDuckDB   Dialect = "duckdb"
)

func (d Dialect) mediaUIDExpr(column string) (string, error) {
	switch d {
	case DialectPostgres, "":
		return column + ` ->> 'media_uid'`, nil
	case DialectDuckDB:
		return `json_extract_string(` + column + `, '$.media_uid')`, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", string(d))
	}
}

type Params struct {
	Cutoff       time.Time
	SessionOwner string
	LinkPrefix   string
	Location     *time.Location
	// RowLimit caps the result for manual inspection; 0 means unlimited.
	RowLimit int
	Tables   Tables
	Dialect  Dialect
}

func DefaultCutoff() time.Time {
	return time.Date(2017, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func (p Params) withDefaults() Params {
	if p.Cutoff.IsZero() {
		p.Cutoff = DefaultCutoff()
	}
	if p.Location == nil {
		p.Location = time.Local
	}
	if p.Tables == (Tables{}) {
		p.Tables = DefaultTables()
	}
	if p.Dialect == "" {
		p.Dialect = DialectPostgres
	}
	return p
}

func (p Params) validate() error {
	if strings.TrimSpace(p.SessionOwner) == "" {
		return fmt.Errorf("session owner label is required")
	}
	if strings.TrimSpace(p.LinkPrefix) == "" {
		return fmt.Errorf("recording link prefix is required")
	}
	if p.RowLimit < 0 {
		return fmt.Errorf("row limit must be >= 0")
	}
	return p.Tables.Validate()
}

// RecordingLink joins the configured prefix and a media uid.
func RecordingLink(prefix, uid string) string {
	return prefix + uid
}

func FormatCreated(created time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return created.In(loc).Format(CreatedLayout)
}
