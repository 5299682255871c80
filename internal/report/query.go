package report

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Query is the recording report: recordings older than the cutoff joined to
// the course their room is mapped to.
type Query struct {
	db     Querier
	params Params
	sql    string
}

func NewQuery(db Querier, params Params) (*Query, error) {
	if db == nil {
		return nil, fmt.Errorf("warehouse connection is required")
	}
	params = params.withDefaults()
	if err := params.validate(); err != nil {
		return nil, err
	}
	sqlText, err := BuildSQL(params)
	if err != nil {
		return nil, err
	}
	return &Query{db: db, params: params, sql: sqlText}, nil
}

func (q *Query) SQL() string {
	return q.sql
}

func (q *Query) Params() Params {
	return q.params
}

// BuildSQL renders the report query. The cutoff is the only bind parameter.
func BuildSQL(params Params) (string, error) {
	params = params.withDefaults()
	if err := params.Tables.Validate(); err != nil {
		return "", err
	}
	uidExpr, err := params.Dialect.mediaUIDExpr("m.stage")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(`
SELECT DISTINCT
	m.created_time AS created_time,
	` + uidExpr + ` AS recording_uid,
	r.name AS session_name,
	m.name AS recording_name,
	c.course_number AS context_identifier,
	c.name AS context_name,
	c.id AS course_id,
	c.row_deleted_time AS course_deleted_on,
	CAST(m.duration AS DOUBLE PRECISION) / 60000 AS duration_in_minutes,
	CAST(m.size AS DOUBLE PRECISION) * 1e-9 AS size_in_gb,
	m.download_cnt AS download_count,
	m.last_download_time AS last_downloaded,
	m.playback_cnt AS playback_count,
	m.last_playback_time AS last_playedback,
	m.public_access_ind AS public_ind
FROM ` + params.Tables.Media + ` m
JOIN ` + params.Tables.Room + ` r ON r.id = m.room_id
JOIN ` + params.Tables.Session + ` s ON s.room_id = r.id
JOIN ` + params.Tables.CourseRoomMap + ` cr ON cr.clb_room_id = r.id
JOIN ` + params.Tables.Course + ` c ON c.id = cr.lms_course_id
WHERE m.media_category = 'R'
	AND m.row_deleted_time IS NULL
	AND m.created_time < $1
ORDER BY created_time ASC`)
	if params.RowLimit > 0 {
		fmt.Fprintf(&b, "\nLIMIT %d", params.RowLimit)
	}
	return b.String(), nil
}

func (q *Query) Run(ctx context.Context) ([]Row, error) {
	rows := make([]Row, 0)
	err := q.Each(ctx, func(row Row) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Each streams report rows to fn in created_time order. An error returned by
// fn stops the iteration and is returned unwrapped.
func (q *Query) Each(ctx context.Context, fn func(Row) error) error {
	result, err := q.db.QueryContext(ctx, q.sql, q.params.Cutoff)
	if err != nil {
		return classify("execute report query", err)
	}
	defer func() { _ = result.Close() }()

	for result.Next() {
		row, err := q.scan(result)
		if err != nil {
			return classify("scan report row", err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := result.Err(); err != nil {
		return classify("iterate report rows", err)
	}
	return nil
}

func (q *Query) scan(rows *sql.Rows) (Row, error) {
	var (
		row               Row
		uid               sql.NullString
		sessionName       sql.NullString
		recordingName     sql.NullString
		contextIdentifier sql.NullString
		contextName       sql.NullString
		courseID          sql.NullString
		courseDeletedOn   sql.NullTime
		duration          sql.NullFloat64
		size              sql.NullFloat64
		downloadCount     sql.NullInt64
		lastDownloaded    sql.NullTime
		playbackCount     sql.NullInt64
		lastPlayedback    sql.NullTime
		publicInd         sql.NullBool
	)
	if err := rows.Scan(
		&row.CreatedTime,
		&uid,
		&sessionName,
		&recordingName,
		&contextIdentifier,
		&contextName,
		&courseID,
		&courseDeletedOn,
		&duration,
		&size,
		&downloadCount,
		&lastDownloaded,
		&playbackCount,
		&lastPlayedback,
		&publicInd,
	); err != nil {
		return Row{}, err
	}

	row.RecordingCreated = FormatCreated(row.CreatedTime, q.params.Location)
	row.RecordingUID = uid.String
	row.RecordingLink = RecordingLink(q.params.LinkPrefix, uid.String)
	row.SessionOwner = q.params.SessionOwner
	row.SessionName = sessionName.String
	row.RecordingName = recordingName.String
	row.ContextIdentifier = contextIdentifier.String
	row.ContextName = contextName.String
	row.CourseID = courseID.String
	row.CourseName = contextName.String
	row.CourseDeletedOn = nullTime(courseDeletedOn)
	row.DurationInMinutes = nullFloat(duration)
	row.SizeInGB = nullFloat(size)
	row.DownloadCount = nullInt(downloadCount)
	row.LastDownloaded = nullTime(lastDownloaded)
	row.PlaybackCount = nullInt(playbackCount)
	row.LastPlayedback = nullTime(lastPlayedback)
	if publicInd.Valid {
		value := publicInd.Bool
		row.PublicInd = &value
	}
	return row, nil
}

// classify sorts a driver error into ErrConnection or ErrQueryExecution.
// Deadlines count as query failures.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %w", ErrQueryExecution, op, err)
	}
	if IsConnectionError(err) {
		return fmt.Errorf("%w: %s: %w", ErrConnection, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrQueryExecution, op, err)
}

func IsConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && !netErr.Timeout()
}

func nullTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullFloat(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	f := value.Float64
	return &f
}

func nullInt(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	i := value.Int64
	return &i
}
