//go:build integration

package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/recreport/recreport/internal/report"
)

func TestRunnerAppliesMirrorAndReportRunsAgainstIt(t *testing.T) {
	adminDSN := strings.TrimSpace(os.Getenv("RECREPORT_TEST_WAREHOUSE_DSN"))
	if adminDSN == "" {
		t.Skip("RECREPORT_TEST_WAREHOUSE_DSN is not set")
	}

	testDSN, cleanup := createTemporaryDatabase(t, adminDSN)
	defer cleanup()

	db, err := sql.Open("pgx", testDSN)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	runner := NewRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	applied, err := runner.Up(ctx, db, 0)
	if err != nil {
		t.Fatalf("runner.Up() error = %v", err)
	}
	if applied != 2 {
		t.Fatalf("runner.Up() applied %d migrations, want 2", applied)
	}
	assertTableExists(t, db, "cdm_clb", "media", true)
	assertTableExists(t, db, "cdm_map", "course_room", true)

	query, err := report.NewQuery(db, report.Params{
		SessionOwner: "lti-owner",
		LinkPrefix:   "https://us.bbcollab.com/recording/",
		Location:     time.UTC,
	})
	if err != nil {
		t.Fatalf("NewQuery() error = %v", err)
	}
	rows, err := query.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	uids := make([]string, 0, len(rows))
	for _, row := range rows {
		uids = append(uids, row.RecordingUID)
	}
	if strings.Join(uids, ",") != "uid-early,uid-included" {
		t.Fatalf("uids = %v", uids)
	}
	if rows[0].CourseDeletedOn == nil {
		t.Fatal("expected course_deleted_on for the orientation course")
	}
	if rows[1].DurationInMinutes == nil || *rows[1].DurationInMinutes != 2 {
		t.Fatalf("duration = %v", rows[1].DurationInMinutes)
	}
	if rows[1].ContextIdentifier != "CS101" {
		t.Fatalf("context_identifier = %q", rows[1].ContextIdentifier)
	}

	status, err := runner.Status(ctx, db)
	if err != nil {
		t.Fatalf("runner.Status() error = %v", err)
	}
	for _, item := range status {
		if !item.Applied {
			t.Fatalf("migration %d not applied", item.Version)
		}
	}

	rolledBack, err := runner.Down(ctx, db, 2)
	if err != nil {
		t.Fatalf("runner.Down() error = %v", err)
	}
	if rolledBack != 2 {
		t.Fatalf("runner.Down() rolled back %d migrations, want 2", rolledBack)
	}
	assertTableExists(t, db, "cdm_clb", "media", false)
}

func createTemporaryDatabase(t *testing.T, adminDSN string) (string, func()) {
	t.Helper()

	parsed, err := url.Parse(adminDSN)
	if err != nil {
		t.Fatalf("url.Parse(adminDSN) error = %v", err)
	}
	if strings.TrimPrefix(parsed.Path, "/") == "" {
		t.Fatal("admin DSN must include a database name")
	}

	adminDB, err := sql.Open("pgx", adminDSN)
	if err != nil {
		t.Fatalf("sql.Open(adminDSN) error = %v", err)
	}

	name := fmt.Sprintf("recreport_it_%d", time.Now().UnixNano())
	if _, err := adminDB.Exec(`CREATE DATABASE ` + name); err != nil {
		t.Fatalf("CREATE DATABASE failed: %v", err)
	}

	testURL := *parsed
	testURL.Path = "/" + name

	cleanup := func() {
		defer func() { _ = adminDB.Close() }()
		if _, err := adminDB.Exec(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1`, name); err != nil {
			t.Fatalf("terminate test db sessions: %v", err)
		}
		if _, err := adminDB.Exec(`DROP DATABASE ` + name); err != nil {
			t.Fatalf("DROP DATABASE failed: %v", err)
		}
	}
	return testURL.String(), cleanup
}

func assertTableExists(t *testing.T, db *sql.DB, schema, table string, expected bool) {
	t.Helper()

	var count int
	query := `SELECT COUNT(*) FROM pg_tables WHERE schemaname = $1 AND tablename = $2`
	if err := db.QueryRow(query, schema, table).Scan(&count); err != nil {
		t.Fatalf("query table %s.%s existence failed: %v", schema, table, err)
	}
	if exists := count > 0; exists != expected {
		t.Fatalf("table %s.%s exists = %v, want %v", schema, table, exists, expected)
	}
}
