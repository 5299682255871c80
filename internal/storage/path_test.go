package storage

import (
	"testing"
	"time"
)

func TestBuildReportPath(t *testing.T) {
	ts := time.Date(2026, time.February, 19, 22, 5, 0, 0, time.FixedZone("x", -5*3600))
	key, err := BuildReportPath("/reports/", ts, "run-1", "csv")
	if err != nil {
		t.Fatalf("BuildReportPath() error = %v", err)
	}
	want := "reports/date=2026-02-20/recording-report-run-1.csv"
	if key != want {
		t.Fatalf("BuildReportPath() = %q, want %q", key, want)
	}
}

func TestBuildReportPathWithoutPrefix(t *testing.T) {
	key, err := BuildReportPath("", time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), "abc", "parquet")
	if err != nil {
		t.Fatalf("BuildReportPath() error = %v", err)
	}
	if key != "date=2026-03-01/recording-report-abc.parquet" {
		t.Fatalf("BuildReportPath() = %q", key)
	}
}

func TestTableExportPrefix(t *testing.T) {
	prefix, err := TableExportPrefix("exports/", "cdm_clb.media")
	if err != nil {
		t.Fatalf("TableExportPrefix() error = %v", err)
	}
	if prefix != "exports/cdm_clb.media/" {
		t.Fatalf("TableExportPrefix() = %q", prefix)
	}
}

func TestBuildPathRejectsInvalidComponent(t *testing.T) {
	if _, err := BuildReportPath("", time.Now(), "../oops", "csv"); err == nil {
		t.Fatal("expected invalid run id error")
	}
	if _, err := TableExportPrefix("exports", "../media"); err == nil {
		t.Fatal("expected invalid table name error")
	}
}
