package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/recreport/recreport/internal/report"
	"github.com/recreport/recreport/internal/storage"
	"github.com/recreport/recreport/internal/warehouse"
)

// Config points at parquet exports of the warehouse tables, one directory per
// table under ExportPrefix.
type Config struct {
	Store        storage.ObjectStore
	ExportPrefix string
	Tables       report.Tables
}

// Open stages the parquet exports into a temp dir and exposes each table as a
// view in an in-memory DuckDB. Closing the handle removes the staged files.
func Open(ctx context.Context, cfg Config) (*warehouse.Handle, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: object store is required", report.ErrConnection)
	}
	tables := cfg.Tables
	if tables == (report.Tables{}) {
		tables = report.DefaultTables()
	}
	if err := tables.Validate(); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "recreport-warehouse-")
	if err != nil {
		return nil, fmt.Errorf("create warehouse temp dir: %w", err)
	}
	cleanup := func() error { return os.RemoveAll(workDir) }

	groupedPaths := make(map[string][]string, len(tables.Names()))
	for _, table := range tables.Names() {
		localPaths, err := stageTable(ctx, cfg.Store, cfg.ExportPrefix, table, workDir)
		if err != nil {
			_ = cleanup()
			return nil, err
		}
		groupedPaths[table] = localPaths
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("%w: open duckdb: %w", report.ErrConnection, err)
	}

	for _, table := range tables.Names() {
		if err := createView(ctx, db, table, groupedPaths[table]); err != nil {
			_ = db.Close()
			_ = cleanup()
			return nil, err
		}
	}

	return warehouse.NewHandle(db, report.DialectDuckDB, cleanup), nil
}

func stageTable(ctx context.Context, store storage.ObjectStore, exportPrefix, table, workDir string) ([]string, error) {
	prefix, err := storage.TableExportPrefix(exportPrefix, table)
	if err != nil {
		return nil, err
	}
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list export %q: %w", report.ErrConnection, prefix, err)
	}

	localPaths := make([]string, 0, len(objects))
	for index, object := range objects {
		if !strings.HasSuffix(object.Key, ".parquet") {
			continue
		}
		localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(table), index))
		if err := stageObject(ctx, store, object.Key, localPath); err != nil {
			return nil, err
		}
		localPaths = append(localPaths, localPath)
	}
	if len(localPaths) == 0 {
		return nil, fmt.Errorf("%w: no parquet export for table %q under %q", report.ErrQueryExecution, table, path.Clean(prefix))
	}
	return localPaths, nil
}

// stageObject copies one export object to localPath. A partially written
// file is removed.
func stageObject(ctx context.Context, store storage.ObjectStore, key, localPath string) (err error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: get object %q: %w", report.ErrConnection, key, err)
	}
	defer func() { _ = reader.Close() }()

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create staged file %q: %w", localPath, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(localPath)
		}
	}()

	if _, err = io.Copy(file, reader); err != nil {
		_ = file.Close()
		return fmt.Errorf("%w: copy object %q: %w", report.ErrConnection, key, err)
	}
	if err = file.Close(); err != nil {
		return fmt.Errorf("close staged file %q: %w", localPath, err)
	}
	return nil
}

func createView(ctx context.Context, db *sql.DB, table string, localPaths []string) error {
	if schema, _, ok := strings.Cut(table, "."); ok {
		if _, err := db.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS `+quoteIdent(schema)); err != nil {
			return fmt.Errorf("%w: create schema for table %q: %w", report.ErrQueryExecution, table, err)
		}
	}
	viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteQualified(table), quoteStringArray(localPaths))
	if _, err := db.ExecContext(ctx, viewSQL); err != nil {
		return fmt.Errorf("%w: create view for table %q: %w", report.ErrQueryExecution, table, err)
	}
	return nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteQualified(value string) string {
	parts := strings.Split(value, ".")
	for i, part := range parts {
		parts[i] = quoteIdent(part)
	}
	return strings.Join(parts, ".")
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}
