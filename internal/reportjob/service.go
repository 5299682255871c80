package reportjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/recreport/recreport/internal/export"
	"github.com/recreport/recreport/internal/observability"
	"github.com/recreport/recreport/internal/report"
	"github.com/recreport/recreport/internal/storage"
	"github.com/recreport/recreport/internal/warehouse"
)

// ObjectKeyPrefix is the object store directory finished reports go to.
const ObjectKeyPrefix = "reports"

// ErrUploadVerification means the uploaded object does not match the local
// report file.
var ErrUploadVerification = errors.New("report upload verification failed")

// Opener connects to the warehouse for one run. The runner closes the
// returned handle.
type Opener func(ctx context.Context) (*warehouse.Handle, error)

type Config struct {
	Params       report.Params
	Format       export.Format
	OutputDir    string
	Upload       bool
	QueryTimeout time.Duration
}

type Service struct {
	Open        Opener
	ObjectStore storage.ObjectStore
	Config      Config
	Logger      *slog.Logger
	Clock       func() time.Time
	NewRunID    func() string
}

type Summary struct {
	RunID     string        `json:"run_id"`
	Rows      int64         `json:"rows"`
	Path      string        `json:"path"`
	ObjectKey string        `json:"object_key,omitempty"`
	Bytes     int64         `json:"bytes"`
	Duration  time.Duration `json:"duration"`
}

// RunOnce executes the report query and writes the result to a local file,
// uploading it when configured. A failed run leaves no report file behind.
func (s *Service) RunOnce(ctx context.Context) (Summary, error) {
	s.ensureDefaults()
	if s.Open == nil {
		return Summary{}, fmt.Errorf("warehouse opener is required")
	}
	if s.Config.Upload && s.ObjectStore == nil {
		return Summary{}, fmt.Errorf("object store is required for upload")
	}

	startedAt := s.Clock()
	summary := Summary{RunID: s.NewRunID()}
	ctx = observability.ContextWithRunID(ctx, summary.RunID)
	logger := observability.WithRunID(ctx, s.Logger)
	logger.InfoContext(ctx, "report run started",
		slog.Time("cutoff", s.Config.Params.Cutoff),
		slog.String("format", string(s.Config.Format)),
	)

	queryElapsed, err := s.run(ctx, &summary)
	summary.Duration = s.Clock().Sub(startedAt)
	if err != nil {
		observability.ObserveReportRun(observability.RunStatusFailure, summary.Rows, queryElapsed, s.Clock())
		logger.ErrorContext(ctx, "report run failed", slog.Any("error", err), slog.Any("summary", summary))
		return summary, err
	}
	observability.ObserveReportRun(observability.RunStatusSuccess, summary.Rows, queryElapsed, s.Clock())
	logger.InfoContext(ctx, "report run completed", slog.Any("summary", summary))
	return summary, nil
}

func (s *Service) run(ctx context.Context, summary *Summary) (time.Duration, error) {
	handle, err := s.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = handle.Close() }()

	params := s.Config.Params
	params.Dialect = handle.Dialect
	query, err := report.NewQuery(handle.DB, params)
	if err != nil {
		return 0, fmt.Errorf("build report query: %w", err)
	}

	if err := os.MkdirAll(s.Config.OutputDir, 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}
	finalPath := filepath.Join(s.Config.OutputDir, fileName(summary.RunID, s.Config.Format))
	tmp, err := os.CreateTemp(s.Config.OutputDir, ".recording-report-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create report file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	writer, err := export.NewWriter(s.Config.Format, tmp)
	if err != nil {
		return 0, err
	}

	queryCtx := ctx
	if s.Config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, s.Config.QueryTimeout)
		defer cancel()
	}
	queryStart := s.Clock()
	err = query.Each(queryCtx, writer.Write)
	queryElapsed := s.Clock().Sub(queryStart)
	summary.Rows = writer.Rows()
	if err != nil {
		return queryElapsed, err
	}
	if err := writer.Close(); err != nil {
		return queryElapsed, err
	}
	if err := tmp.Sync(); err != nil {
		return queryElapsed, fmt.Errorf("sync report file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return queryElapsed, fmt.Errorf("close report file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return queryElapsed, fmt.Errorf("finalize report file: %w", err)
	}
	committed = true
	summary.Path = finalPath

	info, err := os.Stat(finalPath)
	if err != nil {
		return queryElapsed, fmt.Errorf("stat report file: %w", err)
	}
	summary.Bytes = info.Size()

	if !s.Config.Upload {
		return queryElapsed, nil
	}
	key, err := s.upload(ctx, finalPath, summary.RunID, info.Size())
	if err != nil {
		return queryElapsed, err
	}
	summary.ObjectKey = key
	return queryElapsed, nil
}

func (s *Service) upload(ctx context.Context, localPath, runID string, size int64) (string, error) {
	key, err := storage.BuildReportPath(ObjectKeyPrefix, s.Clock(), runID, s.Config.Format.Extension())
	if err != nil {
		return "", err
	}
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open report file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := s.ObjectStore.Put(ctx, key, file, size, storage.PutOptions{ContentType: s.Config.Format.ContentType()}); err != nil {
		return "", fmt.Errorf("upload report: %w", err)
	}
	info, err := s.ObjectStore.Stat(ctx, key)
	if err != nil {
		return "", fmt.Errorf("stat uploaded report: %w", err)
	}
	if info.Size != size {
		return "", fmt.Errorf("%w: %s has %d bytes, local file has %d", ErrUploadVerification, key, info.Size, size)
	}
	return key, nil
}

func (s *Service) ensureDefaults() {
	if s.Config.Format == "" {
		s.Config.Format = export.FormatCSV
	}
	if s.Config.OutputDir == "" {
		s.Config.OutputDir = "."
	}
	if s.Logger == nil {
		s.Logger = slog.New(slog.DiscardHandler)
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.NewRunID == nil {
		s.NewRunID = observability.NewRunID
	}
}

func fileName(runID string, format export.Format) string {
	return fmt.Sprintf("recording-report-%s.%s", runID, format.Extension())
}
