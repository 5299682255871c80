package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/recreport/recreport/internal/export"
	"github.com/recreport/recreport/internal/observability"
)

// API is the part of the Collaborate client the downloader needs.
type API interface {
	DownloadURL(ctx context.Context, recordingUID string) (string, error)
	Fetch(ctx context.Context, mediaURL string) (io.ReadCloser, int64, error)
}

type Config struct {
	RegionHost  string
	LTIKey      string
	DownloadDir string
}

type Service struct {
	API    API
	Config Config
	Logger *slog.Logger
}

type Summary struct {
	Downloaded int   `json:"downloaded"`
	Skipped    int   `json:"skipped"`
	Failed     int   `json:"failed"`
	Bytes      int64 `json:"bytes"`
}

// Column aliases: the report's own header first, then the native
// Collaborate recording report header.
var (
	colRecordingLink     = []string{"recording_link", "RecordingLink"}
	colRecordingUID      = []string{"recording_uid", "RecordingUid"}
	colSessionOwner      = []string{"session_owner", "SessionOwner"}
	colSessionName       = []string{"session_name", "SessionName"}
	colRecordingName     = []string{"recording_name", "RecordingName"}
	colContextIdentifier = []string{"context_identifier", "ContextIdentifier"}
	colRecordingCreated  = []string{"recording_created", "RecordingCreated"}
)

// RunFile downloads every recording listed in a CSV report file.
func (s *Service) RunFile(ctx context.Context, reportPath string) (Summary, error) {
	file, err := os.Open(reportPath)
	if err != nil {
		return Summary{}, fmt.Errorf("open report: %w", err)
	}
	defer func() { _ = file.Close() }()

	records, err := export.ReadCSV(file)
	if err != nil {
		return Summary{}, err
	}
	return s.Run(ctx, records)
}

// Run downloads recordings one at a time. Rows owned by another LTI key and
// recordings whose download URL cannot be resolved are skipped. Transfer
// failures are counted and reported together once every row was tried.
func (s *Service) Run(ctx context.Context, records []export.CSVRecord) (Summary, error) {
	s.ensureDefaults()
	if s.API == nil {
		return Summary{}, fmt.Errorf("collab api client is required")
	}
	if strings.TrimSpace(s.Config.LTIKey) == "" {
		return Summary{}, fmt.Errorf("lti key is required")
	}

	summary := Summary{}
	failures := make([]string, 0)
	linkPrefix := strings.TrimRight(s.Config.RegionHost, "/") + "/recording/"

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		uid := recordingUID(record, linkPrefix)
		if uid == "" {
			summary.Skipped++
			observability.ObserveDownload(observability.DownloadOutcomeSkipped, 0)
			s.Logger.WarnContext(ctx, "recording skipped", slog.String("reason", "missing recording uid"))
			continue
		}
		if owner := field(record, colSessionOwner); owner != s.Config.LTIKey {
			summary.Skipped++
			observability.ObserveDownload(observability.DownloadOutcomeSkipped, 0)
			s.Logger.InfoContext(ctx, "recording skipped",
				slog.String("recording_uid", uid),
				slog.String("reason", "not owned by lti key"),
				slog.String("session_owner", owner),
			)
			continue
		}

		mediaURL, err := s.API.DownloadURL(ctx, uid)
		if err != nil {
			summary.Skipped++
			observability.ObserveDownload(observability.DownloadOutcomeSkipped, 0)
			s.Logger.WarnContext(ctx, "recording skipped",
				slog.String("recording_uid", uid),
				slog.String("reason", "download url unavailable"),
				slog.Any("error", err),
			)
			continue
		}

		target, err := targetPath(record, s.Config.DownloadDir)
		if err != nil {
			summary.Failed++
			observability.ObserveDownload(observability.DownloadOutcomeFailed, 0)
			failures = append(failures, fmt.Sprintf("%s: %v", uid, err))
			s.Logger.ErrorContext(ctx, "recording failed", slog.String("recording_uid", uid), slog.Any("error", err))
			continue
		}

		written, err := s.save(ctx, mediaURL, target)
		if err != nil {
			summary.Failed++
			observability.ObserveDownload(observability.DownloadOutcomeFailed, 0)
			failures = append(failures, fmt.Sprintf("%s: %v", uid, err))
			s.Logger.ErrorContext(ctx, "recording failed", slog.String("recording_uid", uid), slog.Any("error", err))
			continue
		}
		summary.Downloaded++
		summary.Bytes += written
		observability.ObserveDownload(observability.DownloadOutcomeDownloaded, written)
		s.Logger.InfoContext(ctx, "recording downloaded",
			slog.String("recording_uid", uid),
			slog.String("path", target),
			slog.Int64("bytes", written),
		)
	}

	if len(failures) > 0 {
		return summary, fmt.Errorf("download encountered %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	return summary, nil
}

// save streams the media into a temp file next to target and renames it
// into place once complete.
func (s *Service) save(ctx context.Context, mediaURL, target string) (int64, error) {
	body, _, err := s.API.Fetch(ctx, mediaURL)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create download dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".download-*.part")
	if err != nil {
		return 0, fmt.Errorf("create download file: %w", err)
	}
	tmpPath := tmp.Name()

	written, copyErr := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("write recording: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("finalize recording: %w", err)
	}
	return written, nil
}

func (s *Service) ensureDefaults() {
	if s.Logger == nil {
		s.Logger = slog.New(slog.DiscardHandler)
	}
	if s.Config.DownloadDir == "" {
		s.Config.DownloadDir = "recordings"
	}
}

func targetPath(record export.CSVRecord, root string) (string, error) {
	created, err := ParseCreated(field(record, colRecordingCreated))
	if err != nil {
		return "", err
	}
	name := FileName(created, field(record, colSessionName), field(record, colRecordingName))
	return filepath.Join(Dir(root, field(record, colContextIdentifier)), name), nil
}

func recordingUID(record export.CSVRecord, linkPrefix string) string {
	if link := field(record, colRecordingLink); link != "" {
		if uid := strings.TrimSpace(strings.TrimPrefix(link, linkPrefix)); uid != "" && uid != link {
			return uid
		}
	}
	return field(record, colRecordingUID)
}

func field(record export.CSVRecord, names []string) string {
	for _, name := range names {
		if value := record.Get(name); value != "" {
			return value
		}
	}
	return ""
}
