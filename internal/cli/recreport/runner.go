package recreport

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/recreport/recreport/internal/collab"
	"github.com/recreport/recreport/internal/config"
	"github.com/recreport/recreport/internal/download"
	"github.com/recreport/recreport/internal/observability"
	"github.com/recreport/recreport/internal/reportjob"
	"github.com/recreport/recreport/internal/storage"
	s3store "github.com/recreport/recreport/internal/storage/s3"
)

// Options carries the loaded configuration plus optional dependency
// overrides. Nil overrides are built from Config.
type Options struct {
	Config      config.Config
	Opener      reportjob.Opener
	ObjectStore storage.ObjectStore
	CollabAPI   download.API
	Stdout      io.Writer
	Stderr      io.Writer
}

func Run(ctx context.Context, args []string, opts Options) int {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	cfg := opts.Config

	fs := flag.NewFlagSet("recreport", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { writeUsage(stderr, fs) }

	cutoff := fs.String("cutoff", "", "only include recordings created before this date (YYYY-MM-DD or RFC3339)")
	owner := fs.String("owner", cfg.Report.SessionOwner, "session owner label written to every row")
	format := fs.String("format", cfg.Report.Format, "report format: csv or parquet")
	outputDir := fs.String("output-dir", cfg.Report.OutputDir, "directory for the report file")
	rowLimit := fs.Int("row-limit", cfg.Report.RowLimit, "cap the number of rows (0 = unlimited)")
	upload := fs.Bool("upload", cfg.Report.Upload, "upload the finished report to the object store")
	input := fs.String("input", "", "report CSV to download recordings from")
	downloadDir := fs.String("download-dir", cfg.Collab.DownloadDir, "root directory for downloaded recordings")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		writeUsage(stderr, fs)
		return 2
	}

	if strings.TrimSpace(*cutoff) != "" {
		parsed, err := config.ParseDate(*cutoff)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "invalid -cutoff: %v\n", err)
			return 2
		}
		cfg.Report.Cutoff = parsed
	}
	cfg.Report.SessionOwner = strings.TrimSpace(*owner)
	cfg.Report.Format = strings.ToLower(strings.TrimSpace(*format))
	cfg.Report.OutputDir = *outputDir
	cfg.Report.RowLimit = *rowLimit
	cfg.Report.Upload = *upload
	cfg.Collab.DownloadDir = *downloadDir

	logger := observability.NewLogger(cfg, stderr)

	switch command := strings.TrimSpace(fs.Arg(0)); command {
	case "report":
		if cfg.Report.SessionOwner == "" {
			_, _ = fmt.Fprintln(stderr, "report requires -owner or RECREPORT_SESSION_OWNER")
			return 2
		}
		return runReport(ctx, cfg, opts, logger, stdout, stderr)
	case "download":
		if strings.TrimSpace(*input) == "" {
			_, _ = fmt.Fprintln(stderr, "download requires -input")
			return 2
		}
		return runDownload(ctx, cfg, opts, logger, *input, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr, fs)
		return 2
	}
}

func runReport(ctx context.Context, cfg config.Config, opts Options, logger *slog.Logger, stdout, stderr io.Writer) int {
	jobCfg, err := reportjob.ConfigFromApp(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid report configuration: %v\n", err)
		return 2
	}

	store := opts.ObjectStore
	needStore := cfg.Report.Upload || cfg.Warehouse.Driver == config.DriverDuckDB
	if store == nil && needStore {
		store, err = OpenObjectStore(ctx, cfg)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "object store: %v\n", err)
			return 1
		}
	}

	opener := opts.Opener
	if opener == nil {
		opener, err = reportjob.WarehouseOpener(cfg, store)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "warehouse: %v\n", err)
			return 1
		}
	}

	svc := &reportjob.Service{
		Open:        opener,
		ObjectStore: store,
		Config:      jobCfg,
		Logger:      logger,
	}
	summary, err := svc.RunOnce(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "report failed: %v\n", err)
		return 1
	}
	return writeJSON(stdout, stderr, summary)
}

func runDownload(ctx context.Context, cfg config.Config, opts Options, logger *slog.Logger, input string, stdout, stderr io.Writer) int {
	api := opts.CollabAPI
	if api == nil {
		client, err := collab.NewClient(collab.Config{
			RegionHost: cfg.Collab.RegionHost,
			LTIKey:     cfg.Collab.LTIKey,
			LTISecret:  cfg.Collab.LTISecret,
			Timeout:    cfg.Collab.Timeout,
		})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "collab client: %v\n", err)
			return 2
		}
		api = client
	}

	svc := &download.Service{
		API: api,
		Config: download.Config{
			RegionHost:  cfg.Collab.RegionHost,
			LTIKey:      cfg.Collab.LTIKey,
			DownloadDir: cfg.Collab.DownloadDir,
		},
		Logger: logger,
	}
	summary, err := svc.RunFile(ctx, input)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "download failed: %v\n", err)
		_ = writeJSON(stdout, stderr, summary)
		return 1
	}
	return writeJSON(stdout, stderr, summary)
}

// OpenObjectStore builds the minio-backed store from config.
func OpenObjectStore(ctx context.Context, cfg config.Config) (*s3store.Store, error) {
	return s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
}

func writeJSON(stdout, stderr io.Writer, value any) int {
	formatted, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "encode summary: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, string(formatted))
	return 0
}

func writeUsage(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintln(w, "usage: recreport [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  report     run the recording report and write it to -output-dir")
	_, _ = fmt.Fprintln(w, "  download   download recordings listed in the -input report")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "flags:")
	fs.PrintDefaults()
}
