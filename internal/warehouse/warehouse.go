package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/recreport/recreport/internal/report"
)

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// Handle is an open warehouse connection plus the SQL dialect it speaks.
type Handle struct {
	DB      *sql.DB
	Dialect report.Dialect
	closeFn func() error
}

func NewHandle(db *sql.DB, dialect report.Dialect, closeFn func() error) *Handle {
	return &Handle{DB: db, Dialect: dialect, closeFn: closeFn}
}

func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	var err error
	if h.DB != nil {
		err = h.DB.Close()
	}
	if h.closeFn != nil {
		if closeErr := h.closeFn(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// Open connects to a Postgres-compatible warehouse through pgx. Every failure
// is reported as report.ErrConnection.
func Open(ctx context.Context, cfg DBConfig) (*Handle, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: warehouse dsn is required", report.ErrConnection)
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: open warehouse db: %w", report.ErrConnection, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping warehouse db: %w", report.ErrConnection, err)
	}

	return NewHandle(db, report.DialectPostgres, nil), nil
}
