package reportjob

import (
	"context"
	"fmt"

	"github.com/recreport/recreport/internal/config"
	"github.com/recreport/recreport/internal/export"
	"github.com/recreport/recreport/internal/report"
	"github.com/recreport/recreport/internal/storage"
	"github.com/recreport/recreport/internal/warehouse"
	"github.com/recreport/recreport/internal/warehouse/duckdb"
)

// ConfigFromApp maps application config onto the runner config.
func ConfigFromApp(cfg config.Config) (Config, error) {
	format, err := export.ParseFormat(cfg.Report.Format)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Params: report.Params{
			Cutoff:       cfg.Report.Cutoff,
			SessionOwner: cfg.Report.SessionOwner,
			LinkPrefix:   cfg.Report.LinkPrefix,
			Location:     cfg.Report.Location,
			RowLimit:     cfg.Report.RowLimit,
			Tables:       tablesFromConfig(cfg.Report.Tables),
		},
		Format:       format,
		OutputDir:    cfg.Report.OutputDir,
		Upload:       cfg.Report.Upload,
		QueryTimeout: cfg.Warehouse.QueryTimeout,
	}, nil
}

// WarehouseOpener picks the warehouse backend named by the configured driver.
// The duckdb backend reads table exports from store.
func WarehouseOpener(cfg config.Config, store storage.ObjectStore) (Opener, error) {
	switch cfg.Warehouse.Driver {
	case config.DriverPostgres:
		dbCfg := warehouse.DBConfig{
			DSN:             cfg.Warehouse.DSN,
			MaxOpenConns:    cfg.Warehouse.MaxOpenConns,
			MaxIdleConns:    cfg.Warehouse.MaxIdleConns,
			ConnMaxIdleTime: cfg.Warehouse.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Warehouse.ConnMaxLifetime,
		}
		return func(ctx context.Context) (*warehouse.Handle, error) {
			return warehouse.Open(ctx, dbCfg)
		}, nil
	case config.DriverDuckDB:
		if store == nil {
			return nil, fmt.Errorf("object store is required for the duckdb warehouse")
		}
		duckCfg := duckdb.Config{
			Store:        store,
			ExportPrefix: cfg.Warehouse.ExportPrefix,
			Tables:       tablesFromConfig(cfg.Report.Tables),
		}
		return func(ctx context.Context) (*warehouse.Handle, error) {
			return duckdb.Open(ctx, duckCfg)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported warehouse driver %q", cfg.Warehouse.Driver)
	}
}

func tablesFromConfig(tables config.TablesConfig) report.Tables {
	return report.Tables{
		Media:         tables.Media,
		Room:          tables.Room,
		Session:       tables.Session,
		CourseRoomMap: tables.CourseRoomMap,
		Course:        tables.Course,
	}
}
