package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/censys/ospd-netstat/pkg/storage"
)

type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps an existing pool. Call EnsureSchema before using it.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the report and port tables if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	ddl := `
CREATE TABLE IF NOT EXISTS scan_reports (
  scan_id TEXT PRIMARY KEY,
  host TEXT NOT NULL,
  status TEXT NOT NULL,
  failure TEXT NOT NULL DEFAULT '',
  error TEXT NOT NULL DEFAULT '',
  started_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NOT NULL,
  port_count INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS host_scans (
  host TEXT PRIMARY KEY,
  scan_id TEXT NOT NULL,
  last_scanned TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS open_ports (
  host TEXT NOT NULL,
  seq INTEGER NOT NULL,
  protocol TEXT NOT NULL,
  ipv6 BOOLEAN NOT NULL,
  address TEXT NOT NULL,
  port INTEGER NOT NULL,
  state TEXT NOT NULL,
  process TEXT NOT NULL DEFAULT '',
  scan_id TEXT NOT NULL,
  PRIMARY KEY (host, seq)
);`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ERROR creating scan tables: %w", err)
	}
	return nil
}

// SaveReport stores the report and, for successful scans, replaces the open
// ports of the host. Ports from a scan older than the stored one are ignored
// to protect against out-of-order deliveries.
func (r *Repository) SaveReport(ctx context.Context, record storage.ScanRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsertReport = `
INSERT INTO scan_reports (scan_id, host, status, failure, error, started_at, finished_at, port_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (scan_id)
DO UPDATE SET
  host = EXCLUDED.host,
  status = EXCLUDED.status,
  failure = EXCLUDED.failure,
  error = EXCLUDED.error,
  started_at = EXCLUDED.started_at,
  finished_at = EXCLUDED.finished_at,
  port_count = EXCLUDED.port_count;
`
	_, err = tx.Exec(ctx, upsertReport,
		record.ScanID,
		record.Host,
		record.Status,
		record.Failure,
		record.Error,
		record.StartedAt.UTC(),
		record.FinishedAt.UTC(),
		len(record.Ports),
	)
	if err != nil {
		return fmt.Errorf("upsert report: %w", err)
	}

	if record.Status == "success" {
		if err := replacePorts(ctx, tx, record); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func replacePorts(ctx context.Context, tx pgx.Tx, record storage.ScanRecord) error {
	const claimHost = `
INSERT INTO host_scans (host, scan_id, last_scanned)
VALUES ($1, $2, $3)
ON CONFLICT (host)
DO UPDATE SET
  scan_id = EXCLUDED.scan_id,
  last_scanned = EXCLUDED.last_scanned
WHERE EXCLUDED.last_scanned >= host_scans.last_scanned
RETURNING scan_id;
`
	var claimed string
	err := tx.QueryRow(ctx, claimHost, record.Host, record.ScanID, record.StartedAt.UTC()).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		// A newer scan of this host is already stored.
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim host: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM open_ports WHERE host = $1`, record.Host); err != nil {
		return fmt.Errorf("delete ports: %w", err)
	}

	if len(record.Ports) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(record.Ports))
	for i, p := range record.Ports {
		rows = append(rows, []any{record.Host, i, p.Protocol, p.IPv6, p.Address, p.Port, p.State, p.Process, record.ScanID})
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"open_ports"},
		[]string{"host", "seq", "protocol", "ipv6", "address", "port", "state", "process", "scan_id"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy ports: %w", err)
	}
	return nil
}

// HostPorts returns the stored open ports of host in reported order.
func (r *Repository) HostPorts(ctx context.Context, host string) ([]storage.PortRecord, error) {
	const query = `
SELECT protocol, ipv6, address, port, state, process
FROM open_ports
WHERE host = $1
ORDER BY seq;
`
	rows, err := r.pool.Query(ctx, query, host)
	if err != nil {
		return nil, fmt.Errorf("query ports: %w", err)
	}
	ports, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.PortRecord, error) {
		var p storage.PortRecord
		err := row.Scan(&p.Protocol, &p.IPv6, &p.Address, &p.Port, &p.State, &p.Process)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan ports: %w", err)
	}
	return ports, nil
}

// Close helps when wiring Repository to a lifecycle manager.
func (r *Repository) Close() {
	r.pool.Close()
}

// NewDB opens a pgx pool with tuned defaults.
func NewDB(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	// Keep a small, steady pool; one report write per scan.
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}
