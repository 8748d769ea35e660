package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/censys/ospd-netstat/pkg/storage"
)

func openTestDB(t *testing.T) *Repository {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := NewDB(ctx, dsn)
	if err != nil {
		t.Fatalf("database unavailable: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if _, err := pool.Exec(ctx, "TRUNCATE scan_reports, host_scans, open_ports"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return NewRepository(pool)
}

// Integration test that ensures only the newest scan of a host owns its ports.
func TestSaveReportHonorsNewestScan(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	record := func(id string, at time.Time, ports ...int) storage.ScanRecord {
		rec := storage.ScanRecord{
			ScanID:     id,
			Host:       "10.0.0.5",
			Status:     "success",
			StartedAt:  at,
			FinishedAt: at.Add(time.Second),
		}
		for _, p := range ports {
			rec.Ports = append(rec.Ports, storage.PortRecord{Protocol: "tcp", Address: "0.0.0.0", Port: p, State: "LISTEN"})
		}
		return rec
	}

	if err := repo.SaveReport(ctx, record("old", base, 22)); err != nil {
		t.Fatalf("save old: %v", err)
	}
	if err := repo.SaveReport(ctx, record("newer", base.Add(time.Hour), 22, 443, 22)); err != nil {
		t.Fatalf("save newer: %v", err)
	}
	if err := repo.SaveReport(ctx, record("older", base.Add(-time.Hour), 8080)); err != nil {
		t.Fatalf("save older: %v", err)
	}

	ports, err := repo.HostPorts(ctx, "10.0.0.5")
	if err != nil {
		t.Fatalf("HostPorts: %v", err)
	}
	if len(ports) != 3 || ports[0].Port != 22 || ports[1].Port != 443 || ports[2].Port != 22 {
		t.Fatalf("unexpected ports: %+v", ports)
	}

	var count int
	if err := repo.pool.QueryRow(ctx, `SELECT count(*) FROM scan_reports`).Scan(&count); err != nil {
		t.Fatalf("count reports: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected every report row to be kept, got %d", count)
	}
}

func TestSaveReportFailedScanKeepsPorts(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	ok := storage.ScanRecord{
		ScanID: "ok", Host: "10.0.0.6", Status: "success", StartedAt: now, FinishedAt: now,
		Ports: []storage.PortRecord{{Protocol: "udp", Address: "0.0.0.0", Port: 53, State: "OPEN"}},
	}
	failed := storage.ScanRecord{
		ScanID: "failed", Host: "10.0.0.6", Status: "failed", Failure: "connection",
		Error: "connection refused", StartedAt: now.Add(time.Minute), FinishedAt: now.Add(time.Minute),
	}

	if err := repo.SaveReport(ctx, ok); err != nil {
		t.Fatalf("save ok: %v", err)
	}
	if err := repo.SaveReport(ctx, failed); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	ports, err := repo.HostPorts(ctx, "10.0.0.6")
	if err != nil {
		t.Fatalf("HostPorts: %v", err)
	}
	if len(ports) != 1 || ports[0].Port != 53 {
		t.Fatalf("failed scan must not clear ports, got %+v", ports)
	}
}
