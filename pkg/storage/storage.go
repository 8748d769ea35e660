package storage

import (
	"context"
	"time"
)

// PortRecord is one persisted open port.
type PortRecord struct {
	Protocol string
	IPv6     bool
	Address  string
	Port     int
	State    string
	Process  string
}

// ScanRecord holds the normalized report fields we persist.
type ScanRecord struct {
	ScanID     string
	Host       string
	Status     string
	Failure    string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	Ports      []PortRecord
}

// Repository defines persistence operations for scan reports.
type Repository interface {
	SaveReport(ctx context.Context, record ScanRecord) error
}
