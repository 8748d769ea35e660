package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"

	"github.com/censys/ospd-netstat/pkg/scan"
	"github.com/censys/ospd-netstat/pkg/storage"
)

// Reporter hands a finished report back to the controller side.
type Reporter interface {
	Report(ctx context.Context, report scan.Report) error
}

// PubSubReporter publishes reports as JSON to a results topic.
type PubSubReporter struct {
	topic *pubsub.Topic
}

// NewPubSubReporter constructs a reporter for the given results topic.
func NewPubSubReporter(topic *pubsub.Topic) *PubSubReporter {
	return &PubSubReporter{topic: topic}
}

// Report publishes the report and waits for the server ack.
func (p *PubSubReporter) Report(ctx context.Context, report scan.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"scan_id": report.ScanID,
			"host":    report.Host,
			"status":  string(report.Status),
			"failure": string(report.Failure),
		},
	}).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish report: %w", err)
	}
	return nil
}

// StoreReporter persists reports through a storage.Repository.
type StoreReporter struct {
	repo storage.Repository
}

// NewStoreReporter wraps repo.
func NewStoreReporter(repo storage.Repository) *StoreReporter {
	return &StoreReporter{repo: repo}
}

// Report converts the report to a storage record and saves it.
func (s *StoreReporter) Report(ctx context.Context, report scan.Report) error {
	return s.repo.SaveReport(ctx, ToRecord(report))
}

// ToRecord maps a report onto the persisted fields.
func ToRecord(report scan.Report) storage.ScanRecord {
	rec := storage.ScanRecord{
		ScanID:     report.ScanID,
		Host:       report.Host,
		Status:     string(report.Status),
		Failure:    string(report.Failure),
		Error:      report.Error,
		StartedAt:  report.Started,
		FinishedAt: report.Finished,
	}
	for _, p := range report.Ports {
		rec.Ports = append(rec.Ports, storage.PortRecord{
			Protocol: p.Protocol,
			IPv6:     p.IPv6,
			Address:  p.Address,
			Port:     p.Port,
			State:    p.State,
			Process:  p.Process,
		})
	}
	return rec
}

// LogReporter writes a one-line summary of each report.
type LogReporter struct {
	log logrus.FieldLogger
}

// NewLogReporter returns a reporter that only logs.
func NewLogReporter(log logrus.FieldLogger) *LogReporter {
	return &LogReporter{log: log}
}

func (l *LogReporter) Report(ctx context.Context, report scan.Report) error {
	entry := l.log.WithFields(logrus.Fields{
		"scan_id": report.ScanID,
		"host":    report.Host,
		"status":  report.Status,
		"ports":   len(report.Ports),
	})
	if report.Succeeded() {
		entry.Info("scan report")
	} else {
		entry.WithField("failure", report.Failure).Warn("scan report")
	}
	return nil
}

// MultiReporter fans a report out to every reporter. All reporters run even
// when one fails; the errors are joined.
type MultiReporter []Reporter

func (m MultiReporter) Report(ctx context.Context, report scan.Report) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
