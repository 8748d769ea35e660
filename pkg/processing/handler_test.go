package processing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"

	"github.com/censys/ospd-netstat/pkg/netstat"
	"github.com/censys/ospd-netstat/pkg/scan"
	"github.com/censys/ospd-netstat/pkg/storage"
)

type stubExecutor struct {
	called int
	req    scan.Request
	report scan.Report
}

func (s *stubExecutor) Execute(ctx context.Context, req scan.Request) scan.Report {
	s.called++
	s.req = req
	return s.report
}

type stubReporter struct {
	called  int
	err     error
	reports []scan.Report
}

func (s *stubReporter) Report(ctx context.Context, report scan.Report) error {
	s.called++
	s.reports = append(s.reports, report)
	return s.err
}

type stubDLQ struct {
	called  int
	reasons []string
	data    [][]byte
	err     error
}

func (s *stubDLQ) Publish(ctx context.Context, msg *pubsub.Message, reason string) error {
	s.called++
	s.reasons = append(s.reasons, reason)
	s.data = append(s.data, msg.Data)
	return s.err
}

type stubRepo struct {
	records []storage.ScanRecord
	err     error
}

func (s *stubRepo) SaveReport(ctx context.Context, rec storage.ScanRecord) error {
	s.records = append(s.records, rec)
	return s.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func requestMessage(t *testing.T) *pubsub.Message {
	t.Helper()
	raw, err := json.Marshal(validPayload())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &pubsub.Message{ID: "m-1", Data: raw}
}

func TestHandleMessage_MalformedJSON(t *testing.T) {
	ctx := context.Background()
	exec := &stubExecutor{}
	rep := &stubReporter{}
	dlq := &stubDLQ{}

	msg := &pubsub.Message{Data: []byte("{not json")}

	ack := NewHandler(exec, rep, dlq, quietLogger()).HandleMessage(ctx, msg)
	if !ack {
		t.Fatalf("expected ack despite DLQ, got nack")
	}
	if exec.called != 0 || rep.called != 0 {
		t.Fatalf("expected no scan and no report, got %d/%d", exec.called, rep.called)
	}
	if dlq.called != 1 || dlq.reasons[0] != "parse_error" {
		t.Fatalf("unexpected dlq calls: %+v", dlq.reasons)
	}
}

func TestHandleMessage_InvalidRequest(t *testing.T) {
	ctx := context.Background()
	exec := &stubExecutor{}
	rep := &stubReporter{}
	dlq := &stubDLQ{}

	payload := validPayload()
	payload["credential"] = map[string]any{"username": "scanner"}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	ack := NewHandler(exec, rep, dlq, quietLogger()).HandleMessage(ctx, &pubsub.Message{Data: raw})
	if !ack {
		t.Fatalf("expected ack despite DLQ, got nack")
	}
	if exec.called != 0 {
		t.Fatalf("expected no scan, got %d", exec.called)
	}
	if dlq.called != 1 || dlq.reasons[0] != "invalid_request" {
		t.Fatalf("unexpected dlq calls: %+v", dlq.reasons)
	}
}

func TestHandleMessage_DLQFailureNacks(t *testing.T) {
	dlq := &stubDLQ{err: errors.New("topic gone")}
	h := NewHandler(&stubExecutor{}, &stubReporter{}, dlq, quietLogger())

	if h.HandleMessage(context.Background(), &pubsub.Message{Data: []byte("nope")}) {
		t.Fatalf("expected nack when DLQ publish fails")
	}
}

func TestHandleMessage_GoodMessage(t *testing.T) {
	ctx := context.Background()
	exec := &stubExecutor{report: scan.Report{
		ScanID: "scan-1",
		Host:   "10.0.0.5",
		Status: scan.StatusSuccess,
		Ports:  []netstat.OpenPort{{Protocol: "tcp", Address: "0.0.0.0", Port: 22, State: "LISTEN"}},
	}}
	rep := &stubReporter{}
	dlq := &stubDLQ{}

	ack := NewHandler(exec, rep, dlq, quietLogger()).HandleMessage(ctx, requestMessage(t))
	if !ack {
		t.Fatalf("expected ack on success")
	}
	if exec.called != 1 || exec.req.Target.Host != "10.0.0.5" {
		t.Fatalf("unexpected execution: %d %+v", exec.called, exec.req.Target)
	}
	if rep.called != 1 || len(rep.reports[0].Ports) != 1 {
		t.Fatalf("unexpected reports: %+v", rep.reports)
	}
	if dlq.called != 0 {
		t.Fatalf("expected no dlq publish, got %d", dlq.called)
	}
}

func TestHandleMessage_FailedScanIsReportedAndAcked(t *testing.T) {
	exec := &stubExecutor{report: scan.Report{
		ScanID:  "scan-1",
		Host:    "10.0.0.5",
		Status:  scan.StatusFailed,
		Failure: scan.FailureConnection,
	}}
	rep := &stubReporter{}

	ack := NewHandler(exec, rep, &stubDLQ{}, quietLogger()).HandleMessage(context.Background(), requestMessage(t))
	if !ack {
		t.Fatalf("failed scans must be acked, not redelivered")
	}
	if rep.called != 1 || rep.reports[0].Failure != scan.FailureConnection {
		t.Fatalf("expected the failure to be reported, got %+v", rep.reports)
	}
}

func TestHandleMessage_ReporterErrorNacks(t *testing.T) {
	exec := &stubExecutor{report: scan.Report{ScanID: "scan-1", Status: scan.StatusSuccess}}
	rep := &stubReporter{err: errors.New("db down")}

	if NewHandler(exec, rep, &stubDLQ{}, quietLogger()).HandleMessage(context.Background(), requestMessage(t)) {
		t.Fatalf("expected nack when reporting fails")
	}
}

func TestMultiReporter_RunsAllAndJoinsErrors(t *testing.T) {
	first := &stubReporter{err: errors.New("first")}
	second := &stubReporter{}

	err := MultiReporter{first, second}.Report(context.Background(), scan.Report{ScanID: "s"})
	if err == nil || err.Error() != "first" {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.called != 1 || second.called != 1 {
		t.Fatalf("expected both reporters to run, got %d/%d", first.called, second.called)
	}
}

func TestStoreReporter(t *testing.T) {
	repo := &stubRepo{}
	report := scan.Report{
		ScanID: "scan-1",
		Host:   "10.0.0.5",
		Status: scan.StatusSuccess,
		Ports: []netstat.OpenPort{
			{Protocol: "tcp", IPv6: true, Address: "::", Port: 80, State: "LISTEN", Process: "1/nginx"},
		},
	}

	if err := NewStoreReporter(repo).Report(context.Background(), report); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(repo.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(repo.records))
	}
	rec := repo.records[0]
	if rec.ScanID != "scan-1" || rec.Status != "success" || len(rec.Ports) != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	want := storage.PortRecord{Protocol: "tcp", IPv6: true, Address: "::", Port: 80, State: "LISTEN", Process: "1/nginx"}
	if rec.Ports[0] != want {
		t.Fatalf("port = %+v, want %+v", rec.Ports[0], want)
	}
}
