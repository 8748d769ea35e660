package processing

import (
	"context"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"

	"github.com/censys/ospd-netstat/pkg/scan"
)

// Executor runs a decoded scan request.
type Executor interface {
	Execute(ctx context.Context, req scan.Request) scan.Report
}

// DLQPublisher publishes undecodable requests to a dead-letter topic.
type DLQPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message, reason string) error
}

// PubSubDLQPublisher implements DLQPublisher using a Pub/Sub topic.
type PubSubDLQPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubDLQPublisher constructs a DLQ publisher for the given topic. If the
// topic is nil, publishes are treated as no-ops.
func NewPubSubDLQPublisher(topic *pubsub.Topic) *PubSubDLQPublisher {
	return &PubSubDLQPublisher{topic: topic}
}

// Publish sends the message to the DLQ topic. If topic is nil, it is a no-op.
func (p *PubSubDLQPublisher) Publish(ctx context.Context, msg *pubsub.Message, reason string) error {
	if p.topic == nil {
		return nil
	}
	attrs := map[string]string{
		"reason":      reason,
		"orig_msg_id": msg.ID,
	}
	if msg.DeliveryAttempt != nil {
		attrs["delivery_attempt"] = strconv.Itoa(*msg.DeliveryAttempt)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.topic.Publish(ctx, &pubsub.Message{
		Data:       msg.Data,
		Attributes: attrs,
	}).Get(ctx)
	return err
}

// NoopDLQPublisher is used when no DLQ topic is configured.
type NoopDLQPublisher struct{}

func (n *NoopDLQPublisher) Publish(ctx context.Context, msg *pubsub.Message, reason string) error {
	return nil
}

// Handler turns scan request messages into reports.
type Handler struct {
	exec     Executor
	reporter Reporter
	dlq      DLQPublisher
	log      logrus.FieldLogger
}

// NewHandler wires a Handler. A nil dlq drops bad requests after logging,
// a nil reporter only logs reports.
func NewHandler(exec Executor, reporter Reporter, dlq DLQPublisher, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if dlq == nil {
		dlq = &NoopDLQPublisher{}
	}
	if reporter == nil {
		reporter = NewLogReporter(log)
	}
	return &Handler{exec: exec, reporter: reporter, dlq: dlq, log: log}
}

// HandleMessage processes a Pub/Sub message and returns true if it should be
// acked (even when sent to DLQ or when the scan failed) or false to Nack
// (for retriable reporting errors). Failed scans are reported, not retried.
func (h *Handler) HandleMessage(ctx context.Context, msg *pubsub.Message) bool {
	log := h.log.WithField("msg_id", msg.ID)

	m, err := ParseScanMessage(msg.Data)
	if err != nil {
		log.WithError(err).Warn("pushing message to DLQ")
		return h.deadLetter(ctx, log, msg, "parse_error")
	}

	req, err := m.Request()
	if err != nil {
		log.WithError(err).WithField("scan_id", m.ScanID).Warn("pushing message to DLQ")
		return h.deadLetter(ctx, log, msg, "invalid_request")
	}

	report := h.exec.Execute(ctx, req)

	if err := h.reporter.Report(ctx, report); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"scan_id": report.ScanID,
			"host":    report.Host,
		}).Error("reporting scan failed")
		return false
	}

	return true
}

func (h *Handler) deadLetter(ctx context.Context, log logrus.FieldLogger, msg *pubsub.Message, reason string) bool {
	if err := h.dlq.Publish(ctx, msg, reason); err != nil {
		log.WithError(err).Error("error publishing to DLQ")
		return false
	}
	return true
}
