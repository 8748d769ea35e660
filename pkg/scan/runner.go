package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/censys/ospd-netstat/pkg/discovery"
	"github.com/censys/ospd-netstat/pkg/netstat"
)

// DefaultTimeout bounds a scan when neither the request nor the runner
// sets a timeout.
const DefaultTimeout = 2 * time.Minute

// Discoverer runs the discovery command on a target.
type Discoverer interface {
	Run(ctx context.Context, target discovery.Target, cred discovery.Credential) (discovery.RawOutput, error)
}

// Runner executes scan requests. It is safe for concurrent use as long as
// the Discoverer is.
type Runner struct {
	discoverer Discoverer
	timeout    time.Duration
	log        logrus.FieldLogger
	now        func() time.Time
}

// NewRunner returns a Runner. A non-positive timeout means DefaultTimeout.
func NewRunner(d Discoverer, timeout time.Duration, log logrus.FieldLogger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{discoverer: d, timeout: timeout, log: log, now: time.Now}
}

// Execute scans one host. It never returns an error: failures are part of
// the report.
func (r *Runner) Execute(ctx context.Context, req Request) Report {
	report := Report{
		ScanID:  req.ScanID,
		Host:    req.Target.Host,
		Started: r.now().UTC(),
	}
	log := r.log.WithFields(logrus.Fields{"scan_id": req.ScanID, "host": req.Target.Host})

	timeout := r.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := r.discoverer.Run(ctx, req.Target, req.Credential)
	if err != nil {
		r.fail(&report, err)
		log.WithError(err).WithField("failure", report.Failure).Warn("netstat scan failed")
		return report
	}

	ports, stats := netstat.ParseWithStats(out.Stdout, netstat.Options{AllStates: req.AllStates})
	if stats.Skipped > 0 {
		log.WithField("skipped", stats.Skipped).Debug("skipped unparsable netstat rows")
	}

	if ports == nil {
		ports = []netstat.OpenPort{}
	}
	report.Status = StatusSuccess
	report.Ports = ports
	report.Results = buildResults(ports, out, req.DumpTable)
	report.Finished = r.now().UTC()

	log.WithField("ports", len(ports)).Info("netstat scan finished")
	return report
}

func (r *Runner) fail(report *Report, err error) {
	report.Status = StatusFailed
	report.Error = err.Error()
	report.Failure, report.Results = describeFailure(err)
	report.Finished = r.now().UTC()
}

// describeFailure maps a discovery error to its failure class and the
// error results shown to the user.
func describeFailure(err error) (Failure, []Result) {
	var (
		failure Failure
		msg     string
	)

	var de *discovery.Error
	switch {
	case errors.Is(err, discovery.ErrInvalidInput):
		failure = FailureInvalidInput
		msg = fmt.Sprintf("The scan request cannot be executed: %v.", err)
	case errors.Is(err, context.DeadlineExceeded):
		failure = FailureConnection
		msg = "Timed out while running 'netstat' on the host."
	case errors.Is(err, discovery.ErrAuthentication):
		failure = FailureAuthentication
		msg = "SSH login failed. Check the username and the password or private key."
	case errors.Is(err, discovery.ErrRemoteCommand):
		failure = FailureRemoteCommand
		msg = "A problem occurred trying to execute 'netstat'."
		if errors.As(err, &de) && de.Err != nil {
			msg = fmt.Sprintf("A problem occurred trying to execute 'netstat': %v.", de.Err)
		}
	case errors.Is(err, discovery.ErrConnection):
		failure = FailureConnection
		msg = "Could not connect to the host via SSH."
		if errors.As(err, &de) && de.Err != nil {
			msg = fmt.Sprintf("Could not connect to the host via SSH: %v.", de.Err)
		}
	default:
		failure = FailureConnection
		msg = fmt.Sprintf("Unexpected error while running 'netstat': %v.", err)
	}

	return failure, []Result{{Type: ResultError, Name: "Netstat error", Value: msg}}
}

// buildResults assembles the log and host detail results of a successful
// scan. The summary is always present so host details get stored even when
// nothing is listening.
func buildResults(ports []netstat.OpenPort, out discovery.RawOutput, dump bool) []Result {
	anyAddr := netstat.FilterBoundToAny(ports)

	summary := fmt.Sprintf("Via netstat %d open ports were found, %d of them bound to all interfaces.",
		len(ports), len(anyAddr))
	results := []Result{{Type: ResultLog, Name: NameSummary, Value: summary}}

	for _, p := range ports {
		results = append(results, Result{
			Type:  ResultLog,
			Name:  NamePort,
			Port:  p.String(),
			Value: describePort(p),
		})
	}

	if dump {
		results = append(results, Result{
			Type:  ResultLog,
			Name:  NameDump,
			Value: fmt.Sprintf("Raw output of '%s':\n\n%s", out.Command, out.Stdout),
		})
	}

	if len(ports) > 0 {
		results = append(results, Result{Type: ResultHostDetail, Name: NamePorts, Value: netstat.PortList(ports)})
	}
	if tcp := netstat.FilterProtocol(ports, "tcp"); len(tcp) > 0 {
		results = append(results, Result{Type: ResultHostDetail, Name: NameTCPPorts, Value: netstat.PortList(tcp)})
	}
	if udp := netstat.FilterProtocol(ports, "udp"); len(udp) > 0 {
		results = append(results, Result{Type: ResultHostDetail, Name: NameUDPPorts, Value: netstat.PortList(udp)})
	}

	return results
}

func describePort(p netstat.OpenPort) string {
	s := fmt.Sprintf("%s on %s", p.State, p.Address)
	if p.Process != "" {
		s += " (" + p.Process + ")"
	}
	return s
}
