// Package scan turns one scan request into a report: it runs discovery on
// the target, parses the netstat output and assembles the results the
// controller receives.
package scan

import (
	"time"

	"github.com/censys/ospd-netstat/pkg/discovery"
	"github.com/censys/ospd-netstat/pkg/netstat"
)

// Status of a finished scan.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Failure names the class of a failed scan so the controller can tell an
// unreachable host from a bad login or a missing netstat.
type Failure string

const (
	FailureNone           Failure = ""
	FailureConnection     Failure = "connection"
	FailureAuthentication Failure = "authentication"
	FailureRemoteCommand  Failure = "remote_command"
	FailureInvalidInput   Failure = "invalid_input"
)

// ResultType follows the result kinds of the scanner protocol.
type ResultType string

const (
	ResultLog        ResultType = "log"
	ResultError      ResultType = "error"
	ResultHostDetail ResultType = "host_detail"
)

// Result names.
const (
	NameSummary  = "Netstat summary"
	NamePort     = "Netstat port"
	NameDump     = "Netstat dump"
	NamePorts    = "ports"
	NameTCPPorts = "tcp_ports"
	NameUDPPorts = "udp_ports"
)

// Result is one entry reported for the scanned host.
type Result struct {
	Type  ResultType `json:"type"`
	Name  string     `json:"name"`
	Value string     `json:"value,omitempty"`
	Port  string     `json:"port,omitempty"`
}

// Request is a decoded scan request.
type Request struct {
	ScanID     string
	Target     discovery.Target
	Credential discovery.Credential
	// DumpTable adds the raw netstat output as a log result.
	DumpTable bool
	// AllStates reports every socket row instead of listening ones only.
	AllStates bool
	// Timeout overrides the runner default when positive.
	Timeout time.Duration
}

// Report is the outcome of one scan of one host.
type Report struct {
	ScanID   string             `json:"scan_id"`
	Host     string             `json:"host"`
	Status   Status             `json:"status"`
	Failure  Failure            `json:"failure,omitempty"`
	Error    string             `json:"error,omitempty"`
	Started  time.Time          `json:"started"`
	Finished time.Time          `json:"finished"`
	Ports    []netstat.OpenPort `json:"ports"`
	Results  []Result           `json:"results"`
}

// Succeeded reports whether discovery ran and its output was parsed.
func (r Report) Succeeded() bool { return r.Status == StatusSuccess }
