// Package netstat parses the text output of the netstat command into
// open-port records.
//
// Two dialects are understood. net-tools on Linux (`netstat -tuln`, with an
// optional PID/Program column when -p is given):
//
//	Proto Recv-Q Send-Q Local Address           Foreign Address         State       PID/Program name
//	tcp        0      0 0.0.0.0:22              0.0.0.0:*               LISTEN      812/sshd
//	udp        0      0 0.0.0.0:68              0.0.0.0:*                           640/dhclient
//
// and BSD/macOS (`netstat -an`), which separates the port with a dot:
//
//	Proto Recv-Q Send-Q  Local Address          Foreign Address        (state)
//	tcp4       0      0  *.22                   *.*                    LISTEN
//	udp6       0      0  ::1.631                *.*
package netstat

import (
	"strconv"
	"strings"
)

const (
	// StateListen is the netstat state of a listening TCP socket.
	StateListen = "LISTEN"
	// StateOpen is assigned to UDP sockets, which carry no state column.
	StateOpen = "OPEN"
)

// OpenPort is one socket row reported by netstat.
type OpenPort struct {
	Protocol string `json:"protocol"` // "tcp" or "udp"
	IPv6     bool   `json:"ipv6"`
	Address  string `json:"address"` // without the port, e.g. "0.0.0.0", "::", "*"
	Port     int    `json:"port"`
	State    string `json:"state"`
	Process  string `json:"process,omitempty"` // "PID/Program" when netstat ran with -p
}

// Options controls which rows Parse keeps.
type Options struct {
	// AllStates keeps every well-formed row instead of only listening
	// TCP sockets and stateless UDP sockets.
	AllStates bool
}

// Stats counts what Parse did with the input lines.
type Stats struct {
	Lines    int // non-blank lines seen
	Rows     int // rows that looked like socket rows
	Kept     int
	Filtered int // well-formed rows dropped by the state filter
	Skipped  int // socket rows that could not be parsed
}

// Parse returns the open ports found in raw, in order of appearance.
// Lines that are not socket rows are ignored.
func Parse(raw string, opts Options) []OpenPort {
	ports, _ := ParseWithStats(raw, opts)
	return ports
}

// ParseWithStats is Parse, additionally reporting how many lines were
// skipped so callers can log malformed output.
func ParseWithStats(raw string, opts Options) ([]OpenPort, Stats) {
	var (
		ports []OpenPort
		stats Stats
	)

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, stats
	}

	for _, line := range strings.Split(trimmed, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		stats.Lines++

		proto, ipv6, ok := parseProto(fields[0])
		if !ok {
			// Header, title line or something else entirely.
			continue
		}
		stats.Rows++

		p, ok := parseRow(proto, ipv6, fields)
		if !ok {
			stats.Skipped++
			continue
		}

		if !opts.AllStates && p.State != StateListen && p.State != StateOpen {
			stats.Filtered++
			continue
		}

		ports = append(ports, p)
		stats.Kept++
	}

	return ports, stats
}

// parseRow maps the positional columns of a socket row. fields[0] has
// already been validated as a protocol token.
func parseRow(proto string, ipv6 bool, fields []string) (OpenPort, bool) {
	// Proto Recv-Q Send-Q Local Foreign is the common prefix.
	if len(fields) < 5 {
		return OpenPort{}, false
	}
	if !isCount(fields[1]) || !isCount(fields[2]) {
		return OpenPort{}, false
	}

	addr, port, ok := SplitHostPort(fields[3])
	if !ok {
		return OpenPort{}, false
	}

	p := OpenPort{
		Protocol: proto,
		IPv6:     ipv6 || strings.Contains(addr, ":"),
		Address:  addr,
		Port:     port,
	}

	rest := fields[5:]
	switch proto {
	case "tcp":
		// TCP rows always carry a state.
		if len(rest) == 0 || !isState(rest[0]) {
			return OpenPort{}, false
		}
		p.State = rest[0]
		rest = rest[1:]
	case "udp":
		// UDP sockets are stateless unless connected.
		if len(rest) > 0 && isState(rest[0]) {
			p.State = rest[0]
			rest = rest[1:]
		} else {
			p.State = StateOpen
		}
	}

	if len(rest) > 0 && rest[0] != "-" {
		p.Process = strings.Join(rest, " ")
	}

	return p, true
}

// SplitHostPort splits a netstat local-address token into address and port.
// The port follows the last colon (Linux, IPv6 safe) or, when that does not
// yield a number, the last dot (BSD).
func SplitHostPort(token string) (string, int, bool) {
	for _, sep := range []string{":", "."} {
		i := strings.LastIndex(token, sep)
		if i < 0 {
			continue
		}
		port, err := strconv.Atoi(token[i+1:])
		if err != nil || port < 0 || port > 65535 {
			continue
		}
		addr := strings.TrimSuffix(strings.TrimPrefix(token[:i], "["), "]")
		return addr, port, true
	}
	return "", 0, false
}

// parseProto normalizes tcp, tcp4, tcp6, tcp46 and the udp equivalents.
func parseProto(token string) (proto string, ipv6 bool, ok bool) {
	switch strings.ToLower(token) {
	case "tcp", "tcp4":
		return "tcp", false, true
	case "tcp6", "tcp46":
		return "tcp", true, true
	case "udp", "udp4":
		return "udp", false, true
	case "udp6", "udp46":
		return "udp", true, true
	}
	return "", false, false
}

func isCount(s string) bool {
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

// isState reports whether s is a TCP state name as printed by netstat.
func isState(s string) bool {
	switch s {
	case "LISTEN", "ESTABLISHED", "SYN_SENT", "SYN_RECV", "SYN_RCVD",
		"FIN_WAIT1", "FIN_WAIT_1", "FIN_WAIT2", "FIN_WAIT_2",
		"TIME_WAIT", "CLOSE", "CLOSED", "CLOSE_WAIT", "LAST_ACK",
		"CLOSING", "UNKNOWN":
		return true
	}
	return false
}
