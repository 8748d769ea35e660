package netstat

import (
	"strconv"
	"strings"
)

// IsAnyAddress reports whether addr is a wildcard bind address.
func IsAnyAddress(addr string) bool {
	switch addr {
	case "0.0.0.0", "::", "*", "":
		return true
	}
	return false
}

// FilterBoundToAny returns the ports bound to a wildcard address, i.e.
// reachable on every interface of the host.
func FilterBoundToAny(ports []OpenPort) []OpenPort {
	var out []OpenPort
	for _, p := range ports {
		if IsAnyAddress(p.Address) {
			out = append(out, p)
		}
	}
	return out
}

// FilterProtocol returns the ports of the given protocol ("tcp" or "udp").
func FilterProtocol(ports []OpenPort, proto string) []OpenPort {
	var out []OpenPort
	for _, p := range ports {
		if p.Protocol == proto {
			out = append(out, p)
		}
	}
	return out
}

// PortList joins the port numbers with ", " in order of appearance.
func PortList(ports []OpenPort) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		parts = append(parts, strconv.Itoa(p.Port))
	}
	return strings.Join(parts, ", ")
}

// String renders the port the way scan results name it, e.g. "22/tcp".
func (p OpenPort) String() string {
	return strconv.Itoa(p.Port) + "/" + p.Protocol
}
