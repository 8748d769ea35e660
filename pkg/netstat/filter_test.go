package netstat

import "testing"

func TestFilterBoundToAny(t *testing.T) {
	got := FilterBoundToAny(Parse(linuxTULN, Options{}))

	want := []string{"22/tcp", "80/tcp", "68/udp"}
	if len(got) != len(want) {
		t.Fatalf("expected %d ports, got %d: %v", len(want), len(got), got)
	}
	for i, p := range got {
		if p.String() != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, p, want[i])
		}
	}
}

func TestFilterProtocolAndPortList(t *testing.T) {
	ports := Parse(linuxTULN, Options{})

	tcp := FilterProtocol(ports, "tcp")
	if got := PortList(tcp); got != "22, 5432, 80" {
		t.Fatalf("PortList(tcp) = %q", got)
	}

	udp := FilterProtocol(ports, "udp")
	if got := PortList(udp); got != "68, 323" {
		t.Fatalf("PortList(udp) = %q", got)
	}

	if got := PortList(nil); got != "" {
		t.Fatalf("PortList(nil) = %q, want empty", got)
	}
}
