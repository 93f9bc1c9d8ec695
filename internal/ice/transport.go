package ice

import (
	"fmt"
	"net"
	"strings"
)

// TransportAddress is a protocol/IP/port tuple, used instead of net.Addr
// directly so candidates can be compared and hashed by value.
type TransportAddress struct {
	protocol string // "udp"; this module gathers no TCP candidates
	ip       string
	port     int
}

func makeTransportAddress(addr net.Addr) TransportAddress {
	if a, ok := addr.(*net.UDPAddr); ok {
		return TransportAddress{"udp", a.IP.String(), a.Port}
	}
	return TransportAddress{"udp", "", 0}
}

func (ta *TransportAddress) netAddr() net.Addr {
	addr, _ := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", ta.ip, ta.port))
	return addr
}

func (ta TransportAddress) String() string {
	return fmt.Sprintf("%s/%s:%d", ta.protocol, ta.ip, ta.port)
}

func resolveAddr(network, address string) (net.Addr, error) {
	if strings.ToLower(network) != "udp" {
		return nil, fmt.Errorf("ice: unsupported candidate transport %q", network)
	}
	return net.ResolveUDPAddr("udp", address)
}
