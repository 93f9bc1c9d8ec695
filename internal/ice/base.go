package ice

import (
	"net"

	"github.com/mahina-labs/restreamer/internal/logging"
)

var log = logging.DefaultLogger.WithTag("ice")

// Base is a local socket an Agent gathers host candidates from. This
// module gathers host candidates only (no server/peer reflexive
// gathering via a STUN server, no TURN relay) per this module's
// non-goals, so a Base is simply a bound UDP socket plus the component
// number and TransportAddress it was bound as.
type Base struct {
	conn      *net.UDPConn
	address   TransportAddress
	component int
}

// listLocalAddresses enumerates non-loopback, non-link-local, up, IPv4
// interface addresses. IPv6 is not gathered: this module targets browser peers on
// the same local network or reachable via host candidates only, and
// restricting to IPv4 keeps the candidate set (and therefore the
// checklist) small. includeInterface applies platform-specific filtering
// beyond net.Flags (see base_linux.go).
func listLocalAddresses() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if !includeInterface(iface) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || ip4.IsLinkLocalUnicast() {
				continue
			}
			ips = append(ips, ip4)
		}
	}
	return ips, nil
}

// createBase binds a UDP socket on ip (any available port) for the given
// ICE component.
func createBase(ip net.IP, component int) (*Base, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip})
	if err != nil {
		return nil, err
	}
	return &Base{
		conn:      conn,
		address:   makeTransportAddress(conn.LocalAddr()),
		component: component,
	}, nil
}

func (b *Base) Close() error {
	return b.conn.Close()
}
