// +build !linux

package ice

import "net"

// includeInterface is a no-op outside Linux: the IFF_POINTOPOINT/IFF_NOARP
// filtering in base_linux.go relies on a Linux-specific ioctl, so other
// platforms fall back to net.Flags alone.
func includeInterface(iface net.Interface) bool {
	return true
}
