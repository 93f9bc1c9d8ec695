package ice

import (
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

// includeInterface filters out interface types net.Flags doesn't
// distinguish but that make poor ICE host candidates: point-to-point
// tunnels (VPN/overlay links) and interfaces still running NOARP, which
// typically front a tunnel or virtual bridge rather than the LAN a
// browser peer will actually be reachable on.
func includeInterface(iface net.Interface) bool {
	rawFlags, err := interfaceRawFlags(iface.Name)
	if err != nil {
		// Flags unavailable (e.g. permission, or interface disappeared
		// between enumeration and lookup): fall back to including it and
		// let candidate pairing sort out reachability.
		return true
	}
	if rawFlags&unix.IFF_POINTOPOINT != 0 {
		return false
	}
	if rawFlags&unix.IFF_NOARP != 0 {
		return false
	}
	return true
}

// ifreqFlags mirrors the portion of struct ifreq that SIOCGIFFLAGS fills
// in (see netdevice(7)): a 16-byte interface name followed by the short
// flags field, padded to the kernel's ifreq size (40 bytes on 64-bit
// platforms, where the ifr_ifru union is 24 bytes).
type ifreqFlags struct {
	name  [unix.IFNAMSIZ]byte
	flags int16
	_     [40 - unix.IFNAMSIZ - 2]byte
}

func interfaceRawFlags(name string) (int16, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return 0, err
	}
	defer unix.Close(fd)

	var ifr ifreqFlags
	copy(ifr.name[:], name)

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.SIOCGIFFLAGS, uintptr(unsafe.Pointer(&ifr)))
	if errno != 0 {
		return 0, errno
	}
	return ifr.flags, nil
}
