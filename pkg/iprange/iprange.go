// Package iprange classifies IP addresses as private or public.
package iprange

import "net/netip"

// Private reports whether addr belongs to a range that is not routable on
// the public internet: loopback, link-local, RFC 1918, IPv6 unique-local,
// and the unspecified address. IPv4-mapped IPv6 addresses are judged by
// their embedded IPv4 address.
func Private(addr netip.Addr) bool {
	addr = addr.Unmap()

	switch {
	case addr.IsLoopback():
		return true
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return true
	case addr.IsPrivate(): // RFC 1918 and fc00::/7
		return true
	case addr.IsUnspecified():
		return true
	}
	return false
}

// PrivateAny reports whether any address in addrs is private. An empty slice
// is public.
func PrivateAny(addrs []netip.Addr) bool {
	for _, addr := range addrs {
		if Private(addr) {
			return true
		}
	}
	return false
}
