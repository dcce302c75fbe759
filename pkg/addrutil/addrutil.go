// Package addrutil contains address arithmetic helpers.
package addrutil

import (
	"errors"
	"net/netip"
)

// ErrVersionMismatch is returned by Combine when the prefix and suffix are
// not the same protocol version.
var ErrVersionMismatch = errors.New("addrutil: prefix and suffix must be of same version (v4 or v6)")

// Combine constructs a full address from a network prefix and a suffix by
// bitwise OR of the prefix's network address bits and the suffix bits.
// Making sure the network and suffix bit ranges do not overlap is the
// responsibility of the caller; overlapping bits are OR'd as-is.
func Combine(prefix netip.Prefix, suffix netip.Addr) (netip.Addr, error) {
	if !prefix.IsValid() || !suffix.IsValid() {
		return netip.Addr{}, ErrVersionMismatch
	}
	if prefix.Addr().Is4() != suffix.Is4() {
		return netip.Addr{}, ErrVersionMismatch
	}
	network := prefix.Masked().Addr()
	if suffix.Is4() {
		n := network.As4()
		s := suffix.As4()
		for i := range n {
			n[i] |= s[i]
		}
		return netip.AddrFrom4(n), nil
	}
	n := network.As16()
	s := suffix.As16()
	for i := range n {
		n[i] |= s[i]
	}
	return netip.AddrFrom16(n), nil
}
