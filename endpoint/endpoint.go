// Package endpoint defines the parsed inbound update notification that is
// passed from the server boundary into the relay core.
package endpoint

import "net/netip"

// Update is one parsed dyndns update notification. Every field is optional
// and absent when left as its zero value, because the notifying router may
// send empty or unparseable values for any of them.
type Update struct {
	IPv4       netip.Addr
	IPv6       netip.Addr
	IPv6Prefix netip.Prefix
}

// Empty reports whether the update carries no usable address information.
func (u Update) Empty() bool {
	return !u.IPv4.IsValid() && !u.IPv6.IsValid() && !u.IPv6Prefix.IsValid()
}
