package domain

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Entry allows logins from Prefix. An empty IdentityID applies to every privileged identity.
type Entry struct {
	ID         string
	IdentityID string
	Prefix     netip.Prefix
	Active     bool
	Note       string
	CreatedAt  time.Time
}

// Global reports whether the entry applies to all privileged identities.
func (e *Entry) Global() bool { return e.IdentityID == "" }

// ParsePrefix accepts CIDR notation or a bare address (treated as a single-host prefix).
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid CIDR %q: %w", s, err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// ParseOrigin extracts the client address from "ip", "ip:port", or "[ipv6]:port".
func ParseOrigin(origin string) (netip.Addr, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return netip.Addr{}, fmt.Errorf("empty origin")
	}
	if ap, err := netip.ParseAddrPort(origin); err == nil {
		return ap.Addr().Unmap(), nil
	}
	addr, err := netip.ParseAddr(strings.Trim(origin, "[]"))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	return addr.Unmap(), nil
}
