// File: socket/address.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
)

// Address is an IPv4 or IPv6 endpoint.
type Address struct {
	ap netip.AddrPort
}

// ParseAddress parses a literal "ip:port" endpoint.
func ParseAddress(s string) (Address, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", s, err)
	}
	return Address{ap: netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())}, nil
}

// AddressFrom builds an address from an IP and a port.
func AddressFrom(ip netip.Addr, port uint16) Address {
	return Address{ap: netip.AddrPortFrom(ip.Unmap(), port)}
}

// Lookup resolves "host:port" to every matching address. The lookup blocks
// the calling worker.
func Lookup(ctx context.Context, hostport string) ([]Address, error) {
	host, ps, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", hostport, err)
	}
	port, err := strconv.ParseUint(ps, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("lookup %q: bad port: %w", hostport, err)
	}
	if host == "" {
		return []Address{AddressFrom(netip.IPv4Unspecified(), uint16(port))}, nil
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return []Address{AddressFrom(ip, uint16(port))}, nil
	}
	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", hostport, err)
	}
	out := make([]Address, 0, len(ips))
	for _, ip := range ips {
		out = append(out, AddressFrom(ip, uint16(port)))
	}
	return out, nil
}

// ResolveTCP returns the first address of hostport, preferring IPv4.
func ResolveTCP(ctx context.Context, hostport string) (Address, error) {
	all, err := Lookup(ctx, hostport)
	if err != nil {
		return Address{}, err
	}
	for _, a := range all {
		if a.Family() == unix.AF_INET {
			return a, nil
		}
	}
	if len(all) == 0 {
		return Address{}, fmt.Errorf("lookup %q: %w", hostport, api.ErrNotFound)
	}
	return all[0], nil
}

// FromSockaddr converts a kernel socket address.
func FromSockaddr(sa unix.Sockaddr) (Address, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return AddressFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port)), nil
	case *unix.SockaddrInet6:
		ip := netip.AddrFrom16(sa.Addr)
		if sa.ZoneId != 0 {
			ip = ip.WithZone(strconv.Itoa(int(sa.ZoneId)))
		}
		return AddressFrom(ip, uint16(sa.Port)), nil
	}
	return Address{}, fmt.Errorf("sockaddr %T: %w", sa, api.ErrNotSupported)
}

// IsValid reports whether a holds an endpoint.
func (a Address) IsValid() bool { return a.ap.IsValid() }

// IP returns the address without the port.
func (a Address) IP() netip.Addr { return a.ap.Addr() }

// Port returns the port.
func (a Address) Port() uint16 { return a.ap.Port() }

// WithPort returns a copy of a with another port.
func (a Address) WithPort(p uint16) Address { return AddressFrom(a.ap.Addr(), p) }

// Family returns AF_INET or AF_INET6.
func (a Address) Family() int {
	if a.ap.Addr().Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

// Sockaddr converts a for system calls.
func (a Address) Sockaddr() unix.Sockaddr {
	ip := a.ap.Addr()
	if ip.Is4() {
		return &unix.SockaddrInet4{Port: int(a.ap.Port()), Addr: ip.As4()}
	}
	sa := &unix.SockaddrInet6{Port: int(a.ap.Port()), Addr: ip.As16()}
	if z := ip.Zone(); z != "" {
		if id, err := strconv.Atoi(z); err == nil {
			sa.ZoneId = uint32(id)
		} else if ifi, err := net.InterfaceByName(z); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return sa
}

func (a Address) String() string { return a.ap.String() }
