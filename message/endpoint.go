package message

import (
	"net"
	"strconv"
)

// Port is the well-known mDNS UDP port (§6).
const Port = 5353

// IPv4Group and IPv6Group are the mDNS multicast addresses (§6).
var (
	IPv4Group = net.ParseIP("224.0.0.251")
	IPv6Group = net.ParseIP("ff02::fb")
)

// Endpoint is an address-family-agnostic destination: an IP (v4 or v6) and a
// port. The core never opens a socket; it only describes where outbound
// bytes should go, leaving the actual send to the embedder (§1, §6).
type Endpoint struct {
	IP   net.IP
	Port int
}

// Multicast4 is the standard IPv4 mDNS group endpoint.
func Multicast4() Endpoint { return Endpoint{IP: IPv4Group, Port: Port} }

// Multicast6 is the standard IPv6 mDNS group endpoint.
func Multicast6() Endpoint { return Endpoint{IP: IPv6Group, Port: Port} }

func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), strconv.Itoa(e.Port))
}

// Equal reports whether e and o refer to the same IP and port.
func (e Endpoint) Equal(o Endpoint) bool {
	return e.IP.Equal(o.IP) && e.Port == o.Port
}
