// Package transport owns the one piece of I/O the engine itself never
// performs (§1 "the engine core has no goroutines and makes no syscalls"):
// the multicast UDP socket. It mirrors the teacher's conn.go socket setup
// (DefaultPacketConn, per-interface JoinGroup) wrapped in an ipv4.PacketConn
// so the caller also gets the inbound interface index, the way
// joshuafuller-beacon's internal/transport/udp.go does it.
package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/jwmdns/mdnsd/message"
)

const readBufferSize = 65536

// Socket is a bound, group-joined mDNS multicast UDP socket.
type Socket struct {
	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	dstAddr *net.UDPAddr
}

// Open binds a UDP socket on the mDNS port, sets the listener socket options
// §6 requires — `SO_REUSEADDR` and `SO_REUSEPORT` so multiple responders can
// share the port on one host, `IP_MULTICAST_TTL`=1 and `IP_MULTICAST_LOOP`=0
// so a responder never treats its own multicast sends as inbound traffic
// (golang.org/x/sys/unix fills in what net.ListenUDP's portable API omits) —
// and joins the IPv4 multicast group on every interface capable of it.
func Open() (*Socket, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); ctrlErr != nil {
					return
				}
				if ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); ctrlErr != nil {
					return
				}
				if ctrlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, 1); ctrlErr != nil {
					return
				}
				ctrlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, 0)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", message.Port))
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	conn := pc.(*net.UDPConn)

	if err := conn.SetReadBuffer(readBufferSize); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: set read buffer: %w", err)
	}

	pconn := ipv4.NewPacketConn(conn)
	_ = pconn.SetControlMessage(ipv4.FlagInterface, true)

	ifaces, err := net.Interfaces()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: list interfaces: %w", err)
	}
	joined := 0
	group := &net.UDPAddr{IP: message.IPv4Group}
	for i := range ifaces {
		if err := pconn.JoinGroup(&ifaces[i], group); err == nil {
			joined++
		}
	}
	if joined == 0 {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: failed to join the mDNS multicast group on any interface")
	}

	return &Socket{
		conn:  conn,
		pconn: pconn,
		dstAddr: &net.UDPAddr{
			IP:   message.IPv4Group,
			Port: message.Port,
		},
	}, nil
}

// Close releases the socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// Send writes bytes to dst, or to the standard multicast group when dst is
// the zero Endpoint.
func (s *Socket) Send(b []byte, dst message.Endpoint) error {
	addr := s.dstAddr
	if dst.IP != nil {
		addr = &net.UDPAddr{IP: dst.IP, Port: dst.Port}
	}
	n, err := s.conn.WriteToUDP(b, addr)
	if err != nil {
		return fmt.Errorf("transport: send to %s: %w", addr, err)
	}
	if n != len(b) {
		return fmt.Errorf("transport: short write to %s: %d/%d bytes", addr, n, len(b))
	}
	return nil
}

// Recv blocks for the next inbound packet, returning its bytes, sender, and
// the local interface index it arrived on (0 if the platform didn't report
// one) for the embedder to feed into Responder.Input.
func (s *Socket) Recv(buf []byte) (n int, from message.Endpoint, ifIndex int, err error) {
	n, cm, addr, err := s.pconn.ReadFrom(buf)
	if err != nil {
		return 0, message.Endpoint{}, 0, fmt.Errorf("transport: recv: %w", err)
	}
	udpAddr, _ := addr.(*net.UDPAddr)
	from = message.Endpoint{IP: udpAddr.IP, Port: udpAddr.Port}
	if cm != nil {
		ifIndex = cm.IfIndex
	}
	return n, from, ifIndex, nil
}
