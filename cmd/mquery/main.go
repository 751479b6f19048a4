// Command mquery looks up a single mDNS name from the command line, printing
// matching answers as they arrive (original_source/src/mquery.c).
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/jwmdns/mdnsd/internal/logging"
	"github.com/jwmdns/mdnsd/internal/transport"
	"github.com/jwmdns/mdnsd/message"
	"github.com/jwmdns/mdnsd/record"
	"github.com/jwmdns/mdnsd/responder"
)

func main() {
	iface := flag.String("i", "", "interface name to bind")
	simple := flag.Bool("s", false, "simple output: one answer value per line")
	recurse := flag.Bool("r", false, "recurse: follow a PTR answer with SRV and TXT queries for its instance")
	wait := flag.Duration("w", 2*time.Second, "how long to wait for answers before exiting")
	typeName := flag.String("t", "PTR", "record type to query: A, AAAA, PTR, SRV, TXT")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mquery [-i iface] [-s] [-r] [-w timeout] [-t type] name")
		os.Exit(2)
	}
	name := message.Name(flag.Arg(0))

	typ, err := parseType(*typeName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mquery:", err)
		os.Exit(2)
	}

	logger := logging.New(os.Stderr, logging.ParseLevel("warn"))

	addr, err := interfaceAddress(*iface)
	if err != nil {
		logger.WithError(err).Fatal("mquery: resolving interface address")
	}

	r, err := responder.New(responder.Config{Address: addr, Logger: logger})
	if err != nil {
		logger.WithError(err).Fatal("mquery: constructing responder")
	}

	sock, err := transport.Open()
	if err != nil {
		logger.WithError(err).Fatal("mquery: opening multicast socket")
	}
	defer sock.Close()

	var printAnswer func(rec record.Record, expired bool)
	printAnswer = func(rec record.Record, expired bool) {
		if expired {
			return
		}
		if *simple {
			fmt.Println(rec.Data.String())
		} else {
			fmt.Printf("%-32s %-6s %-6d %s\n", rec.Name, typeString(rec.Type), rec.TTL, rec.Data)
		}

		// mquery.c's ans(): a bare PTR answer names a service instance, not
		// the instance's own records, so recursing follows up with a query
		// for the instance name itself.
		if *recurse && rec.Type == message.TypePTR {
			if ptr, ok := rec.Data.(message.PTRData); ok {
				r.Query(ptr.Name, message.TypeSRV, false, printAnswer, now())
				r.Query(ptr.Name, message.TypeTXT, false, printAnswer, now())
			}
		}
	}

	r.Query(name, typ, false, printAnswer, now())

	inbound := make(chan inboundPacket, 32)
	go recvLoop(sock, inbound)

	deadline := time.Now().Add(*wait)
	for {
		for {
			pkt, ok := r.Output(now())
			if !ok {
				break
			}
			dst := message.Endpoint{}
			if !pkt.Multicast {
				dst = pkt.Unicast
			}
			_ = sock.Send(pkt.Bytes, dst)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}

		select {
		case pkt := <-inbound:
			msg, err := message.Decode(pkt.bytes)
			if err != nil {
				continue
			}
			r.Input(msg, pkt.from, pkt.from.Port, now())

		case <-time.After(remaining):
			return
		}
	}
}

type inboundPacket struct {
	bytes []byte
	from  message.Endpoint
}

func recvLoop(sock *transport.Socket, out chan<- inboundPacket) {
	buf := make([]byte, 65536)
	for {
		n, from, _, err := sock.Recv(buf)
		if err != nil {
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		out <- inboundPacket{bytes: cp, from: from}
	}
}

func parseType(s string) (message.Type, error) {
	switch s {
	case "A":
		return message.TypeA, nil
	case "AAAA":
		return message.TypeAAAA, nil
	case "PTR":
		return message.TypePTR, nil
	case "SRV":
		return message.TypeSRV, nil
	case "TXT":
		return message.TypeTXT, nil
	default:
		return 0, fmt.Errorf("unknown record type %q", s)
	}
}

func typeString(t message.Type) string {
	switch t {
	case message.TypeA:
		return "A"
	case message.TypeAAAA:
		return "AAAA"
	case message.TypePTR:
		return "PTR"
	case message.TypeSRV:
		return "SRV"
	case message.TypeTXT:
		return "TXT"
	default:
		return fmt.Sprintf("TYPE%d", t)
	}
}

func interfaceAddress(name string) (net.IP, error) {
	var ifaces []net.Interface
	if name != "" {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, err
		}
		ifaces = []net.Interface{*iface}
	} else {
		var err error
		ifaces, err = net.Interfaces()
		if err != nil {
			return nil, err
		}
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
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
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4, nil
			}
		}
	}
	return nil, fmt.Errorf("mquery: no usable non-loopback IPv4 interface found")
}

func now() int64 {
	return time.Now().UnixMilli()
}
