// Command mdnsd runs a multicast DNS responder that publishes the services
// named in a TOML config file, answering queries on the local network until
// terminated (original_source/src/mdnsd.c).
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"

	"github.com/jwmdns/mdnsd/internal/config"
	"github.com/jwmdns/mdnsd/internal/logging"
	"github.com/jwmdns/mdnsd/internal/transport"
	"github.com/jwmdns/mdnsd/message"
	"github.com/jwmdns/mdnsd/record"
	"github.com/jwmdns/mdnsd/responder"
)

// sysInterval is how often the interface address is polled for changes,
// matching mdnsd.c's SYS_INTERVAL.
const sysInterval = 10 * time.Second

func main() {
	configPath := flag.String("f", "", "path to the service definition TOML file")
	iface := flag.String("i", "", "interface name to bind and advertise (default: first non-loopback interface)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := logging.New(os.Stderr, logging.ParseLevel(*logLevel))

	if *configPath == "" {
		logger.Fatal("mdnsd: -f <config.toml> is required")
	}

	addr, err := interfaceAddress(*iface)
	if err != nil {
		logger.WithError(err).Fatal("mdnsd: resolving interface address")
	}

	r, err := responder.New(responder.Config{Address: addr, Logger: logger})
	if err != nil {
		logger.WithError(err).Fatal("mdnsd: constructing responder")
	}

	keys, err := publishFromConfig(r, *configPath, now())
	if err != nil {
		logger.WithError(err).Fatal("mdnsd: loading config")
	}
	logger.Infof("mdnsd: published %d records from %s", len(keys), *configPath)

	hostID := 0
	r.OnConflict(func(key record.Key) {
		hostID++
		logger.Warnf("mdnsd: conflict on %v, renumbering host id to %d", key, hostID)
	})

	sock, err := transport.Open()
	if err != nil {
		logger.WithError(err).Fatal("mdnsd: opening multicast socket")
	}
	defer sock.Close()

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGINT, syscall.SIGTERM)

	inbound := make(chan inboundPacket, 32)
	go recvLoop(sock, logger, inbound)

	sysTick := time.NewTicker(sysInterval)
	defer sysTick.Stop()

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
			if err := sock.Send(pkt.Bytes, dst); err != nil {
				logger.WithError(err).Warn("mdnsd: send failed")
			}
		}

		deadline, hasDeadline := r.Sleep(now())
		var timer *time.Timer
		var timerC <-chan time.Time
		if hasDeadline {
			d := time.Duration(deadline-now()) * time.Millisecond
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case pkt := <-inbound:
			if timer != nil {
				timer.Stop()
			}
			msg, err := message.Decode(pkt.bytes)
			if err != nil {
				logger.WithError(err).Debug("mdnsd: dropping unparsable packet")
				continue
			}
			r.Input(msg, pkt.from, pkt.from.Port, now())

		case <-timerC:
			continue

		case <-sysTick.C:
			if timer != nil {
				timer.Stop()
			}
			if newAddr, err := interfaceAddress(*iface); err == nil && !newAddr.Equal(r.Address()) {
				logger.Infof("mdnsd: interface address changed to %s", newAddr)
				r.SetAddress(newAddr)
			}

		case <-sighup:
			if timer != nil {
				timer.Stop()
			}
			logger.Info("mdnsd: reloading config")
			for _, key := range keys {
				if err := r.Withdraw(key.Name, key.Type, now()); err != nil {
					logger.WithError(err).Warn("mdnsd: withdrawing during reload")
				}
			}
			keys, err = publishFromConfig(r, *configPath, now())
			if err != nil {
				logger.WithError(err).Warn("mdnsd: re-publishing after reload")
			}

		case <-sigterm:
			logger.Info("mdnsd: shutting down")
			drainShutdown(r, sock, logger)
			return
		}
	}
}

type inboundPacket struct {
	bytes []byte
	from  message.Endpoint
}

func recvLoop(sock *transport.Socket, logger *log.Logger, out chan<- inboundPacket) {
	buf := make([]byte, 65536)
	for {
		n, from, _, err := sock.Recv(buf)
		if err != nil {
			logger.WithError(err).Debug("mdnsd: recv error")
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		out <- inboundPacket{bytes: cp, from: from}
	}
}

// publishFromConfig loads and publishes every record named by path,
// returning the keys needed to withdraw them again on reload.
func publishFromConfig(r *responder.Responder, path string, at int64) ([]record.Key, error) {
	recs, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	keys := make([]record.Key, 0, len(recs))
	for _, rec := range recs {
		if _, err := r.Publish(rec, at); err != nil {
			return keys, err
		}
		keys = append(keys, record.KeyOf(rec.Name, rec.Type))
	}
	return keys, nil
}

func drainShutdown(r *responder.Responder, sock *transport.Socket, logger *log.Logger) {
	r.Shutdown(now())
	for {
		pkt, ok := r.Output(now())
		if !ok {
			return
		}
		dst := message.Endpoint{}
		if !pkt.Multicast {
			dst = pkt.Unicast
		}
		if err := sock.Send(pkt.Bytes, dst); err != nil {
			logger.WithError(err).Warn("mdnsd: send failed during shutdown")
		}
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
	return nil, fmt.Errorf("mdnsd: no usable non-loopback IPv4 interface found")
}

// now returns the current monotonic millisecond timestamp the engine's
// caller-driven clock expects (§4.3 "Scheduling clock").
func now() int64 {
	return time.Now().UnixMilli()
}
