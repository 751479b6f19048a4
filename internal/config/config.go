// Package config loads service-definition files into record sets, replacing
// original_source/mdnsd.c's bespoke ".service" text format with a typed TOML
// document (§1 "out of scope: parsing .service configuration files" — this
// package is the external collaborator that fills that role for cmd/mdnsd).
package config

import (
	"fmt"
	"net"

	"github.com/BurntSushi/toml"

	"github.com/jwmdns/mdnsd/message"
	"github.com/jwmdns/mdnsd/record"
)

// Service is one [[service]] entry: an instance of a DNS-SD service type,
// following the naming scheme the teacher's zone.go builds
// (instance.service.domain, service.domain, hostname).
type Service struct {
	Instance string   `toml:"instance"`
	Type     string   `toml:"type"` // e.g. "_http._tcp"
	Domain   string   `toml:"domain"`
	Host     string   `toml:"host"`
	Port     uint16   `toml:"port"`
	IPs      []string `toml:"ips"`
	TXT      []string `toml:"txt"`
	TTL      uint32   `toml:"ttl"`
}

// File is the root document parsed from a service-definition TOML file.
type File struct {
	Service []Service `toml:"service"`
}

// defaultServiceTTL applies to any service entry that leaves ttl unset,
// matching the responder's own defaultTTL.
const defaultServiceTTL = 120

// Load parses path and expands every [[service]] entry into the owned
// record set the responder should publish: PTR (service -> instance), SRV +
// TXT (instance), and A/AAAA (host), mirroring bino7-mdns's
// MDNSService.Resources but as data rather than a query-time Zone.
func Load(path string) ([]record.Record, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	var records []record.Record
	for _, svc := range f.Service {
		recs, err := svc.records()
		if err != nil {
			return nil, fmt.Errorf("config: service %q: %w", svc.Instance, err)
		}
		records = append(records, recs...)
	}
	return records, nil
}

func (s Service) domain() string {
	if s.Domain == "" {
		return "local."
	}
	return s.Domain
}

func (s Service) serviceName() message.Name {
	return message.Name(fmt.Sprintf("%s.%s", s.Type, s.domain()))
}

func (s Service) instanceName() message.Name {
	return message.Name(fmt.Sprintf("%s.%s.%s", s.Instance, s.Type, s.domain()))
}

func (s Service) hostName() message.Name {
	if s.Host == "" {
		return message.Name(fmt.Sprintf("%s.%s", s.Instance, s.domain()))
	}
	return message.Name(s.Host)
}

// records expands one Service entry into its full owned record set.
func (s Service) records() ([]record.Record, error) {
	if s.Instance == "" {
		return nil, fmt.Errorf("missing instance name")
	}
	if s.Type == "" {
		return nil, fmt.Errorf("missing service type")
	}
	if s.Port == 0 {
		return nil, fmt.Errorf("missing port")
	}

	ttl := s.TTL
	if ttl == 0 {
		ttl = defaultServiceTTL
	}

	ptr := record.Record{
		Name: s.serviceName(), Type: message.TypePTR, Class: message.ClassINET,
		TTL: ttl, Unique: false,
		Data: message.PTRData{Name: s.instanceName()},
	}
	srv := record.Record{
		Name: s.instanceName(), Type: message.TypeSRV, Class: message.ClassINET,
		TTL: ttl, Unique: true,
		Data: message.SRVData{Priority: 0, Weight: 0, Port: s.Port, Target: s.hostName()},
	}
	txt := record.Record{
		Name: s.instanceName(), Type: message.TypeTXT, Class: message.ClassINET,
		TTL: ttl, Unique: true,
		Data: message.TXTData{Strings: s.TXT},
	}

	records := []record.Record{ptr, srv, txt}

	for _, raw := range s.IPs {
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, fmt.Errorf("invalid ip %q", raw)
		}
		if ip4 := ip.To4(); ip4 != nil {
			records = append(records, record.Record{
				Name: s.hostName(), Type: message.TypeA, Class: message.ClassINET,
				TTL: ttl, Unique: true, Data: message.AData{IP: ip4},
			})
			continue
		}
		records = append(records, record.Record{
			Name: s.hostName(), Type: message.TypeAAAA, Class: message.ClassINET,
			TTL: ttl, Unique: true, Data: message.AAAAData{IP: ip.To16()},
		})
	}

	return records, nil
}
