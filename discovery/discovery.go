// Package discovery advertises file servers on the local network over mDNS
// and lets clients find them.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceName = "_filexfer._tcp"
	Domain      = "local."
)

// Server is one file server found on the network.
type Server struct {
	Instance string
	Host     string
	Port     int
	Addrs    []net.IP
	Text     []string
}

// Address returns a dialable host:port for the server, preferring IPv4.
func (s Server) Address() string {
	host := s.Host
	if len(s.Addrs) > 0 {
		host = s.Addrs[0].String()
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
}

// Shutdown withdraws the registration.
func (a *Advertisement) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Advertise registers the file server listening on port. An empty instance
// name uses the hostname.
func Advertise(instance string, port int, text []string) (*Advertisement, error) {
	if instance == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to get hostname: %w", err)
		}
		instance = hostname
	}

	server, err := zeroconf.Register(instance, ServiceName, Domain, port, text, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", ServiceName, err)
	}
	return &Advertisement{server: server}, nil
}

// Browse collects servers announced within timeout or until ctx is done.
func Browse(ctx context.Context, timeout time.Duration) ([]Server, error) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan []Server, 1)
	go func(results <-chan *zeroconf.ServiceEntry) {
		var servers []Server
		seen := make(map[string]bool)
		for entry := range results {
			if entry == nil || seen[entry.Instance] {
				continue
			}
			seen[entry.Instance] = true
			servers = append(servers, fromEntry(entry))
		}
		found <- servers
	}(entries)

	if err := resolver.Browse(ctx, ServiceName, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse: %w", err)
	}

	<-ctx.Done()
	select {
	case servers := <-found:
		return servers, nil
	case <-time.After(time.Second):
		// the resolver closes entries shortly after ctx is done
		return nil, fmt.Errorf("browse did not finish")
	}
}

func fromEntry(entry *zeroconf.ServiceEntry) Server {
	addrs := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	addrs = append(addrs, entry.AddrIPv4...)
	addrs = append(addrs, entry.AddrIPv6...)
	return Server{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     entry.Port,
		Addrs:    addrs,
		Text:     entry.Text,
	}
}
