// Package discovery advertises and finds signaling servers on the local
// network over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/BioHazard786/Warpcall/internal/version"
)

const (
	// Service is the DNS-SD service type of a signaling server.
	Service = "_warpcall._tcp"
	Domain  = "local."

	DefaultBrowseTimeout = 3 * time.Second
)

var ErrNotFound = errors.New("no signaling server found on the local network")

// MDNSServer is a running registration.
type MDNSServer interface {
	Shutdown()
}

// RegisterFunc registers a service instance. zeroconf.Register in production.
type RegisterFunc func(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)

func zeroconfRegister(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// Advertisement keeps a server visible until Shutdown.
type Advertisement struct {
	server MDNSServer
	once   sync.Once
}

func (a *Advertisement) Shutdown() {
	a.once.Do(a.server.Shutdown)
}

// Advertise publishes a signaling server listening on port. The TXT record
// carries the WebSocket path and server version.
func Advertise(instance string, port int, register RegisterFunc) (*Advertisement, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}
	if register == nil {
		register = zeroconfRegister
	}

	txt := []string{"path=/ws", "version=" + version.Version}
	server, err := register(instance, Service, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns registration failed: %w", err)
	}

	slog.Info("advertising on local network", "instance", instance, "service", Service, "port", port)
	return &Advertisement{server: server}, nil
}

// Server is a signaling server found on the network.
type Server struct {
	Instance string
	Host     string
	Port     int
	IPs      []net.IP
	Text     map[string]string
}

// URL is the WebSocket endpoint of the server, preferring IPv4.
func (s Server) URL() string {
	host := strings.TrimSuffix(s.Host, ".")
	if len(s.IPs) > 0 {
		host = s.IPs[0].String()
	}

	path := s.Text["path"]
	if path == "" {
		path = "/ws"
	}

	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(s.Port)), Path: path}
	return u.String()
}

// MDNSResolver browses for service entries. Entries are delivered until
// ctx is done.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Browser finds signaling servers.
type Browser struct {
	Resolver MDNSResolver
	Timeout  time.Duration
}

// NewBrowser returns a Browser backed by zeroconf.
func NewBrowser() (*Browser, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("create mdns resolver: %w", err)
	}
	return &Browser{Resolver: r, Timeout: DefaultBrowseTimeout}, nil
}

// Browse collects every server that answers before the timeout, sorted by
// instance name.
func (b *Browser) Browse(ctx context.Context) ([]Server, error) {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := b.Resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", Service, err)
	}

	seen := make(map[string]Server)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return sorted(seen), nil
			}
			if entry == nil || entry.Port == 0 {
				continue
			}
			s := toServer(entry)
			seen[s.Instance] = s
		case <-ctx.Done():
			return sorted(seen), nil
		}
	}
}

// First returns the first server found, or ErrNotFound.
func (b *Browser) First(ctx context.Context) (Server, error) {
	servers, err := b.Browse(ctx)
	if err != nil {
		return Server{}, err
	}
	if len(servers) == 0 {
		return Server{}, ErrNotFound
	}
	return servers[0], nil
}

func sorted(m map[string]Server) []Server {
	out := make([]Server, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

func toServer(entry *zeroconf.ServiceEntry) Server {
	ips := append([]net.IP{}, entry.AddrIPv4...)
	ips = append(ips, entry.AddrIPv6...)

	text := make(map[string]string, len(entry.Text))
	for _, kv := range entry.Text {
		k, v, _ := strings.Cut(kv, "=")
		text[k] = v
	}

	return Server{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     entry.Port,
		IPs:      ips,
		Text:     text,
	}
}
