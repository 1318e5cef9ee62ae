// Package discovery advertises and finds relays on the local network over
// mDNS.
package discovery

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	ServiceType = "_inkroom._tcp"

	DefaultPath    = "/ws"
	DefaultTimeout = 2 * time.Second

	txtPath    = "path="
	txtVersion = "version="
	version    = "1"
)

// Relay is a relay instance found on the LAN.
type Relay struct {
	Instance string
	Host     string
	Port     int
	Path     string
}

// URL returns the relay's websocket endpoint.
func (r Relay) URL() string {
	path := r.Path
	if path == "" {
		path = DefaultPath
	}
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(r.Host, fmt.Sprint(r.Port)),
		Path:   path,
	}
	return u.String()
}

// Advertiser keeps a relay registered until Shutdown.
type Advertiser struct {
	server *mdns.Server
	once   sync.Once
}

// Advertise announces a relay listening on port. An empty instance uses the
// host name.
func Advertise(instance string, port int, path string) (*Advertiser, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = host
	}
	if path == "" {
		path = DefaultPath
	}

	service, err := mdns.NewMDNSService(
		instance,
		ServiceType,
		"",
		"",
		port,
		nil,
		txtRecords(path),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() error {
	var err error
	a.once.Do(func() {
		err = a.server.Shutdown()
	})
	return err
}

func txtRecords(path string) []string {
	return []string{txtPath + path, txtVersion + version}
}

// Browse queries the LAN for relays until timeout or ctx ends, whichever
// comes first. Results are deduplicated by instance and sorted.
func Browse(ctx context.Context, timeout time.Duration) ([]Relay, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, ctx.Err()
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	found := make(map[string]Relay)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if r, ok := relayFromEntry(e); ok {
				found[r.Instance] = r
			}
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	<-done

	if err != nil {
		return nil, fmt.Errorf("mdns query: %w", err)
	}

	relays := make([]Relay, 0, len(found))
	for _, r := range found {
		relays = append(relays, r)
	}
	sort.Slice(relays, func(i, j int) bool { return relays[i].Instance < relays[j].Instance })
	return relays, nil
}

func relayFromEntry(e *mdns.ServiceEntry) (Relay, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return Relay{}, false
	}
	if !strings.Contains(e.Name, ServiceType) {
		return Relay{}, false
	}

	r := Relay{
		Instance: instanceName(e.Name),
		Host:     e.AddrV4.String(),
		Port:     e.Port,
		Path:     DefaultPath,
	}
	for _, field := range e.InfoFields {
		if p, ok := strings.CutPrefix(field, txtPath); ok && strings.HasPrefix(p, "/") {
			r.Path = p
		}
	}
	return r, true
}

// "studio._inkroom._tcp.local." -> "studio"
func instanceName(name string) string {
	if i := strings.Index(name, "."+ServiceType); i > 0 {
		return strings.ReplaceAll(name[:i], `\ `, " ")
	}
	return strings.TrimSuffix(name, ".")
}
