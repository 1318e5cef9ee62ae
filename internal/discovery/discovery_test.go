package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
)

func TestRelayURL(t *testing.T) {
	tests := []struct {
		name  string
		relay Relay
		want  string
	}{
		{"default path", Relay{Host: "192.168.1.20", Port: 8080}, "ws://192.168.1.20:8080/ws"},
		{"custom path", Relay{Host: "10.0.0.2", Port: 9000, Path: "/draw"}, "ws://10.0.0.2:9000/draw"},
		{"ipv6", Relay{Host: "::1", Port: 8080}, "ws://[::1]:8080/ws"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.relay.URL(); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRelayFromEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "studio._inkroom._tcp.local.",
		AddrV4:     net.IPv4(192, 168, 1, 20),
		Port:       8080,
		InfoFields: txtRecords("/relay"),
	}

	r, ok := relayFromEntry(entry)
	if !ok {
		t.Fatal("Expected entry to be accepted")
	}
	if r.Instance != "studio" {
		t.Errorf("Expected instance 'studio', got '%s'", r.Instance)
	}
	if r.URL() != "ws://192.168.1.20:8080/relay" {
		t.Errorf("Unexpected URL %s", r.URL())
	}
}

func TestRelayFromEntryRejects(t *testing.T) {
	tests := []struct {
		name  string
		entry *mdns.ServiceEntry
	}{
		{"nil", nil},
		{"no address", &mdns.ServiceEntry{Name: "a._inkroom._tcp.local.", Port: 8080}},
		{"no port", &mdns.ServiceEntry{Name: "a._inkroom._tcp.local.", AddrV4: net.IPv4(10, 0, 0, 1)}},
		{"other service", &mdns.ServiceEntry{Name: "a._localboard._tcp.local.", AddrV4: net.IPv4(10, 0, 0, 1), Port: 8080}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := relayFromEntry(tt.entry); ok {
				t.Error("Expected entry to be rejected")
			}
		})
	}
}

func TestRelayFromEntryDefaultsPath(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "box._inkroom._tcp.local.",
		AddrV4:     net.IPv4(10, 0, 0, 1),
		Port:       8080,
		InfoFields: []string{"version=1", "path=nope"},
	}

	r, ok := relayFromEntry(entry)
	if !ok {
		t.Fatal("Expected entry to be accepted")
	}
	if r.Path != DefaultPath {
		t.Errorf("Expected default path, got %s", r.Path)
	}
}

func TestInstanceName(t *testing.T) {
	tests := map[string]string{
		"studio._inkroom._tcp.local.":     "studio",
		`my\ laptop._inkroom._tcp.local.`: "my laptop",
		"bare.":                           "bare",
	}
	for in, want := range tests {
		if got := instanceName(in); got != want {
			t.Errorf("instanceName(%q): expected %q, got %q", in, want, got)
		}
	}
}
