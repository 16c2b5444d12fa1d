package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// DefaultBrowseTimeout is the default time spent listening for announcements
const DefaultBrowseTimeout = 3 * time.Second

// Endpoint is an announced WebSocket endpoint found on the network.
type Endpoint struct {
	// Instance is the mDNS instance name (e.g., "emunwa")
	Instance string

	// Hostname is the mDNS hostname (e.g., "retro-pc.local.")
	Hostname string

	// IP prefers IPv4
	IP   string
	Port int

	// Metadata contains the TXT record data, e.g. "backend"
	Metadata map[string]string
}

// URL returns the WebSocket URL of the endpoint.
func (e *Endpoint) URL() string {
	return "ws://" + net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

// String returns a human-readable string representation of the endpoint
func (e *Endpoint) String() string {
	if b := e.Metadata["backend"]; b != "" {
		return fmt.Sprintf("%s (%s) at %s", e.Instance, b, e.URL())
	}
	return fmt.Sprintf("%s at %s", e.Instance, e.URL())
}

// Browse listens for announced endpoints until timeout or ctx is done.
func Browse(ctx context.Context, timeout time.Duration) ([]*Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	var (
		mu        sync.Mutex
		endpoints []*Endpoint
		collected = make(chan struct{})
	)
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		defer close(collected)
		for entry := range entries {
			if ep := parseServiceEntry(entry); ep != nil {
				mu.Lock()
				endpoints = append(endpoints, ep)
				mu.Unlock()
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	// The resolver closes entries once it observes the cancellation.
	select {
	case <-collected:
	case <-time.After(time.Second):
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]*Endpoint(nil), endpoints...), nil
}

// parseServiceEntry converts a zeroconf service entry to an Endpoint.
// Returns nil when the entry has no usable address or port.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Endpoint {
	if entry == nil || entry.Port == 0 {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}

	return &Endpoint{
		Instance: entry.Instance,
		Hostname: entry.HostName,
		IP:       ip,
		Port:     entry.Port,
		Metadata: metadata,
	}
}
