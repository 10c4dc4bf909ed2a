package dht

import (
	"time"

	"github.com/cowtools/mainlinedht/kademlia"
)

// DefaultBootstrapAddrs are the three well-known mainline DHT bootstrap
// hosts, resolved to IPv4 during Bootstrap.
var DefaultBootstrapAddrs = []string{
	"router.bittorrent.com:6881",
	"dht.transmissionbt.com:6881",
	"router.utorrent.com:6881",
}

// Config carries the process-level settings that wire a Node together. This
// is the "process-level CLI/config wiring" spec.md places outside the core;
// it exists here as the outer layer that exercises the core.
type Config struct {
	// Port is the UDP port to bind. Zero selects an ephemeral port.
	Port int

	// LocalID overrides the randomly generated node identifier, mostly for
	// tests. Nil means generate one.
	LocalID *kademlia.NodeID

	// BootstrapAddrs is the host:port list resolved and seeded on startup.
	// Nil selects DefaultBootstrapAddrs.
	BootstrapAddrs []string

	// BootstrapDNSTimeout bounds hostname resolution during bootstrap.
	BootstrapDNSTimeout time.Duration

	// BootstrapRetryAfter is how long to wait, with an empty routing table,
	// before re-seeding from BootstrapAddrs. spec.md specifies 5 seconds.
	BootstrapRetryAfter time.Duration

	// PeerMaxAge bounds how long an announced peer is retained without a
	// refreshing re-announce. Zero selects the 2-hour default; a negative
	// value disables eviction.
	PeerMaxAge time.Duration

	// PeerEvictInterval is how often the peer-store sweep runs.
	PeerEvictInterval time.Duration

	// DisableBootstrap skips automatic bootstrap, for tests that seed the
	// routing table directly.
	DisableBootstrap bool
}

func (c Config) withDefaults() Config {
	if c.BootstrapAddrs == nil {
		c.BootstrapAddrs = DefaultBootstrapAddrs
	}
	if c.BootstrapDNSTimeout == 0 {
		c.BootstrapDNSTimeout = 10 * time.Second
	}
	if c.BootstrapRetryAfter == 0 {
		c.BootstrapRetryAfter = 5 * time.Second
	}
	if c.PeerMaxAge == 0 {
		c.PeerMaxAge = 2 * time.Hour
	}
	if c.PeerEvictInterval == 0 {
		c.PeerEvictInterval = 30 * time.Minute
	}
	return c
}
