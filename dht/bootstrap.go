package dht

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/cowtools/mainlinedht/kademlia"
)

// bootstrapMaxBackoff caps the retry wave interval once the routing table
// has failed to populate past the first few attempts.
const bootstrapMaxBackoff = 80 * time.Second

// BootstrapManager resolves the configured bootstrap hosts and drives
// find_node lookups for the local ID until the routing table is non-empty,
// retrying with capped exponential backoff past the initial retry floor
// spec.md names.
type BootstrapManager struct {
	node *Node
}

func newBootstrapManager(n *Node) *BootstrapManager {
	return &BootstrapManager{node: n}
}

// run seeds the routing table from the configured bootstrap hosts and keeps
// retrying, with backoff, until the table is populated or the node is
// closed. It must return promptly on n.stop, since Close waits on it.
func (bm *BootstrapManager) run() {
	n := bm.node
	defer n.wg.Done()

	wait := n.cfg.BootstrapRetryAfter
	for attempt := 1; ; attempt++ {
		seeds := bm.resolveSeeds()
		if len(seeds) == 0 {
			n.log.Warn("bootstrap: no seed addresses resolved")
		} else {
			n.log.WithField("attempt", attempt).WithField("seeds", len(seeds)).Debug("bootstrap: seeding lookup")
			n.Lookup(n.id, FindNode, seeds)
		}

		if n.RoutingTableSize() > 0 {
			n.log.WithField("attempt", attempt).Info("bootstrap: routing table populated")
			return
		}

		n.log.WithField("attempt", attempt).WithField("wait", wait).Warn("bootstrap: routing table still empty, retrying")
		select {
		case <-n.stop:
			return
		case <-time.After(wait):
		}

		wait = wait * 2
		if wait > bootstrapMaxBackoff {
			wait = bootstrapMaxBackoff
		}
	}
}

// resolveSeeds resolves the configured bootstrap hosts to IPv4 endpoints,
// bounding each lookup by cfg.BootstrapDNSTimeout and skipping hosts that
// fail to resolve within it.
func (bm *BootstrapManager) resolveSeeds() []kademlia.Endpoint {
	n := bm.node
	resolver := &net.Resolver{}
	var seeds []kademlia.Endpoint

	for _, hostport := range n.cfg.BootstrapAddrs {
		host, portStr, err := net.SplitHostPort(hostport)
		if err != nil {
			n.log.WithField("addr", hostport).WithError(err).Debug("bootstrap: bad host:port")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.BootstrapDNSTimeout)
		addrs, err := resolver.LookupIPAddr(ctx, host)
		cancel()
		if err != nil {
			n.log.WithField("host", host).WithError(err).Debug("bootstrap: DNS lookup failed")
			continue
		}

		port, err := strconv.Atoi(portStr)
		if err != nil {
			n.log.WithField("addr", hostport).WithError(err).Debug("bootstrap: bad port")
			continue
		}

		for _, a := range addrs {
			ip4 := a.IP.To4()
			if ip4 == nil {
				continue
			}
			seeds = append(seeds, kademlia.Endpoint{IP: ip4, Port: port})
		}
	}
	return seeds
}
