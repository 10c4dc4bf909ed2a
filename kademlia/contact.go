package kademlia

import (
	"net"

	"github.com/pkg/errors"
)

// Endpoint is an IPv4 address and UDP port. Port must satisfy
// 0 < Port < 65535 per the wire protocol's port encoding.
type Endpoint struct {
	IP   net.IP
	Port int
}

// Validate checks the port-range invariant.
func (e Endpoint) Validate() error {
	if e.Port <= 0 || e.Port >= 65535 {
		return errors.Errorf("kademlia: endpoint port %d out of range (0,65535)", e.Port)
	}
	if e.IP.To4() == nil {
		return errors.New("kademlia: endpoint is not an IPv4 address")
	}
	return nil
}

// UDPAddr renders the endpoint as a *net.UDPAddr.
func (e Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: e.IP, Port: e.Port}
}

func (e Endpoint) String() string {
	return e.UDPAddr().String()
}

// Contact is a known DHT participant: its identifier and reachable endpoint.
type Contact struct {
	ID       NodeID
	Endpoint Endpoint
}
