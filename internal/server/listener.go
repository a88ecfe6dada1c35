package server

import (
	"fmt"
	"net"
	"strconv"

	"github.com/sirosfoundation/go-hello-listeners/pkg/config"
)

// Protocol is the application protocol spoken on a listener
type Protocol string

const (
	// ProtocolHTTP is plaintext HTTP/1.1
	ProtocolHTTP Protocol = "http"
	// ProtocolHTTPS is HTTP terminated by TLS
	ProtocolHTTPS Protocol = "https"
)

// Spec is one (protocol, bind address, port) tuple.
type Spec struct {
	Protocol Protocol
	Address  string
	Port     int
}

// HostPort returns address:port, bracketing IPv6 literals.
func (s Spec) HostPort() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// Network picks tcp4/tcp6 for IP literals so a listener never binds both families.
func (s Spec) Network() string {
	ip := net.ParseIP(s.Address)
	switch {
	case ip == nil:
		return "tcp"
	case ip.To4() != nil:
		return "tcp4"
	default:
		return "tcp6"
	}
}

func (s Spec) String() string {
	return fmt.Sprintf("(%s, %s, %d)", s.Protocol, s.Address, s.Port)
}

// SpecsFromConfig converts configured listeners into Specs.
func SpecsFromConfig(listeners []config.ListenerConfig) []Spec {
	specs := make([]Spec, 0, len(listeners))
	for _, l := range listeners {
		specs = append(specs, Spec{
			Protocol: Protocol(l.Protocol),
			Address:  l.Address,
			Port:     l.Port,
		})
	}
	return specs
}
