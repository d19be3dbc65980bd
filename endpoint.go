package nsq

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint identifies one nsqd TCP listener. It is the canonical key
// used to de-duplicate connections in a Client's connection table.
type Endpoint struct {
	Host string
	Port int
}

// String returns the "host:port" form of the Endpoint.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Less orders Endpoints by host, then port, giving distribute_ready
// a stable, deterministic iteration order over the connection table.
func (e Endpoint) Less(other Endpoint) bool {
	if e.Host != other.Host {
		return e.Host < other.Host
	}
	return e.Port < other.Port
}

// ParseEndpoint splits a "host:port" string, as found in
// Config.NSQDTCPAddresses and in a Producer's target address.
func ParseEndpoint(hostport string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Endpoint{}, fmt.Errorf("nsq: invalid address %q: %w", hostport, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("nsq: invalid port in %q: %w", hostport, err)
	}
	return Endpoint{Host: host, Port: port}, nil
}
