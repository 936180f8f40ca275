package transport

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Info describes a single TCP socket's provenance: who dialed whom,
// and whether the original endpoint string named "localhost" (which
// requires rewriting to the machine's outward-facing address before
// dialing, so the peer observes a consistent remote address).
type Info struct {
	Guard             *Guard
	RemoteAddr        string
	LocalAddr         string
	Inbound           bool
	RemoteIsLocalhost bool
}

// ConnectResult is pushed to the reactor's connection-results queue
// once a dial or accept completes, successfully or not. Endpoint is
// only set for outbound dials (successful or not), so a failure can
// be rescheduled against the same address.
type ConnectResult struct {
	Info     *Info
	Success  bool
	Err      error
	Endpoint string
}

// ResolveEndpoint splits a "host:port" endpoint, rewriting a "localhost"
// host to the machine's primary outward-facing IPv4 address so the
// peer sees a stable address even in loopback test setups.
func ResolveEndpoint(endpoint string) (host string, port string, isLocalhost bool, err error) {
	host, port, err = net.SplitHostPort(endpoint)
	if err != nil {
		return "", "", false, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}

	if strings.EqualFold(host, "localhost") {
		outward, err := primaryOutwardIPv4()
		if err != nil {
			return "", "", false, fmt.Errorf("resolve localhost to outward address: %w", err)
		}
		return outward, port, true, nil
	}
	return host, port, false, nil
}

// primaryOutwardIPv4 finds the machine's primary outward-facing IPv4
// address by opening a UDP socket toward a public address and reading
// back the local address the kernel chose for it; no packets are sent.
func primaryOutwardIPv4() (string, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return localAddr.IP.String(), nil
}

// Dial connects to a remote "host:port" endpoint, rewriting a
// "localhost" host first. The returned Info always carries Inbound =
// false.
func Dial(endpoint string, timeout time.Duration) (*Info, error) {
	host, port, isLocalhost, err := ResolveEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("tcp4", net.JoinHostPort(host, port), timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	return &Info{
		Guard:             NewGuard(conn),
		RemoteAddr:        conn.RemoteAddr().String(),
		LocalAddr:         conn.LocalAddr().String(),
		Inbound:           false,
		RemoteIsLocalhost: isLocalhost,
	}, nil
}

// Acceptor wraps a TCP listener bound on an any-address port.
type Acceptor struct {
	listener net.Listener
}

// Listen binds a TCP listener on 0.0.0.0:port.
func Listen(port int) (*Acceptor, error) {
	listener, err := net.Listen("tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	return &Acceptor{listener: listener}, nil
}

// Accept blocks for the next inbound connection. Callers typically run
// this in a dedicated goroutine, re-arming by calling Accept again
// after each completion, and push the result to the reactor's
// connection-results queue.
func (a *Acceptor) Accept() (*Info, error) {
	conn, err := a.listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}
	return &Info{
		Guard:      NewGuard(conn),
		RemoteAddr: conn.RemoteAddr().String(),
		LocalAddr:  conn.LocalAddr().String(),
		Inbound:    true,
	}, nil
}

// Addr returns the listener's bound address.
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Close stops the listener. Any goroutine blocked in Accept returns an
// error.
func (a *Acceptor) Close() error {
	return a.listener.Close()
}
