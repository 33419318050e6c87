package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// LAN discovery strings. A datagram equal to DiscoveryProbe is answered with
// DiscoveryAnswer; anything else is handed to the debug evaluator.
const (
	DiscoveryProbe  = "starlane-server?"
	DiscoveryAnswer = "starlane-server-here"
)

// maxDatagram bounds discovery/debug query payloads
const maxDatagram = 1024

// Evaluator answers read-only debug expressions against live game state
type Evaluator interface {
	// Evaluate returns the stringified value of expr. It must never mutate
	// state and must not panic through to the caller.
	Evaluate(expr string) (string, error)
}

// Listener owns the TCP acceptor and the UDP discovery socket
type Listener struct {
	tcp       net.Listener
	udp       net.PacketConn
	logger    *slog.Logger
	evaluator Evaluator
	onConn    func(net.Conn)

	closed chan struct{}
}

// Listen binds the TCP and UDP sockets. When loopbackOnly is set (single
// player deployments) both sockets bind the loopback interface only.
func Listen(
	listenAddr, discoveryAddr string,
	loopbackOnly bool,
	evaluator Evaluator,
	logger *slog.Logger,
	onConn func(net.Conn),
) (*Listener, error) {
	if loopbackOnly {
		listenAddr = loopback(listenAddr)
		discoveryAddr = loopback(discoveryAddr)
	}
	tcp, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("bind tcp %s: %w", listenAddr, err)
	}
	udp, err := net.ListenPacket("udp", discoveryAddr)
	if err != nil {
		_ = tcp.Close()
		return nil, fmt.Errorf("bind udp %s: %w", discoveryAddr, err)
	}
	l := &Listener{
		tcp:       tcp,
		udp:       udp,
		logger:    logger,
		evaluator: evaluator,
		onConn:    onConn,
		closed:    make(chan struct{}),
	}
	go l.acceptLoop()
	go l.discoveryLoop()
	return l, nil
}

// loopback rewrites an addr like ":12346" to bind localhost only
func loopback(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" || host == "0.0.0.0" || host == "::" {
		if err != nil {
			return addr
		}
		return net.JoinHostPort("127.0.0.1", port)
	}
	return addr
}

// Addr returns the bound TCP address
func (l *Listener) Addr() net.Addr { return l.tcp.Addr() }

// DiscoveryAddr returns the bound UDP address
func (l *Listener) DiscoveryAddr() net.Addr { return l.udp.LocalAddr() }

// Close shuts both sockets down
func (l *Listener) Close() {
	select {
	case <-l.closed:
		return
	default:
	}
	close(l.closed)
	_ = l.tcp.Close()
	_ = l.udp.Close()
}

// acceptLoop hands each accepted connection off and immediately re-arms, so
// the listener never blocks on a single connection
func (l *Listener) acceptLoop() {
	for {
		conn, err := l.tcp.Accept()
		if err != nil {
			select {
			case <-l.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("accept failed", slog.String("error", err.Error()))
			continue
		}
		l.onConn(conn)
	}
}

// discoveryLoop answers LAN probes and debug-expression queries
func (l *Listener) discoveryLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := l.udp.ReadFrom(buf)
		if err != nil {
			select {
			case <-l.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("discovery read failed", slog.String("error", err.Error()))
			continue
		}
		payload := strings.TrimSpace(string(buf[:n]))
		reply := l.answer(payload)
		if _, err := l.udp.WriteTo([]byte(reply), addr); err != nil {
			l.logger.Debug("discovery reply failed", slog.String("error", err.Error()))
		}
	}
}

func (l *Listener) answer(payload string) string {
	if payload == DiscoveryProbe {
		return DiscoveryAnswer
	}
	if l.evaluator == nil {
		return "ERROR: no evaluator"
	}
	value, err := l.evaluator.Evaluate(payload)
	if err != nil {
		return "ERROR: " + err.Error()
	}
	return value
}
