package remote

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// WinRM listener ports.
const (
	PortHTTP  = 5985
	PortHTTPS = 5986
)

// DefaultProbeTimeout bounds each TCP connect attempt.
const DefaultProbeTimeout = 3 * time.Second

// DialFunc opens a network connection. (*net.Dialer).DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Prober checks whether a host has a WinRM listener.
type Prober struct {
	ports   []int
	timeout time.Duration
	dial    DialFunc
	logger  *slog.Logger
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithProbePorts overrides the ports tried, in order.
func WithProbePorts(ports ...int) ProberOption {
	return func(p *Prober) { p.ports = ports }
}

// WithProbeTimeout sets the per-port connect timeout.
func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithDialer replaces the dial function, mainly for tests.
func WithDialer(dial DialFunc) ProberOption {
	return func(p *Prober) { p.dial = dial }
}

// WithProbeLogger sets the logger.
func WithProbeLogger(logger *slog.Logger) ProberOption {
	return func(p *Prober) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProber creates a Prober trying 5985 then 5986 with a 3s timeout.
func NewProber(opts ...ProberOption) *Prober {
	p := &Prober{
		ports:   []int{PortHTTP, PortHTTPS},
		timeout: DefaultProbeTimeout,
		dial:    (&net.Dialer{}).DialContext,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe reports whether any management port accepts a connection. It
// stops at the first port that answers.
func (p *Prober) Probe(ctx context.Context, hostname string) bool {
	for _, port := range p.ports {
		if p.tryPort(ctx, hostname, port) {
			return true
		}
	}
	p.logger.Warn("no WinRM listener answered", "host", hostname, "ports", p.ports)
	return false
}

// ProbePorts tries every management port and returns those that answered,
// in probe order.
func (p *Prober) ProbePorts(ctx context.Context, hostname string) []int {
	var open []int
	for _, port := range p.ports {
		if p.tryPort(ctx, hostname, port) {
			open = append(open, port)
		}
	}
	if len(open) == 0 {
		p.logger.Warn("no WinRM listener answered", "host", hostname, "ports", p.ports)
	}
	return open
}

func (p *Prober) tryPort(ctx context.Context, hostname string, port int) bool {
	if hostname == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", net.JoinHostPort(hostname, strconv.Itoa(port)))
	if err != nil {
		p.logger.Debug("probe failed", "host", hostname, "port", port, "error", err)
		return false
	}
	_ = conn.Close()
	p.logger.Debug("probe succeeded", "host", hostname, "port", port)
	return true
}
