package client

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-winops/remote"
	"github.com/smnsjas/go-winops/store"
)

// mockProber answers from a fixed host → open ports table.
type mockProber struct {
	mu    sync.Mutex
	ports map[string][]int
	calls []string
}

func (p *mockProber) Probe(ctx context.Context, hostname string) bool {
	return len(p.ProbePorts(ctx, hostname)) > 0
}

func (p *mockProber) ProbePorts(_ context.Context, hostname string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, hostname)
	return p.ports[hostname]
}

func (p *mockProber) set(host string, ports ...int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ports[host] = ports
}

// mockRunner accepts the password "good" and answers echo requests.
// Other scripts are passed to handle, when set.
type mockRunner struct {
	mu     sync.Mutex
	calls  []remote.Target
	handle func(remote.Target, remote.Request) (*remote.Result, error)
}

func (r *mockRunner) Run(_ context.Context, target remote.Target, req remote.Request) (*remote.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, target)
	handle := r.handle
	r.mu.Unlock()

	if target.Password != "good" {
		return &remote.Result{ExitCode: 1, Stderr: "Access is denied."}, nil
	}
	if strings.Contains(req.Script, remote.EchoMarker) {
		return &remote.Result{Stdout: remote.EchoMarker + "\n"}, nil
	}
	if handle != nil {
		return handle(target, req)
	}
	return &remote.Result{Stdout: target.Hostname + "\n"}, nil
}

func (r *mockRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type harness struct {
	m      *Manager
	prober *mockProber
	runner *mockRunner
	path   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "connections.json")
	h := &harness{
		prober: &mockProber{ports: map[string][]int{}},
		runner: &mockRunner{},
		path:   path,
	}
	m, err := NewManager(DefaultConfig(),
		WithStore(store.New(path, nil)),
		WithProber(h.prober),
		WithRunner(h.runner),
	)
	require.NoError(t, err)
	h.m = m
	return h
}

// add stores a reachable, valid connection named after host.
func (h *harness) add(t *testing.T, name string) {
	t.Helper()
	h.prober.set(name, remote.PortHTTP)
	require.NoError(t, h.m.AddConnection(context.Background(), store.Record{
		Name: name, Hostname: name, Username: "admin", Password: "good",
	}))
}
