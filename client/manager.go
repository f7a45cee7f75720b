package client

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/smnsjas/go-winops/remote"
	"github.com/smnsjas/go-winops/remote/localps"
	"github.com/smnsjas/go-winops/store"
)

// Prober checks remote management ports.
type Prober interface {
	Probe(ctx context.Context, hostname string) bool
	ProbePorts(ctx context.Context, hostname string) []int
}

// Connection is a stored record with its runtime state.
type Connection struct {
	store.Record
	Connected bool
}

// Manager owns the set of named connections, tracks which are connected
// and which one is active, and runs operations against them.
//
// Network round trips happen outside the Manager's lock, so a Manager may
// be used from several goroutines.
type Manager struct {
	cfg     Config
	store   *store.Store
	prober  Prober
	channel *remote.Channel
	logger  *slog.Logger
	audit   *Auditor

	// Overrides applied by options before defaults are built.
	runner remote.Runner
	scope  remote.CredentialScope

	mu        sync.RWMutex
	connected map[string]remote.Target
	active    string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithStore uses s instead of the store at Config.StorePath.
func WithStore(s *store.Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithProber replaces the reachability prober.
func WithProber(p Prober) Option {
	return func(m *Manager) { m.prober = p }
}

// WithRunner replaces the backend selected by Config.Runner.
func WithRunner(r remote.Runner) Option {
	return func(m *Manager) { m.runner = r }
}

// WithCredentialScope replaces the credential scope of the backend.
func WithCredentialScope(s remote.CredentialScope) Option {
	return func(m *Manager) { m.scope = s }
}

// WithAudit writes audit events to logger.
func WithAudit(logger *slog.Logger) Option {
	return func(m *Manager) { m.audit = NewAuditor(logger) }
}

// NewManager creates a Manager and loads its connection store.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &Manager{
		cfg:       cfg,
		logger:    slog.Default(),
		connected: make(map[string]remote.Target),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.store == nil {
		path := cfg.StorePath
		if path == "" {
			var err error
			if path, err = store.DefaultPath(); err != nil {
				return nil, err
			}
		}
		var sopts []store.Option
		if cfg.StoreIdentity != "" {
			id, err := store.LoadOrCreateIdentity(cfg.StoreIdentity)
			if err != nil {
				return nil, err
			}
			sopts = append(sopts, store.WithSealer(store.NewAgeSealer(id)))
		}
		m.store = store.New(path, m.logger, sopts...)
	}
	if err := m.store.Load(); err != nil {
		return nil, err
	}

	if m.prober == nil {
		m.prober = remote.NewProber(
			remote.WithProbeTimeout(cfg.ProbeTimeout),
			remote.WithProbeLogger(m.logger),
		)
	}

	runner, scope := m.runner, m.scope
	if runner == nil {
		runner, scope = m.backend(scope)
	}
	m.channel = remote.NewChannel(runner,
		remote.WithTimeout(cfg.Timeout),
		remote.WithScope(scope),
		remote.WithLogger(m.logger),
	)

	return m, nil
}

// backend builds the runner selected by the configuration.
func (m *Manager) backend(scope remote.CredentialScope) (remote.Runner, remote.CredentialScope) {
	if m.cfg.Runner == RunnerLocalPS {
		if scope == nil {
			scope = localps.NewCmdkeyScope(nil, m.logger)
		}
		return localps.New(
			localps.WithTrustedHosts(m.cfg.InsecureSkipVerify),
			localps.WithLogger(m.logger),
		), scope
	}
	return remote.NewWinRSRunner(remote.WinRSConfig{
		Auth:               m.cfg.Auth,
		InsecureSkipVerify: m.cfg.InsecureSkipVerify,
		Krb5ConfPath:       m.cfg.Krb5ConfPath,
		Realm:              m.cfg.Realm,
		Proxy:              m.cfg.Proxy,
	}, m.logger), scope
}

// Store returns the connection store.
func (m *Manager) Store() *store.Store {
	return m.store
}

// TestAvailability reports whether hostname has a WinRM listener.
func (m *Manager) TestAvailability(ctx context.Context, hostname string) bool {
	return m.prober.Probe(ctx, hostname)
}

// resolve probes rec's host and returns the target to use for it.
func (m *Manager) resolve(ctx context.Context, rec store.Record) (remote.Target, error) {
	target := remote.Target{
		Hostname: rec.Hostname,
		Username: rec.Username,
		Password: rec.Password,
	}

	ports := m.prober.ProbePorts(ctx, rec.Hostname)
	switch {
	case len(ports) == 0:
		return target, fmt.Errorf("%w: %s: no WinRM listener on %d or %d",
			remote.ErrUnreachable, rec.Hostname, remote.PortHTTP, remote.PortHTTPS)
	case m.cfg.UseTLS:
		if !slices.Contains(ports, remote.PortHTTPS) {
			return target, fmt.Errorf("%w: %s: HTTPS listener on %d not answering",
				remote.ErrUnreachable, rec.Hostname, remote.PortHTTPS)
		}
		target.UseTLS = true
	case !slices.Contains(ports, remote.PortHTTP):
		target.UseTLS = true
	}
	return target, nil
}

// authenticate resolves rec and runs the echo round trip against it.
func (m *Manager) authenticate(ctx context.Context, rec store.Record) (remote.Target, error) {
	target, err := m.resolve(ctx, rec)
	if err != nil {
		m.audit.record(categoryConnection, "resolve", &rec, err)
		return target, err
	}

	ok, res := m.channel.Echo(ctx, target)
	if !ok {
		err = res.Err
	}
	m.audit.record(categoryAuthentication, "login", &rec, err,
		"tls", target.UseTLS, "port", target.EffectivePort())
	return target, err
}

// AddConnection tests rec and, if the host answers and accepts the
// credentials, stores and saves it. The new connection is not connected.
func (m *Manager) AddConnection(ctx context.Context, rec store.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if m.store.Has(rec.Name) {
		m.logger.Warn("connection name already exists", "name", rec.Name)
		return fmt.Errorf("%w: %q", store.ErrDuplicateName, rec.Name)
	}

	m.logger.Info("testing new connection", "record", rec)
	if _, err := m.authenticate(ctx, rec); err != nil {
		m.logger.Error("connection test failed", "record", rec, "error", err)
		return fmt.Errorf("add %q: %w", rec.Name, err)
	}

	if err := m.store.Put(rec); err != nil {
		return err
	}
	m.audit.record(categoryConnection, "add", &rec, nil)
	m.logger.Info("connection added", "record", rec)
	return m.store.Save()
}

// Connect tests the named connection and makes it active. A connection
// that is already connected becomes active without a new test. On failure
// the record is marked disconnected and the active connection is left as
// it was.
func (m *Manager) Connect(ctx context.Context, name string) error {
	rec, ok := m.store.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", store.ErrNotFound, name)
	}

	m.mu.Lock()
	if _, ok := m.connected[name]; ok {
		m.active = name
		m.mu.Unlock()
		m.logger.Info("already connected", "name", name)
		return nil
	}
	m.mu.Unlock()

	m.logger.Info("connecting", "record", rec)
	target, err := m.authenticate(ctx, rec)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		delete(m.connected, name)
		m.logger.Error("connect failed", "name", name, "error", err)
		return fmt.Errorf("connect %q: %w", name, err)
	}
	if !m.store.Has(name) {
		return fmt.Errorf("%w: %q removed while connecting", store.ErrNotFound, name)
	}
	m.connected[name] = target
	m.active = name

	m.audit.record(categoryConnection, "connect", &rec, nil)
	m.logger.Info("connected", "name", name, "tls", target.UseTLS)
	return nil
}

// Disconnect clears the active connection. Nothing is sent to the host.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked()
}

func (m *Manager) disconnectLocked() {
	if m.active == "" {
		return
	}
	name := m.active
	delete(m.connected, name)
	m.active = ""

	rec, _ := m.store.Get(name)
	m.audit.record(categoryConnection, "disconnect", &rec, nil)
	m.logger.Info("disconnected", "name", name)
}

// RemoveConnection deletes the named connection, disconnecting it first
// if it is active, and saves the store.
func (m *Manager) RemoveConnection(name string) error {
	m.mu.Lock()
	rec, ok := m.store.Get(name)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", store.ErrNotFound, name)
	}
	if m.active == name {
		m.disconnectLocked()
	}
	delete(m.connected, name)
	err := m.store.Delete(name)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.audit.record(categoryConnection, "remove", &rec, nil)
	m.logger.Info("connection removed", "name", name)
	return m.store.Save()
}

// RefreshConnections re-tests every stored connection and updates its
// connected state. The active connection is cleared if its test fails.
func (m *Manager) RefreshConnections(ctx context.Context) {
	for _, rec := range m.store.List() {
		target, err := m.authenticate(ctx, rec)

		m.mu.Lock()
		if err != nil {
			if _, was := m.connected[rec.Name]; was {
				m.audit.record(categoryConnection, "lost", &rec, err)
				m.logger.Warn("lost connection", "name", rec.Name, "error", err)
			}
			delete(m.connected, rec.Name)
			if m.active == rec.Name {
				m.active = ""
			}
		} else if m.store.Has(rec.Name) {
			m.connected[rec.Name] = target
		}
		m.mu.Unlock()
	}
}

// IsConnected reports whether there is an active connection.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active != ""
}

// Active returns the active connection.
func (m *Manager) Active() (Connection, bool) {
	m.mu.RLock()
	name := m.active
	m.mu.RUnlock()
	if name == "" {
		return Connection{}, false
	}
	return m.Connection(name)
}

// Connection returns the named connection.
func (m *Manager) Connection(name string) (Connection, bool) {
	rec, ok := m.store.Get(name)
	if !ok {
		return Connection{}, false
	}
	m.mu.RLock()
	_, connected := m.connected[name]
	m.mu.RUnlock()
	return Connection{Record: rec, Connected: connected}, true
}

// Connections returns every stored connection sorted by name.
func (m *Manager) Connections() []Connection {
	records := m.store.List()
	out := make([]Connection, len(records))

	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, rec := range records {
		_, connected := m.connected[rec.Name]
		out[i] = Connection{Record: rec, Connected: connected}
	}
	return out
}

// Session returns a session for the active connection.
func (m *Manager) Session() (*Session, error) {
	m.mu.RLock()
	name := m.active
	m.mu.RUnlock()
	if name == "" {
		return nil, remote.NotConnected().Err
	}
	return m.SessionFor(name)
}

// SessionFor returns a session for the named connected connection.
func (m *Manager) SessionFor(name string) (*Session, error) {
	rec, ok := m.store.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, name)
	}
	m.mu.RLock()
	target, connected := m.connected[name]
	m.mu.RUnlock()
	if !connected {
		return nil, fmt.Errorf("%w: %q", remote.ErrNotConnected, name)
	}
	return &Session{record: rec, target: target, channel: m.channel, audit: m.audit}, nil
}

// connectedNames returns the names of connected records, sorted.
func (m *Manager) connectedNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.connected))
	for name := range m.connected {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Execute runs a PowerShell command on the active connection.
func (m *Manager) Execute(ctx context.Context, command string) *remote.Result {
	s, err := m.Session()
	if err != nil {
		return remote.NotConnected()
	}
	return s.Execute(ctx, command)
}

// ExecuteScript runs a PowerShell script on the active connection.
func (m *Manager) ExecuteScript(ctx context.Context, script string) *remote.Result {
	s, err := m.Session()
	if err != nil {
		return remote.NotConnected()
	}
	return s.ExecuteScript(ctx, script)
}

// CopyFileToRemote uploads a local file through the active connection.
func (m *Manager) CopyFileToRemote(ctx context.Context, localPath, remotePath string) error {
	s, err := m.Session()
	if err != nil {
		return err
	}
	return s.CopyToRemote(ctx, localPath, remotePath)
}

// CopyFileFromRemote downloads a remote file through the active connection.
func (m *Manager) CopyFileFromRemote(ctx context.Context, remotePath, localPath string) error {
	s, err := m.Session()
	if err != nil {
		return err
	}
	return s.CopyFromRemote(ctx, remotePath, localPath)
}
