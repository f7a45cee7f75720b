package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-winops/remote"
	"github.com/smnsjas/go-winops/store"
	"github.com/smnsjas/go-winops/wsman/auth"
)

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Timeout = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Runner = "ssh"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Auth = "digest"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Auth = auth.SchemeKerberos
	assert.Error(t, bad.Validate(), "kerberos without TLS")
	bad.UseTLS = true
	assert.NoError(t, bad.Validate())
}

func TestManager_AddDuplicateLeavesStoreUnchanged(t *testing.T) {
	h := newHarness(t)
	h.add(t, "lab1")

	before, err := os.ReadFile(h.path)
	require.NoError(t, err)
	calls := h.runner.callCount()

	err = h.m.AddConnection(context.Background(), store.Record{
		Name: "lab1", Hostname: "elsewhere", Username: "x", Password: "good",
	})
	assert.ErrorIs(t, err, store.ErrDuplicateName)

	after, err := os.ReadFile(h.path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, calls, h.runner.callCount(), "duplicate rejected before any remote call")
}

func TestManager_AddUnreachableStoresNothing(t *testing.T) {
	h := newHarness(t)

	err := h.m.AddConnection(context.Background(), store.Record{
		Name: "lab1", Hostname: "10.0.0.5", Username: "admin", Password: "pw",
	})
	assert.ErrorIs(t, err, remote.ErrUnreachable)
	assert.Empty(t, h.m.Connections())
	assert.Equal(t, 0, h.runner.callCount())

	_, statErr := os.Stat(h.path)
	assert.True(t, os.IsNotExist(statErr), "no store file written")
}

func TestManager_AddBadCredentials(t *testing.T) {
	h := newHarness(t)
	h.prober.set("lab1", remote.PortHTTP)

	err := h.m.AddConnection(context.Background(), store.Record{
		Name: "lab1", Hostname: "lab1", Username: "admin", Password: "bad",
	})
	assert.ErrorIs(t, err, remote.ErrAuthentication)
	assert.Empty(t, h.m.Connections())
}

func TestManager_AddPersistsButDoesNotConnect(t *testing.T) {
	h := newHarness(t)
	h.add(t, "lab1")

	conns := h.m.Connections()
	require.Len(t, conns, 1)
	assert.False(t, conns[0].Connected)
	assert.False(t, h.m.IsConnected())

	reloaded := store.New(h.path, nil)
	require.NoError(t, reloaded.Load())
	rec, ok := reloaded.Get("lab1")
	require.True(t, ok)
	assert.Equal(t, "good", rec.Password)
}

func TestManager_Connect(t *testing.T) {
	h := newHarness(t)
	h.add(t, "lab1")

	require.NoError(t, h.m.Connect(context.Background(), "lab1"))
	assert.True(t, h.m.IsConnected())

	active, ok := h.m.Active()
	require.True(t, ok)
	assert.Equal(t, "lab1", active.Name)
	assert.True(t, active.Connected)
}

func TestManager_ConnectUnknown(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.m.Connect(context.Background(), "nope"), store.ErrNotFound)
}

func TestManager_ConnectAlreadyConnectedSkipsTest(t *testing.T) {
	h := newHarness(t)
	h.add(t, "a")
	h.add(t, "b")
	require.NoError(t, h.m.Connect(context.Background(), "a"))
	require.NoError(t, h.m.Connect(context.Background(), "b"))

	calls := h.runner.callCount()
	require.NoError(t, h.m.Connect(context.Background(), "a"))
	assert.Equal(t, calls, h.runner.callCount())

	active, _ := h.m.Active()
	assert.Equal(t, "a", active.Name)
}

func TestManager_ConnectFailureKeepsPriorActive(t *testing.T) {
	h := newHarness(t)
	h.add(t, "a")
	h.add(t, "b")
	require.NoError(t, h.m.Connect(context.Background(), "a"))

	h.prober.set("b")
	err := h.m.Connect(context.Background(), "b")
	assert.ErrorIs(t, err, remote.ErrUnreachable)

	active, ok := h.m.Active()
	require.True(t, ok)
	assert.Equal(t, "a", active.Name)
	b, _ := h.m.Connection("b")
	assert.False(t, b.Connected)
}

func TestManager_ConnectPrefersHTTPThenHTTPS(t *testing.T) {
	h := newHarness(t)
	h.add(t, "a")
	h.prober.set("a", remote.PortHTTPS)

	require.NoError(t, h.m.Connect(context.Background(), "a"))
	s, err := h.m.Session()
	require.NoError(t, err)
	assert.True(t, s.Target().UseTLS)
	assert.Equal(t, remote.PortHTTPS, s.Target().EffectivePort())
}

func TestManager_Disconnect(t *testing.T) {
	h := newHarness(t)
	h.add(t, "a")
	require.NoError(t, h.m.Connect(context.Background(), "a"))

	h.m.Disconnect()
	assert.False(t, h.m.IsConnected())
	a, _ := h.m.Connection("a")
	assert.False(t, a.Connected)

	h.m.Disconnect()
}

func TestManager_RemoveActiveDisconnects(t *testing.T) {
	h := newHarness(t)
	h.add(t, "lab1")
	require.NoError(t, h.m.Connect(context.Background(), "lab1"))

	require.NoError(t, h.m.RemoveConnection("lab1"))
	assert.False(t, h.m.IsConnected())
	_, ok := h.m.Connection("lab1")
	assert.False(t, ok)

	reloaded := store.New(h.path, nil)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 0, reloaded.Len())
}

func TestManager_RemoveUnknown(t *testing.T) {
	h := newHarness(t)
	h.add(t, "a")
	before, _ := os.ReadFile(h.path)

	assert.ErrorIs(t, h.m.RemoveConnection("b"), store.ErrNotFound)
	after, _ := os.ReadFile(h.path)
	assert.Equal(t, before, after)
}

func TestManager_ExecuteRequiresActive(t *testing.T) {
	h := newHarness(t)

	res := h.m.Execute(context.Background(), "echo hi")
	assert.Equal(t, 1, res.ExitCode)
	assert.NotEmpty(t, res.Stderr)
	assert.ErrorIs(t, res.Err, remote.ErrNotConnected)

	res = h.m.ExecuteScript(context.Background(), "Get-Date")
	assert.ErrorIs(t, res.Err, remote.ErrNotConnected)

	assert.ErrorIs(t, h.m.CopyFileToRemote(context.Background(), "a", "b"), remote.ErrNotConnected)
	assert.ErrorIs(t, h.m.CopyFileFromRemote(context.Background(), "a", "b"), remote.ErrNotConnected)
}

func TestManager_Execute(t *testing.T) {
	h := newHarness(t)
	h.runner.handle = func(_ remote.Target, req remote.Request) (*remote.Result, error) {
		if req.Script == "echo hi" {
			return &remote.Result{Stdout: "hi\n"}, nil
		}
		return &remote.Result{ExitCode: 1, Stderr: "unexpected"}, nil
	}
	h.add(t, "lab1")
	require.NoError(t, h.m.Connect(context.Background(), "lab1"))

	res := h.m.Execute(context.Background(), "echo hi")
	assert.Equal(t, &remote.Result{ExitCode: 0, Stdout: "hi\n"}, res)
}

func TestManager_ExecuteFailureIsAResult(t *testing.T) {
	h := newHarness(t)
	h.runner.handle = func(remote.Target, remote.Request) (*remote.Result, error) {
		return nil, errors.New("connection reset by peer")
	}
	h.add(t, "lab1")
	require.NoError(t, h.m.Connect(context.Background(), "lab1"))

	var res *remote.Result
	require.NotPanics(t, func() { res = h.m.Execute(context.Background(), "echo hi") })
	assert.NotEqual(t, 0, res.ExitCode)
	assert.NotEmpty(t, res.Stderr)
	assert.ErrorIs(t, res.Err, remote.ErrUnreachable)
}

func TestManager_ExecuteScriptUsesPayload(t *testing.T) {
	h := newHarness(t)
	var got remote.Request
	h.runner.handle = func(_ remote.Target, req remote.Request) (*remote.Result, error) {
		got = req
		return &remote.Result{}, nil
	}
	h.add(t, "lab1")
	require.NoError(t, h.m.Connect(context.Background(), "lab1"))

	script := "$x = \"it's\"\nWrite-Output $x"
	h.m.ExecuteScript(context.Background(), script)
	assert.Equal(t, []byte(script), got.Payload)
}

func TestManager_CopyRoundTrip(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	files := map[string][]byte{}
	h.runner.handle = func(_ remote.Target, req remote.Request) (*remote.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		path := req.Params["path"]
		if req.Payload != nil {
			files[path] = req.Payload
			return &remote.Result{Stdout: "True\n"}, nil
		}
		content, ok := files[path]
		if !ok {
			return &remote.Result{ExitCode: 1, Stderr: "File not found"}, nil
		}
		return &remote.Result{Stdout: base64.StdEncoding.EncodeToString(content)}, nil
	}
	h.add(t, "lab1")
	require.NoError(t, h.m.Connect(context.Background(), "lab1"))

	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "out", "b.txt")
	content := []byte("line one\r\nline two\x00\xff")
	require.NoError(t, os.WriteFile(a, content, 0o600))

	require.NoError(t, h.m.CopyFileToRemote(context.Background(), a, `C:\Temp\a.txt`))
	require.NoError(t, h.m.CopyFileFromRemote(context.Background(), `C:\Temp\a.txt`, b))

	got, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	err = h.m.CopyFileFromRemote(context.Background(), `C:\Temp\missing.txt`, filepath.Join(dir, "m"))
	assert.ErrorIs(t, err, remote.ErrTransfer)
}

func TestManager_RefreshConnections(t *testing.T) {
	h := newHarness(t)
	h.add(t, "a")
	h.add(t, "b")
	require.NoError(t, h.m.Connect(context.Background(), "a"))

	h.prober.set("a")
	h.m.RefreshConnections(context.Background())

	assert.False(t, h.m.IsConnected(), "active cleared when it lost connectivity")
	a, _ := h.m.Connection("a")
	b, _ := h.m.Connection("b")
	assert.False(t, a.Connected)
	assert.True(t, b.Connected, "refresh re-tests every stored connection")
}

func TestManager_TestAvailability(t *testing.T) {
	h := newHarness(t)
	h.prober.set("up", remote.PortHTTPS)
	assert.True(t, h.m.TestAvailability(context.Background(), "up"))
	assert.False(t, h.m.TestAvailability(context.Background(), "down"))
}

func TestManager_LoadsExistingStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"x": {"name": "x", "hostname": "h", "username": "u", "password": "p"}}`), 0o600))

	m, err := NewManager(DefaultConfig(), WithStore(store.New(path, nil)),
		WithProber(&mockProber{}), WithRunner(&mockRunner{}))
	require.NoError(t, err)

	conns := m.Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, "x", conns[0].Name)
	assert.False(t, conns[0].Connected, "connected state is never persisted")
}

func TestManager_AuditEvents(t *testing.T) {
	var buf bytes.Buffer
	audit := slog.New(slog.NewJSONHandler(&buf, nil))

	path := filepath.Join(t.TempDir(), "connections.json")
	prober := &mockProber{ports: map[string][]int{"lab1": {remote.PortHTTP}}}
	m, err := NewManager(DefaultConfig(), WithStore(store.New(path, nil)),
		WithProber(prober), WithRunner(&mockRunner{}), WithAudit(audit))
	require.NoError(t, err)

	require.NoError(t, m.AddConnection(context.Background(), store.Record{
		Name: "lab1", Hostname: "lab1", Username: "admin", Password: "good",
	}))
	require.NoError(t, m.Connect(context.Background(), "lab1"))
	m.Execute(context.Background(), "hostname")

	out := buf.String()
	assert.Contains(t, out, `"source":"go-winops"`)
	assert.Contains(t, out, `"category":"authentication"`)
	assert.Contains(t, out, `"category":"command"`)
	assert.NotContains(t, out, "good")
	assert.Equal(t, strings.Count(out, `"msg":"audit"`), strings.Count(out, m.audit.CorrelationID()))
}

func TestManager_StoreIdentitySealsPasswords(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.StorePath = filepath.Join(dir, "connections.json")
	cfg.StoreIdentity = filepath.Join(dir, "identity.txt")
	prober := &mockProber{ports: map[string][]int{"lab1": {remote.PortHTTP}}}

	m, err := NewManager(cfg, WithProber(prober), WithRunner(&mockRunner{}))
	require.NoError(t, err)
	require.NoError(t, m.AddConnection(context.Background(), store.Record{
		Name: "lab1", Hostname: "lab1", Username: "admin", Password: "good",
	}))

	raw, err := os.ReadFile(cfg.StorePath)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"good"`)
	assert.Contains(t, string(raw), store.SealedPrefix)

	// A second Manager with the same identity can still connect.
	again, err := NewManager(cfg, WithProber(prober), WithRunner(&mockRunner{}))
	require.NoError(t, err)
	require.NoError(t, again.Connect(context.Background(), "lab1"))
}
