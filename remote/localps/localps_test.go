package localps

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-winops/remote"
)

var target = remote.Target{Hostname: "win01", Username: `WIN01\admin`, Password: "p@ss'word"}

// fakeExec records invocations and returns canned output.
type fakeExec struct {
	calls  []call
	stdout string
	stderr string
	code   int
	err    error
}

type call struct {
	name string
	args []string
	env  []string
}

func (f *fakeExec) run(_ context.Context, name string, args, env []string) ([]byte, []byte, int, error) {
	f.calls = append(f.calls, call{name: name, args: args, env: env})
	return []byte(f.stdout), []byte(f.stderr), f.code, f.err
}

func (c call) script(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, c.args)
	s, err := remote.DecodeCommand(c.args[len(c.args)-1])
	require.NoError(t, err)
	return s
}

func TestRunner_WrapsRequest(t *testing.T) {
	fx := &fakeExec{stdout: "hello\r\n##winops-exit:0\r\n"}
	r := New(WithExec(fx.run))

	res, err := r.Run(context.Background(), target, remote.CommandRequest("Write-Output hello"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)

	require.Len(t, fx.calls, 1)
	c := fx.calls[0]
	assert.Equal(t, remote.PowerShellExe, c.name)
	assert.Equal(t, []string{PasswordEnv + "=p@ss'word"}, c.env)
	for _, a := range c.args {
		assert.NotContains(t, a, "p@ss'word")
	}

	script := c.script(t)
	assert.Contains(t, script, "Invoke-Command -ComputerName $target")
	assert.Contains(t, script, "TrustedHosts")
	assert.NotContains(t, script, "p@ss'word")
	assert.NotContains(t, script, "Write-Output hello", "inner script travels encoded")
}

func TestRunner_NoTrustedHosts(t *testing.T) {
	fx := &fakeExec{stdout: "##winops-exit:0\n"}
	r := New(WithExec(fx.run), WithTrustedHosts(false))

	_, err := r.Run(context.Background(), target, remote.CommandRequest("hostname"))
	require.NoError(t, err)
	assert.NotContains(t, fx.calls[0].script(t), "TrustedHosts")
}

func TestRunner_RemoteExitCode(t *testing.T) {
	fx := &fakeExec{stdout: "line1\n##winops-exit:5\n", stderr: "warning\r\n"}
	r := New(WithExec(fx.run))

	res, err := r.Run(context.Background(), target, remote.CommandRequest("exit 5"))
	require.NoError(t, err)
	assert.Equal(t, 5, res.ExitCode)
	assert.Equal(t, "line1\n", res.Stdout)
	assert.Equal(t, "warning\n", res.Stderr)
}

func TestRunner_RemoteNeverRan(t *testing.T) {
	fx := &fakeExec{code: 1, stderr: "Connecting to remote server win01 failed: Access is denied.\r\n"}
	r := New(WithExec(fx.run))

	_, err := r.Run(context.Background(), target, remote.CommandRequest("hostname"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Access is denied")

	res := remote.NewChannel(r).Run(context.Background(), target, remote.CommandRequest("hostname"))
	assert.ErrorIs(t, res.Err, remote.ErrAuthentication)
}

func TestRunner_ExecFailure(t *testing.T) {
	fx := &fakeExec{err: errors.New("executable file not found")}
	r := New(WithExec(fx.run))

	_, err := r.Run(context.Background(), target, remote.CommandRequest("hostname"))
	assert.Error(t, err)
}

func TestRunner_OversizedRequest(t *testing.T) {
	fx := &fakeExec{}
	r := New(WithExec(fx.run))

	_, err := r.Run(context.Background(), target, remote.ScriptRequest(strings.Repeat("x", 20000)))
	assert.ErrorIs(t, err, remote.ErrPayloadTooLarge)
	assert.Empty(t, fx.calls)
}

func TestExtractExitCode(t *testing.T) {
	code, out, ok := extractExitCode("a\n##winops-exit:1\nb\n##winops-exit:-2\n")
	assert.True(t, ok)
	assert.Equal(t, -2, code)
	assert.Equal(t, "a\n##winops-exit:1\nb\n", out)

	_, _, ok = extractExitCode("no marker here")
	assert.False(t, ok)
}

func TestCmdkeyScope(t *testing.T) {
	fx := &fakeExec{}
	scope := NewCmdkeyScope(fx.run, nil)

	release, err := scope.Acquire(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, fx.calls, 1)
	assert.Equal(t, "cmdkey", fx.calls[0].name)
	assert.Equal(t, []string{"/add:win01", `/user:WIN01\admin`, "/pass:p@ss'word"}, fx.calls[0].args)

	release()
	require.Len(t, fx.calls, 2)
	assert.Equal(t, []string{"/delete:win01"}, fx.calls[1].args)
}

func TestCmdkeyScope_AddFails(t *testing.T) {
	fx := &fakeExec{code: 1, stderr: "CMDKEY: invalid"}
	scope := NewCmdkeyScope(fx.run, nil)

	_, err := scope.Acquire(context.Background(), target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CMDKEY: invalid")
}

func TestCmdkeyScope_WithChannel(t *testing.T) {
	cmdkey := &fakeExec{}
	ps := &fakeExec{stdout: remote.EchoMarker + "\n##winops-exit:0\n"}
	ch := remote.NewChannel(New(WithExec(ps.run)), remote.WithScope(NewCmdkeyScope(cmdkey.run, nil)))

	ok, _ := ch.Echo(context.Background(), target)
	assert.True(t, ok)
	require.Len(t, cmdkey.calls, 2, "credential added then deleted")
	assert.True(t, strings.HasPrefix(cmdkey.calls[1].args[0], "/delete:"))
}
