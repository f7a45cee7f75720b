package wsman

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-winops/internal/winrmtest"
	"github.com/smnsjas/go-winops/wsman/transport"
)

const soapOpen = `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"
 xmlns:a="http://schemas.xmlsoap.org/ws/2004/08/addressing"
 xmlns:w="http://schemas.dmtf.org/wbem/wsman/1/wsman.xsd"
 xmlns:x="http://schemas.xmlsoap.org/ws/2004/09/transfer"
 xmlns:rsp="http://schemas.microsoft.com/wbem/wsman/1/windows/shell"><s:Body>`

const soapClose = `</s:Body></s:Envelope>`

// replay answers every request with status and body and keeps the last
// request it saw.
func replay(t *testing.T, status int, body string) (*Client, *string) {
	t.Helper()
	var last string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in, _ := io.ReadAll(r.Body)
		last = string(in)
		w.Header().Set("Content-Type", transport.ContentTypeSOAP)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, soapOpen+body+soapClose)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/wsman", transport.NewHTTPTransport()), &last
}

func shellEPR() *EndpointReference {
	return &EndpointReference{
		ResourceURI: ResourceURIWinRS,
		Selectors:   []Selector{{Name: "ShellId", Value: "S-42"}},
	}
}

func TestClient_Create(t *testing.T) {
	c, sent := replay(t, http.StatusOK, `<x:ResourceCreated>
  <a:Address>http://dc01:5985/wsman</a:Address>
  <a:ReferenceParameters>
    <w:ResourceURI>`+ResourceURIWinRS+`</w:ResourceURI>
    <w:SelectorSet><w:Selector Name="ShellId">S-42</w:Selector></w:SelectorSet>
  </a:ReferenceParameters>
</x:ResourceCreated>`)

	epr, err := c.Create(context.Background(), ShellOptions{NoProfile: true, Codepage: 65001, IdleTimeout: "PT300S"})
	require.NoError(t, err)
	assert.Equal(t, "S-42", epr.ShellID())
	assert.Equal(t, "http://dc01:5985/wsman", epr.Address)
	assert.Equal(t, ResourceURIWinRS, epr.ResourceURI)

	for _, want := range []string{
		ActionCreate,
		`<w:Option Name="WINRS_NOPROFILE">TRUE</w:Option>`,
		`<w:Option Name="WINRS_CODEPAGE">65001</w:Option>`,
		`<rsp:IdleTimeOut>PT300S</rsp:IdleTimeOut>`,
		`<rsp:InputStreams>stdin</rsp:InputStreams>`,
		`<rsp:OutputStreams>stdout stderr</rsp:OutputStreams>`,
	} {
		assert.Contains(t, *sent, want)
	}
	assert.NotContains(t, *sent, "SelectorSet", "a new shell has no selectors")
}

func TestClient_CreateWithoutOptions(t *testing.T) {
	c, sent := replay(t, http.StatusOK, `<rsp:Shell><rsp:ShellId>S-1</rsp:ShellId></rsp:Shell>`)
	_, err := c.Create(context.Background(), ShellOptions{})
	require.NoError(t, err)
	assert.NotContains(t, *sent, "SelectorSet")
	assert.NotContains(t, *sent, "OptionSet")
}

func TestClient_CreateShellIDOnlyInBody(t *testing.T) {
	c, _ := replay(t, http.StatusOK, `<rsp:Shell><rsp:ShellId>BODY-SHELL</rsp:ShellId></rsp:Shell>`)
	epr, err := c.Create(context.Background(), ShellOptions{})
	require.NoError(t, err)
	assert.Equal(t, "BODY-SHELL", epr.ShellID())
	assert.Equal(t, ResourceURIWinRS, epr.ResourceURI)
}

func TestClient_CreateWithoutShellID(t *testing.T) {
	c, _ := replay(t, http.StatusOK, ``)
	_, err := c.Create(context.Background(), ShellOptions{})
	assert.ErrorContains(t, err, "no ShellId")
}

func TestClient_Command(t *testing.T) {
	c, sent := replay(t, http.StatusOK, `<rsp:CommandResponse><rsp:CommandId>C-1</rsp:CommandId></rsp:CommandResponse>`)

	id, err := c.Command(context.Background(), shellEPR(), "powershell.exe", "-NoProfile", "-Command", "echo '<a&b>'")
	require.NoError(t, err)
	assert.Equal(t, "C-1", id)

	for _, want := range []string{
		ActionCommand,
		`<w:Selector Name="ShellId">S-42</w:Selector>`,
		`<w:Option Name="WINRS_SKIP_CMD_SHELL">TRUE</w:Option>`,
		`<rsp:Command>powershell.exe</rsp:Command>`,
		`<rsp:Arguments>-NoProfile</rsp:Arguments>`,
		`echo &#39;&lt;a&amp;b&gt;&#39;`,
	} {
		assert.Contains(t, *sent, want)
	}
}

func TestClient_CommandWithoutID(t *testing.T) {
	c, _ := replay(t, http.StatusOK, `<rsp:CommandResponse/>`)
	_, err := c.Command(context.Background(), shellEPR(), "hostname.exe")
	assert.ErrorContains(t, err, "no CommandId")
}

func TestClient_Receive(t *testing.T) {
	tests := map[string]struct {
		body   string
		stdout string
		stderr string
		done   bool
		exit   int
	}{
		"done with exit code": {
			body: `<rsp:ReceiveResponse>
  <rsp:Stream Name="stdout" CommandId="C-1">aGVsbG8=</rsp:Stream>
  <rsp:Stream Name="stderr" CommandId="C-1">b29wcw==</rsp:Stream>
  <rsp:Stream Name="stdout" CommandId="C-1" End="true"></rsp:Stream>
  <rsp:CommandState CommandId="C-1" State="` + CommandStateDone + `"><rsp:ExitCode>3</rsp:ExitCode></rsp:CommandState>
</rsp:ReceiveResponse>`,
			stdout: "hello", stderr: "oops", done: true, exit: 3,
		},
		"still running": {
			body: `<rsp:ReceiveResponse>
  <rsp:Stream Name="stdout" CommandId="C-1">cGFydA==</rsp:Stream>
  <rsp:CommandState CommandId="C-1" State="` + NsShell + `/CommandState/Running"/>
</rsp:ReceiveResponse>`,
			stdout: "part",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c, sent := replay(t, http.StatusOK, tt.body)
			res, err := c.Receive(context.Background(), shellEPR(), "C-1")
			require.NoError(t, err)
			assert.Equal(t, tt.stdout, string(res.Stdout))
			assert.Equal(t, tt.stderr, string(res.Stderr))
			assert.Equal(t, tt.done, res.Done)
			assert.Equal(t, tt.exit, res.ExitCode)
			assert.Contains(t, *sent, `<rsp:DesiredStream CommandId="C-1">stdout stderr</rsp:DesiredStream>`)
			assert.Contains(t, *sent, `<w:OperationTimeout>`+receiveTimeout+`</w:OperationTimeout>`)
		})
	}
}

func TestClient_ReceiveBadStream(t *testing.T) {
	c, _ := replay(t, http.StatusOK, `<rsp:ReceiveResponse><rsp:Stream Name="stdout">!!!</rsp:Stream></rsp:ReceiveResponse>`)
	_, err := c.Receive(context.Background(), shellEPR(), "C-1")
	assert.ErrorContains(t, err, "decode stdout stream")
}

func TestClient_ReceiveOperationTimeoutIsEmpty(t *testing.T) {
	srv := winrmtest.NewServer(func(winrmtest.Command) winrmtest.Result {
		return winrmtest.Result{Hang: true}
	})
	defer srv.Close()

	c := NewClient(srv.URL, transport.NewHTTPTransport())
	ctx := context.Background()
	epr, err := c.Create(ctx, ShellOptions{})
	require.NoError(t, err)
	id, err := c.Command(ctx, epr, "cmd.exe", "/c", "pause")
	require.NoError(t, err)

	res, err := c.Receive(ctx, epr, id)
	require.NoError(t, err)
	assert.False(t, res.Done)
	assert.Empty(t, res.Stdout)
}

func TestClient_FaultSurfaced(t *testing.T) {
	c, _ := replay(t, http.StatusInternalServerError, `<s:Fault>
  <s:Code><s:Value>s:Sender</s:Value><s:Subcode><s:Value>w:AccessDenied</s:Value></s:Subcode></s:Code>
  <s:Reason><s:Text xml:lang="en-US">Access is denied.</s:Text></s:Reason>
</s:Fault>`)

	_, err := c.Create(context.Background(), ShellOptions{})
	require.True(t, IsFault(err), "err = %v", err)
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.ErrorContains(t, err, "Access is denied")
}

func TestClient_Lifecycle(t *testing.T) {
	srv := winrmtest.NewServer(func(cmd winrmtest.Command) winrmtest.Result {
		return winrmtest.Result{Stdout: "ran " + cmd.Executable}
	})
	defer srv.Close()

	c := NewClient(srv.URL, transport.NewHTTPTransport())
	defer c.CloseIdleConnections()
	ctx := context.Background()

	epr, err := c.Create(ctx, ShellOptions{})
	require.NoError(t, err)
	id, err := c.Command(ctx, epr, "hostname.exe")
	require.NoError(t, err)
	res, err := c.Receive(ctx, epr, id)
	require.NoError(t, err)
	assert.Equal(t, "ran hostname.exe", string(res.Stdout))
	require.NoError(t, c.Signal(ctx, epr, id, SignalTerminate))
	require.NoError(t, c.Delete(ctx, epr))

	assert.Equal(t, 0, srv.OpenShells())
	assert.Equal(t, []string{"Create", "Command", "Receive", "Signal", "Delete"}, srv.Actions())
	assert.Equal(t, []string{SignalTerminate}, srv.Signals())
}
