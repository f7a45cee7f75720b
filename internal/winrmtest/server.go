// Package winrmtest provides an in-process WinRM endpoint for tests.
//
// The server speaks enough of the WinRS shell protocol (Create, Command,
// Receive, Signal, Delete) for the client packages to run end to end.
// Each started command is handed to a HandlerFunc, with the PowerShell
// script already decoded when the command line uses -EncodedCommand.
package winrmtest

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"unicode/utf16"
)

// Command is a command started through the fake endpoint.
type Command struct {
	ShellID    string
	ID         string
	Executable string
	Arguments  []string

	// Script is the decoded -EncodedCommand argument, if any.
	Script string
}

// Result is what the handler wants the command to produce.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int

	// Hang keeps the command running; every Receive times out.
	Hang bool
}

// HandlerFunc runs a command and returns its output.
type HandlerFunc func(Command) Result

// Server is a fake WinRM endpoint.
type Server struct {
	*httptest.Server

	// Username and Password, when set, are required as Basic credentials.
	Username string
	Password string

	mu       sync.Mutex
	handler  HandlerFunc
	shells   map[string]bool
	commands map[string]Result
	actions  []string
	signals  []string
	scripts  []string
	nextID   int
}

// NewServer starts a plain HTTP fake endpoint.
func NewServer(h HandlerFunc) *Server {
	s := newServer(h)
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	return s
}

// NewTLSServer starts a fake endpoint with a self-signed certificate.
func NewTLSServer(h HandlerFunc) *Server {
	s := newServer(h)
	s.Server = httptest.NewTLSServer(http.HandlerFunc(s.serveHTTP))
	return s
}

func newServer(h HandlerFunc) *Server {
	if h == nil {
		h = func(Command) Result { return Result{} }
	}
	return &Server{
		handler:  h,
		shells:   make(map[string]bool),
		commands: make(map[string]Result),
	}
}

// SetHandler replaces the command handler.
func (s *Server) SetHandler(h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Host returns the host part of the listener address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Listener.Addr().String())
	return host
}

// Port returns the listener port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Actions returns the short names of every action received, in order.
func (s *Server) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.actions...)
}

// Signals returns the signal codes received.
func (s *Server) Signals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.signals...)
}

// Scripts returns the decoded scripts of every command started.
func (s *Server) Scripts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scripts...)
}

// OpenShells returns the number of shells created and not yet deleted.
func (s *Server) OpenShells() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shells)
}

type request struct {
	Header struct {
		Action    string `xml:"Action"`
		Selectors []struct {
			Name  string `xml:"Name,attr"`
			Value string `xml:",chardata"`
		} `xml:"SelectorSet>Selector"`
	} `xml:"Header"`
	Body struct {
		CommandLine struct {
			Command   string   `xml:"Command"`
			Arguments []string `xml:"Arguments"`
		} `xml:"CommandLine"`
		Receive struct {
			DesiredStream struct {
				CommandID string `xml:"CommandId,attr"`
			} `xml:"DesiredStream"`
		} `xml:"Receive"`
		Signal struct {
			CommandID string `xml:"CommandId,attr"`
			Code      string `xml:"Code"`
		} `xml:"Signal"`
	} `xml:"Body"`
}

func (r *request) shellID() string {
	for _, sel := range r.Header.Selectors {
		if sel.Name == "ShellId" {
			return sel.Value
		}
	}
	return ""
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if s.Username != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="WSMAN"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if bytes.Contains(raw, []byte("<w:SelectorSet></w:SelectorSet>")) ||
		bytes.Contains(raw, []byte("<w:OptionSet></w:OptionSet>")) {
		http.Error(w, "empty SelectorSet or OptionSet", http.StatusBadRequest)
		return
	}
	var req request
	if err := xml.Unmarshal(raw, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	action := req.Header.Action[strings.LastIndex(req.Header.Action, "/")+1:]

	s.mu.Lock()
	s.actions = append(s.actions, action)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/soap+xml;charset=UTF-8")
	switch action {
	case "Create":
		s.mu.Lock()
		s.nextID++
		id := fmt.Sprintf("SHELL-%04d", s.nextID)
		s.shells[id] = true
		s.mu.Unlock()
		writeEnvelope(w, `<x:ResourceCreated><a:Address>`+r.URL.String()+`</a:Address>`+
			`<a:ReferenceParameters><w:ResourceURI>http://schemas.microsoft.com/wbem/wsman/1/windows/shell/cmd</w:ResourceURI>`+
			`<w:SelectorSet><w:Selector Name="ShellId">`+id+`</w:Selector></w:SelectorSet>`+
			`</a:ReferenceParameters></x:ResourceCreated>`)
	case "Command":
		cmd := Command{
			ShellID:    req.shellID(),
			Executable: req.Body.CommandLine.Command,
			Arguments:  req.Body.CommandLine.Arguments,
		}
		cmd.Script = decodeScript(cmd.Arguments)

		s.mu.Lock()
		s.nextID++
		cmd.ID = fmt.Sprintf("CMD-%04d", s.nextID)
		handler := s.handler
		s.scripts = append(s.scripts, cmd.Script)
		s.mu.Unlock()

		result := handler(cmd)

		s.mu.Lock()
		s.commands[cmd.ID] = result
		s.mu.Unlock()
		writeEnvelope(w, `<rsp:CommandResponse><rsp:CommandId>`+cmd.ID+`</rsp:CommandId></rsp:CommandResponse>`)
	case "Receive":
		id := req.Body.Receive.DesiredStream.CommandID
		s.mu.Lock()
		result, ok := s.commands[id]
		if ok && !result.Hang {
			delete(s.commands, id)
		}
		s.mu.Unlock()
		if !ok {
			writeFault(w, "w:InvalidSelectors", 2150858843, "command not found")
			return
		}
		if result.Hang {
			writeFault(w, "w:TimedOut", 2150858793, "The WS-Management service cannot complete the operation within the time specified in OperationTimeout.")
			return
		}
		writeEnvelope(w, `<rsp:ReceiveResponse>`+
			stream("stdout", id, result.Stdout)+
			stream("stderr", id, result.Stderr)+
			`<rsp:CommandState CommandId="`+id+`" State="http://schemas.microsoft.com/wbem/wsman/1/windows/shell/CommandState/Done">`+
			`<rsp:ExitCode>`+strconv.Itoa(result.ExitCode)+`</rsp:ExitCode></rsp:CommandState>`+
			`</rsp:ReceiveResponse>`)
	case "Signal":
		s.mu.Lock()
		s.signals = append(s.signals, req.Body.Signal.Code)
		delete(s.commands, req.Body.Signal.CommandID)
		s.mu.Unlock()
		writeEnvelope(w, `<rsp:SignalResponse/>`)
	case "Delete":
		s.mu.Lock()
		delete(s.shells, req.shellID())
		s.mu.Unlock()
		writeEnvelope(w, ``)
	default:
		writeFault(w, "w:ActionNotSupported", 2150858754, "unsupported action "+action)
	}
}

func stream(name, id, content string) string {
	if content == "" {
		return `<rsp:Stream Name="` + name + `" CommandId="` + id + `" End="true"></rsp:Stream>`
	}
	return `<rsp:Stream Name="` + name + `" CommandId="` + id + `">` +
		base64.StdEncoding.EncodeToString([]byte(content)) + `</rsp:Stream>`
}

func writeEnvelope(w http.ResponseWriter, body string) {
	_, _ = io.WriteString(w, `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" `+
		`xmlns:a="http://schemas.xmlsoap.org/ws/2004/08/addressing" `+
		`xmlns:w="http://schemas.dmtf.org/wbem/wsman/1/wsman.xsd" `+
		`xmlns:x="http://schemas.xmlsoap.org/ws/2004/09/transfer" `+
		`xmlns:rsp="http://schemas.microsoft.com/wbem/wsman/1/windows/shell">`+
		`<s:Header/><s:Body>`+body+`</s:Body></s:Envelope>`)
}

func writeFault(w http.ResponseWriter, subcode string, code int, reason string) {
	w.WriteHeader(http.StatusInternalServerError)
	writeEnvelope(w, `<s:Fault><s:Code><s:Value>s:Receiver</s:Value>`+
		`<s:Subcode><s:Value>`+subcode+`</s:Value></s:Subcode></s:Code>`+
		`<s:Reason><s:Text xml:lang="en-US">`+reason+`</s:Text></s:Reason>`+
		`<s:Detail><f:WSManFault xmlns:f="http://schemas.microsoft.com/wbem/wsman/1/wsmanfault" Code="`+
		strconv.Itoa(code)+`" Machine="winrmtest"><f:Message>`+reason+`</f:Message></f:WSManFault></s:Detail>`+
		`</s:Fault>`)
}

// decodeScript extracts the script passed with -EncodedCommand.
func decodeScript(args []string) string {
	var fields []string
	for _, a := range args {
		fields = append(fields, strings.Fields(a)...)
	}
	for i, f := range fields {
		if strings.EqualFold(f, "-EncodedCommand") && i+1 < len(fields) {
			return DecodeUTF16Base64(fields[i+1])
		}
	}
	return ""
}

// DecodeUTF16Base64 decodes a base64 UTF-16LE string as produced for
// powershell.exe -EncodedCommand. Invalid input decodes to "".
func DecodeUTF16Base64(encoded string) string {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw)%2 != 0 {
		return ""
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return string(utf16.Decode(units))
}
