package remote

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// MaxCommandLine is the longest command line CreateProcess accepts.
const MaxCommandLine = 32767

// MaxShellCommandLine is the longest command line a WinRS cmd shell
// accepts.
const MaxShellCommandLine = 8191

// CommandLineLimiter is implemented by runners whose command line is
// shorter than MaxCommandLine.
type CommandLineLimiter interface {
	MaxCommandLine() int
}

// CommandLimit returns the command-line limit that applies to r.
func CommandLimit(r Runner) int {
	if l, ok := r.(CommandLineLimiter); ok {
		if n := l.MaxCommandLine(); n > 0 {
			return n
		}
	}
	return MaxCommandLine
}

// PowerShellExe is the interpreter started on the target.
const PowerShellExe = "powershell.exe"

// powerShellArgs precede the encoded command.
var powerShellArgs = []string{"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-EncodedCommand"}

// PayloadVar is the variable the request payload is bound to in the script.
const PayloadVar = "payload"

var paramName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Request is one remote invocation. Script is PowerShell source; Payload
// and Params carry data into it. Data is never spliced into Script text:
// it is base64-encoded and bound to variables by a generated prelude.
type Request struct {
	// Script is the PowerShell source to run.
	Script string

	// Payload is bound to $payload as a byte[] when non-nil.
	Payload []byte

	// Params are bound to $<name> as strings.
	Params map[string]string
}

// Render returns the full script: a variable-binding prelude followed by Script.
func (r Request) Render() (string, error) {
	var b strings.Builder

	if r.Payload != nil {
		fmt.Fprintf(&b, "$%s = [System.Convert]::FromBase64String('%s')\n",
			PayloadVar, base64.StdEncoding.EncodeToString(r.Payload))
	}

	names := make([]string, 0, len(r.Params))
	for name := range r.Params {
		if !paramName.MatchString(name) || strings.EqualFold(name, PayloadVar) {
			return "", fmt.Errorf("remote: invalid parameter name %q", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "$%s = [System.Text.Encoding]::UTF8.GetString([System.Convert]::FromBase64String('%s'))\n",
			name, base64.StdEncoding.EncodeToString([]byte(r.Params[name])))
	}

	b.WriteString(r.Script)
	return b.String(), nil
}

// EncodedCommand renders the request and encodes it as base64 UTF-16LE,
// the form powershell.exe accepts for -EncodedCommand.
func (r Request) EncodedCommand() (string, error) {
	script, err := r.Render()
	if err != nil {
		return "", err
	}
	return EncodeCommand(script)
}

// CommandLine returns the executable and arguments that run the request.
// It fails with ErrPayloadTooLarge when the command line would exceed
// MaxCommandLine.
func (r Request) CommandLine() (string, []string, error) {
	return r.CommandLineWithin(MaxCommandLine)
}

// CommandLineWithin is CommandLine with an explicit limit.
func (r Request) CommandLineWithin(limit int) (string, []string, error) {
	encoded, err := r.EncodedCommand()
	if err != nil {
		return "", nil, err
	}
	args := append(append([]string(nil), powerShellArgs...), encoded)
	if n := commandLineLength(PowerShellExe, args); n > limit {
		return "", nil, fmt.Errorf("%w: %d characters, limit %d", ErrPayloadTooLarge, n, limit)
	}
	return PowerShellExe, args, nil
}

// EncodeCommand encodes a script for powershell.exe -EncodedCommand.
func EncodeCommand(script string) (string, error) {
	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().String(script)
	if err != nil {
		return "", fmt.Errorf("remote: encode script: %w", err)
	}
	return base64.StdEncoding.EncodeToString([]byte(utf16)), nil
}

// DecodeCommand reverses EncodeCommand.
func DecodeCommand(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("remote: decode command: %w", err)
	}
	script, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().String(string(raw))
	if err != nil {
		return "", fmt.Errorf("remote: decode command: %w", err)
	}
	return script, nil
}

func commandLineLength(exe string, args []string) int {
	n := len(exe)
	for _, a := range args {
		n += 1 + len(a)
	}
	return n
}
