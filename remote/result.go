package remote

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Result is the outcome of one remote invocation.
//
// ExitCode, Stdout and Stderr are what the remote interpreter produced.
// Err is nil whenever the command ran, whatever its exit code; otherwise
// it wraps one of the package sentinels and ExitCode is 1 with a
// description in Stderr.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// OK reports whether the command ran and exited 0.
func (r *Result) OK() bool {
	return r != nil && r.Err == nil && r.ExitCode == 0
}

// failure builds the synthetic result for a call that did not run.
func failure(err error) *Result {
	return &Result{ExitCode: 1, Stderr: err.Error(), Err: err}
}

// NotConnected is the result of an operation attempted without a target.
func NotConnected() *Result {
	return failure(fmt.Errorf("%w: no active connection", ErrNotConnected))
}

// normalizeOutput converts raw interpreter output to a string with LF
// line endings.
func normalizeOutput(b []byte) string {
	return strings.ReplaceAll(string(b), "\r\n", "\n")
}

const clixmlHeader = "#< CLIXML"

// decodeCLIXML extracts the error stream from PowerShell's serialized
// stderr. Input that is not CLIXML is returned unchanged.
func decodeCLIXML(s string) string {
	trimmed := strings.TrimLeft(s, "\r\n ")
	if !strings.HasPrefix(trimmed, clixmlHeader) {
		return s
	}
	body := strings.TrimPrefix(trimmed, clixmlHeader)

	var out strings.Builder
	dec := xml.NewDecoder(strings.NewReader(body))
	inError := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Malformed CLIXML: keep the raw text rather than lose it.
			return s
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inError = false
			if t.Name.Local == "S" {
				for _, attr := range t.Attr {
					if attr.Name.Local == "S" && attr.Value == "Error" {
						inError = true
					}
				}
			}
		case xml.EndElement:
			inError = false
		case xml.CharData:
			if inError {
				out.WriteString(unescapeCLIXML(string(t)))
			}
		}
	}
	return strings.ReplaceAll(out.String(), "\r\n", "\n")
}

var clixmlEscape = regexp.MustCompile(`_x([0-9A-Fa-f]{4})_`)

// unescapeCLIXML decodes the _xHHHH_ character escapes used in CLIXML strings.
func unescapeCLIXML(s string) string {
	return clixmlEscape.ReplaceAllStringFunc(s, func(m string) string {
		n, err := strconv.ParseUint(m[2:6], 16, 16)
		if err != nil {
			return m
		}
		return string(rune(n))
	})
}

// MaskSecret replaces every occurrence of secret in s with asterisks.
func MaskSecret(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "********")
}
